package captcha

import "strings"

// Mode selects how a captcha challenge is answered.
type Mode string

const (
	Auto   Mode = "auto"
	Manual Mode = "manual"
)

const (
	autoLabel   = "Auto Recognize"
	manualLabel = "Manual Entry"
)

// ParseMode maps the stored form to a Mode. Anything other than "auto" is
// treated as manual.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(Auto)) {
		return Auto
	}
	return Manual
}

// Label is the form shown in the user interface.
func (m Mode) Label() string {
	if m == Auto {
		return autoLabel
	}
	return manualLabel
}

// ModeFromLabel is the inverse of Label.
func ModeFromLabel(label string) Mode {
	if label == autoLabel {
		return Auto
	}
	return Manual
}

// Labels lists the display forms in menu order.
func Labels() []string {
	return []string{manualLabel, autoLabel}
}
