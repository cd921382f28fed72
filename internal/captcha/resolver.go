package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
)

var ErrResolution = errors.New("captcha resolution failed")

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

// Prompter asks a person to read a captcha. ok is false when the person
// cancelled or nobody is available to ask.
type Prompter interface {
	Prompt(ctx context.Context, image []byte) (text string, ok bool)
}

// Resolver answers captcha challenges in the configured mode.
type Resolver struct {
	Mode     Mode
	Engine   Engine
	Prompter Prompter
	Logger   *slog.Logger
}

// Resolve never fails: a challenge that cannot be answered yields "" and
// the caller submits that.
func (r *Resolver) Resolve(ctx context.Context, img Image) string {
	var (
		text string
		err  error
	)
	if r.Mode == Auto {
		text, err = r.recognize(img)
	} else {
		text, err = r.ask(ctx, img)
	}
	if err != nil {
		r.logger().Warn("captcha unresolved", "mode", string(r.Mode), "error", err)
		return ""
	}
	return text
}

func (r *Resolver) recognize(img Image) (string, error) {
	if r.Engine == nil {
		return "", fmt.Errorf("%w: no OCR engine", ErrResolution)
	}
	data, err := img.Bytes()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolution, err)
	}
	bin, err := Preprocess(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolution, err)
	}
	raw, err := r.Engine.Recognize(bin)
	if err != nil {
		return "", fmt.Errorf("%w: ocr: %v", ErrResolution, err)
	}
	return Clean(raw), nil
}

func (r *Resolver) ask(ctx context.Context, img Image) (string, error) {
	if r.Prompter == nil {
		return "", fmt.Errorf("%w: no prompt available", ErrResolution)
	}
	data, err := img.Bytes()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolution, err)
	}
	text, ok := r.Prompter.Prompt(ctx, data)
	if !ok {
		return "", fmt.Errorf("%w: prompt cancelled", ErrResolution)
	}
	return text, nil
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Clean strips everything but ASCII letters and digits.
func Clean(s string) string {
	return nonAlnum.ReplaceAllString(s, "")
}
