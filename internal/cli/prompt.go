package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/disintegration/imaging"
	"golang.org/x/term"

	"melon-ticket/internal/captcha"
)

// previewWidth is the width of the text rendering of a captcha, in cells.
const previewWidth = 64

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#88C0D0"))
	previewStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#3B4252")).Padding(0, 1)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#818999"))
)

type promptModel struct {
	input   textinput.Model
	preview string
	path    string

	answer string
	ok     bool
	done   bool
}

func newPromptModel(preview, path string) promptModel {
	ti := textinput.New()
	ti.Placeholder = "characters in the picture"
	ti.CharLimit = 16
	ti.Prompt = "› "
	ti.Focus()
	return promptModel{input: ti, preview: preview, path: path}
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.answer = strings.TrimSpace(m.input.Value())
			m.ok = m.answer != ""
			m.done = true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Captcha required") + "\n")
	if m.preview != "" {
		b.WriteString(previewStyle.Render(strings.TrimRight(m.preview, "\n")) + "\n")
	}
	if m.path != "" {
		b.WriteString(hintStyle.Render("image saved to "+m.path) + "\n")
	}
	b.WriteString(m.input.View() + "\n")
	b.WriteString(hintStyle.Render("enter to submit, esc to skip") + "\n")
	return b.String()
}

// preview draws the binarized captcha with half blocks, two pixel rows per
// line.
func preview(data []byte, width int) string {
	img, err := captcha.Decode(data)
	if err != nil {
		return ""
	}
	small := imaging.Resize(captcha.Binarize(img), width, 0, imaging.Box)
	bounds := small.Bounds()
	on := func(x, y int) bool {
		return y < bounds.Max.Y && small.NRGBAAt(x, y).R > captcha.Threshold
	}

	var b strings.Builder
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 2 {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			top, bottom := on(x, y), on(x, y+1)
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func imageExt(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// saveImage writes the captcha where an image viewer can open it.
func saveImage(data []byte) (string, error) {
	f, err := os.CreateTemp("", "melon-captcha-*"+imageExt(data))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// terminalPrompt answers captcha requests on the controlling terminal.
// Log output is held back while the prompt is on screen.
type terminalPrompt struct {
	in  *os.File
	out *printer
}

func (p *terminalPrompt) interactive() bool {
	return term.IsTerminal(int(p.in.Fd()))
}

func (p *terminalPrompt) ask(req *captcha.Request) {
	if !p.interactive() {
		p.out.line("level=WARN msg=\"captcha needs an answer but stdin is not a terminal\"")
		req.Cancel()
		return
	}

	path, err := saveImage(req.Image)
	if err != nil {
		p.out.line(fmt.Sprintf("level=WARN msg=\"saving captcha image\" error=%q", err))
	} else {
		defer os.Remove(path)
	}

	p.out.hold()
	defer p.out.release()

	prog := tea.NewProgram(newPromptModel(preview(req.Image, previewWidth), path),
		tea.WithInput(p.in), tea.WithOutput(p.out.w))
	final, err := prog.Run()
	if err != nil {
		req.Cancel()
		return
	}
	m := final.(promptModel)
	if !m.ok {
		req.Cancel()
		return
	}
	req.Answer(m.answer)
}
