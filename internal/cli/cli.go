package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"melon-ticket/internal/captcha"
	"melon-ticket/internal/config"
	"melon-ticket/internal/services"
)

// Options control a terminal run.
type Options struct {
	ConfigPath  string
	HistoryPath string
	PreLogin    bool
	Headless    bool
}

// coordinator is the part of services.Coordinator a run uses.
type coordinator interface {
	Events() <-chan services.Event
	Exchange() *captcha.Exchange
	PreLogin(context.Context, services.SessionConfig) services.PreLoginResult
	Start(config.Config) error
	Stop()
	Close() error
}

// Run books one ticket with the settings in opts.ConfigPath. It returns
// when the run fails or is cancelled through ctx. After a successful
// booking the browser stays open until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	config.ApplyEnv(&cfg)
	if opts.Headless {
		cfg.Headless = true
	}

	coord := services.NewCoordinator()
	coord.History = services.NewHistory(opts.HistoryPath)
	out := newPrinter(os.Stderr)
	prompt := &terminalPrompt{in: os.Stdin, out: out}
	return run(ctx, cfg, opts.PreLogin, coord, out, prompt.ask)
}

func run(ctx context.Context, cfg config.Config, preLogin bool, coord coordinator, out *printer, ask func(*captcha.Request)) (err error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	pumpCtx, stopPumps := context.WithCancel(context.Background())
	done := make(chan services.Result, 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pumpEvents(pumpCtx, coord.Events(), out, done)
	}()
	go func() {
		defer wg.Done()
		answerCaptchas(pumpCtx, coord.Exchange().Requests(), ask)
	}()
	defer func() {
		if cerr := coord.Close(); cerr != nil {
			out.line("closing browsers: " + cerr.Error())
		}
		stopPumps()
		wg.Wait()
	}()

	if preLogin {
		res := coord.PreLogin(ctx, services.SessionConfigFor(cfg))
		if fail, ok := res.(services.PreLoginFailure); ok {
			return fmt.Errorf("pre-login: %w", fail.Err)
		}
	}

	if err := coord.Start(cfg); err != nil {
		return err
	}

	var res services.Result
	select {
	case res = <-done:
	case <-ctx.Done():
		coord.Stop()
		res = <-done
	}

	switch res.State {
	case services.StateSucceeded:
		out.line(successStyle(out).Render("booking " + res.Outcome.String() + ", finish payment in the browser. Press Ctrl+C to close it."))
		<-ctx.Done()
		return nil
	case services.StateCancelled:
		return nil
	default:
		if res.Err != nil {
			return res.Err
		}
		return errors.New("run failed")
	}
}

func pumpEvents(ctx context.Context, events <-chan services.Event, out *printer, done chan<- services.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch e := ev.(type) {
			case services.LogEvent:
				out.line(e.Line)
			case services.StatusEvent:
				out.line(fmt.Sprintf("state=%s", e.State))
			case services.DoneEvent:
				select {
				case done <- e.Result:
				default:
				}
			}
		}
	}
}

func answerCaptchas(ctx context.Context, requests <-chan *captcha.Request, ask func(*captcha.Request)) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			ask(req)
		}
	}
}

// printer writes log lines, coloring them by level. Lines written while
// it is held are queued until release.
type printer struct {
	w  io.Writer
	r  *lipgloss.Renderer
	mu sync.Mutex

	holding bool
	held    []string
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, r: lipgloss.NewRenderer(w)}
}

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.holding {
		p.held = append(p.held, s)
		return
	}
	fmt.Fprintln(p.w, p.style(s))
}

func (p *printer) style(s string) string {
	switch {
	case strings.Contains(s, "level=ERROR"):
		return p.r.NewStyle().Foreground(lipgloss.Color("#BF616A")).Render(s)
	case strings.Contains(s, "level=WARN"):
		return p.r.NewStyle().Foreground(lipgloss.Color("#EBCB8B")).Render(s)
	}
	return s
}

func (p *printer) hold() {
	p.mu.Lock()
	p.holding = true
	p.mu.Unlock()
}

func (p *printer) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holding = false
	for _, s := range p.held {
		fmt.Fprintln(p.w, p.style(s))
	}
	p.held = nil
}

func successStyle(p *printer) lipgloss.Style {
	return p.r.NewStyle().Bold(true).Foreground(lipgloss.Color("#A3BE8C"))
}
