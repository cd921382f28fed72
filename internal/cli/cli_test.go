package cli

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"melon-ticket/internal/browser"
	"melon-ticket/internal/captcha"
	"melon-ticket/internal/config"
	"melon-ticket/internal/services"
)

// fakeCoordinator ends every run with result, or holds it until Stop when
// block is set.
type fakeCoordinator struct {
	events   chan services.Event
	exchange *captcha.Exchange
	result   services.Result
	block    bool
	preLogin services.PreLoginResult

	mu       sync.Mutex
	started  int
	stopped  chan struct{}
	closed   bool
	gotLogin bool
}

func newFakeCoordinator(result services.Result) *fakeCoordinator {
	return &fakeCoordinator{
		events:   make(chan services.Event, 16),
		exchange: captcha.NewExchange(),
		result:   result,
		stopped:  make(chan struct{}),
		preLogin: services.PreLoginSuccess{},
	}
}

func (f *fakeCoordinator) Events() <-chan services.Event { return f.events }
func (f *fakeCoordinator) Exchange() *captcha.Exchange   { return f.exchange }

func (f *fakeCoordinator) PreLogin(context.Context, services.SessionConfig) services.PreLoginResult {
	f.mu.Lock()
	f.gotLogin = true
	f.mu.Unlock()
	return f.preLogin
}

func (f *fakeCoordinator) Start(config.Config) error {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	go func() {
		f.events <- services.LogEvent{Line: `level=INFO msg="polling"`}
		f.events <- services.StatusEvent{State: services.StatePolling}
		if f.block {
			<-f.stopped
			f.events <- services.DoneEvent{Result: services.Result{State: services.StateCancelled, Err: context.Canceled}}
			return
		}
		f.events <- services.DoneEvent{Result: f.result}
	}()
	return nil
}

func (f *fakeCoordinator) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.stopped:
	default:
		close(f.stopped)
	}
}

func (f *fakeCoordinator) Close() error {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.BrowserType = browser.Chrome
	cfg.ProdID = "210544"
	return cfg
}

func noPrompt(t *testing.T) func(*captcha.Request) {
	return func(req *captcha.Request) {
		t.Error("unexpected captcha prompt")
		req.Cancel()
	}
}

func TestRun_FailedRunReturnsError(t *testing.T) {
	f := newFakeCoordinator(services.Result{State: services.StateFailed, Err: services.ErrLogin})
	var buf bytes.Buffer

	err := run(context.Background(), testConfig(), false, f, newPrinter(&buf), noPrompt(t))
	if !errors.Is(err, services.ErrLogin) {
		t.Fatalf("run = %v, want ErrLogin", err)
	}
	if !f.closed {
		t.Fatal("coordinator not closed")
	}
	if !strings.Contains(buf.String(), "state=polling") {
		t.Fatalf("output = %q, want the state change", buf.String())
	}
}

func TestRun_CancelStopsRun(t *testing.T) {
	f := newFakeCoordinator(services.Result{})
	f.block = true
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	if err := run(ctx, testConfig(), false, f, newPrinter(&bytes.Buffer{}), noPrompt(t)); err != nil {
		t.Fatalf("run = %v, want nil after cancellation", err)
	}
}

func TestRun_SuccessWaitsForCancel(t *testing.T) {
	f := newFakeCoordinator(services.Result{State: services.StateSucceeded, Outcome: services.BookingSubmitted})
	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	out := newPrinter(&buf)

	errc := make(chan error, 1)
	go func() { errc <- run(ctx, testConfig(), false, f, out, noPrompt(t)) }()

	select {
	case err := <-errc:
		t.Fatalf("run returned %v before cancellation", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("run = %v", err)
	}
	if !strings.Contains(buf.String(), "booking submitted") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestRun_PreLoginFailure(t *testing.T) {
	f := newFakeCoordinator(services.Result{})
	f.preLogin = services.PreLoginFailure{Err: services.ErrLogin}

	err := run(context.Background(), testConfig(), true, f, newPrinter(&bytes.Buffer{}), noPrompt(t))
	if !errors.Is(err, services.ErrLogin) {
		t.Fatalf("run = %v, want ErrLogin", err)
	}
	if f.started != 0 {
		t.Fatal("run started after a failed pre-login")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	f := newFakeCoordinator(services.Result{})
	cfg := testConfig()
	cfg.ProdID = " "
	if err := run(context.Background(), cfg, false, f, newPrinter(&bytes.Buffer{}), noPrompt(t)); err == nil {
		t.Fatal("run accepted a config without a performance id")
	}
	if f.started != 0 {
		t.Fatal("run started with an invalid config")
	}
}

func TestPrinter_HoldQueuesLines(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)

	p.hold()
	p.line("first")
	if buf.Len() != 0 {
		t.Fatalf("wrote %q while held", buf.String())
	}
	p.release()
	p.line("second")
	if buf.String() != "first\nsecond\n" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestPromptModel(t *testing.T) {
	tests := []struct {
		name   string
		keys   []tea.KeyMsg
		answer string
		ok     bool
	}{
		{
			name:   "submit",
			keys:   []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune("AB12")}, {Type: tea.KeyEnter}},
			answer: "AB12",
			ok:     true,
		},
		{
			name: "empty",
			keys: []tea.KeyMsg{{Type: tea.KeyEnter}},
		},
		{
			name: "escape",
			keys: []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune("AB")}, {Type: tea.KeyEsc}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m tea.Model = newPromptModel("", "")
			for _, k := range tt.keys {
				m, _ = m.Update(k)
			}
			got := m.(promptModel)
			if !got.done || got.ok != tt.ok || got.answer != tt.answer {
				t.Fatalf("model = done %v ok %v answer %q, want ok %v answer %q", got.done, got.ok, got.answer, tt.ok, tt.answer)
			}
			if got.View() != "" {
				t.Fatal("finished prompt still renders")
			}
		})
	}
}

func TestPreview(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x < 20 {
				c = color.NRGBA{A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	out := preview(buf.Bytes(), 8)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	if lines[0] != "████    " {
		t.Fatalf("first line = %q, want dark half filled", lines[0])
	}
	if preview([]byte("junk"), 8) != "" {
		t.Fatal("preview of an undecodable image is not empty")
	}
}

func TestImageExt(t *testing.T) {
	if got := imageExt([]byte("\xff\xd8\xff\xe0")); got != ".jpg" {
		t.Fatalf("jpeg ext = %q", got)
	}
	if got := imageExt([]byte("\x89PNG\r\n\x1a\n")); got != ".png" {
		t.Fatalf("png ext = %q", got)
	}
}
