package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"melon-ticket/internal/browser"
	"melon-ticket/internal/captcha"
	"melon-ticket/internal/logging"
)

const testCaptchaURI = "data:image/png;base64,iVBORw0KGgo="

// fakeBrowser is a scripted browser.Browser. Selectors not listed in
// present time out when waited for.
type fakeBrowser struct {
	mu sync.Mutex

	present   map[string]int
	waits     map[string]func() (int, error)
	attrs     map[string]string
	texts     map[string]string
	disabled  map[string]bool
	clickErr  map[string]error
	scriptErr map[string]error
	execErr   error
	loginOK   bool
	newWindow bool
	reloadErr error

	calls    []string
	location string
	closed   int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		present: map[string]int{
			emailInput:    1,
			passwordInput: 1,
			loginButton:   1,
		},
		waits:     map[string]func() (int, error){},
		attrs:     map[string]string{},
		texts:     map[string]string{},
		disabled:  map[string]bool{},
		clickErr:  map[string]error{},
		scriptErr: map[string]error{},
		loginOK:   true,
	}
}

// bookable sets up a page where every booking step succeeds.
func (f *fakeBrowser) bookable() *fakeBrowser {
	f.present[availabilityButton] = 1
	f.present[dateItems] = 3
	f.present[timeItems] = 2
	f.present[reserveButton] = 1
	f.present[captchaImage] = 1
	f.present[captchaInput] = 1
	f.present[completeButton] = 1
	f.attrs[availabilityButton+"/class"] = "button btColorGreen reservationBtn"
	f.attrs[reserveButton+"/class"] = "button btColorGreen reservationBtn"
	f.attrs[captchaImage+"/src"] = testCaptchaURI
	f.newWindow = true
	return f
}

func (f *fakeBrowser) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// count returns how many recorded calls start with prefix.
func (f *fakeBrowser) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeBrowser) has(prefix string) bool {
	return f.count(prefix) > 0
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate %s", url)
	f.location = url
	return ctx.Err()
}

func (f *fakeBrowser) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reload")
	return f.reloadErr
}

func (f *fakeBrowser) Location(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location, nil
}

func (f *fakeBrowser) WaitPresent(ctx context.Context, selector string, timeout time.Duration) (int, error) {
	f.mu.Lock()
	f.record("wait %s", selector)
	wait := f.waits[selector]
	n := f.present[selector]
	f.mu.Unlock()

	if wait != nil {
		return wait()
	}
	if n == 0 {
		return 0, fmt.Errorf("wait for %s: %w", selector, browser.ErrTimeout)
	}
	return n, nil
}

func (f *fakeBrowser) WaitLocation(ctx context.Context, match func(string) bool, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("waitlocation")
	if f.loginOK && strings.HasPrefix(f.location, LoginURL) {
		f.location = BaseURL + "/main/index.htm?langCd=EN"
	}
	if !match(f.location) {
		return fmt.Errorf("at %s: %w", f.location, browser.ErrTimeout)
	}
	return nil
}

func (f *fakeBrowser) element(selector string, index int) error {
	if index < 0 || index >= f.present[selector] {
		return fmt.Errorf("%s[%d]: %w", selector, index, browser.ErrNotFound)
	}
	return nil
}

func (f *fakeBrowser) Attribute(ctx context.Context, selector string, index int, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("attr %s %s", selector, name)
	if err := f.element(selector, index); err != nil {
		return "", err
	}
	return f.attrs[selector+"/"+name], nil
}

func (f *fakeBrowser) Text(ctx context.Context, selector string, index int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[selector], nil
}

func (f *fakeBrowser) Enabled(ctx context.Context, selector string, index int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.element(selector, index); err != nil {
		return false, err
	}
	return !f.disabled[selector], nil
}

func (f *fakeBrowser) SetValue(ctx context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set %s %s", selector, value)
	return nil
}

func (f *fakeBrowser) Click(ctx context.Context, selector string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("click %s %d", selector, index)
	if err := f.clickErr[selector]; err != nil {
		return err
	}
	return f.element(selector, index)
}

func (f *fakeBrowser) ClickScript(ctx context.Context, selector string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("script %s %d", selector, index)
	if err := f.scriptErr[selector]; err != nil {
		return err
	}
	return f.element(selector, index)
}

func (f *fakeBrowser) Exec(ctx context.Context, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exec %s", script)
	return f.execErr
}

func (f *fakeBrowser) ImageData(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("imagedata %s", selector)
	return testCaptchaURI, nil
}

func (f *fakeBrowser) SwitchToNewWindow(ctx context.Context, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("switch")
	return f.newWindow, nil
}

func (f *fakeBrowser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeBrowser) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeSolver answers every captcha with text.
type fakeSolver struct {
	mu    sync.Mutex
	text  string
	seen  []captcha.Image
	calls int
}

func (s *fakeSolver) Resolve(ctx context.Context, img captcha.Image) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.seen = append(s.seen, img)
	return s.text
}

// fakeSleep records requested pauses and returns at once. When cancel is
// set it is called on the cancelAfter-th pause of length cancelOn.
type fakeSleep struct {
	mu          sync.Mutex
	durations   []time.Duration
	cancelOn    time.Duration
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.durations = append(s.durations, d)
	if s.cancel != nil && d == s.cancelOn {
		s.cancelAfter--
		if s.cancelAfter == 0 {
			s.cancel()
		}
	}
	s.mu.Unlock()
	return ctx.Err()
}

func (s *fakeSleep) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, x := range s.durations {
		if x == d {
			n++
		}
	}
	return n
}

// logLines collects log output so tests can assert on it.
type logLines struct {
	mu    sync.Mutex
	lines []string
}

func (l *logLines) logger() *slog.Logger {
	level := slog.LevelDebug
	return logging.ToSink(func(line string) {
		l.mu.Lock()
		l.lines = append(l.lines, line)
		l.mu.Unlock()
	}, logging.Options{Level: &level, OmitTime: true})
}

func (l *logLines) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func newTestSession(t *testing.T, f *fakeBrowser, logs *logLines) *Session {
	t.Helper()
	var logger *slog.Logger
	if logs != nil {
		logger = logs.logger()
	}
	s := NewSession(f, logger)
	s.pause = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}
