package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"melon-ticket/internal/browser"
	"melon-ticket/internal/captcha"
	"melon-ticket/internal/config"
)

func testConfig(mode captcha.Mode) config.Config {
	cfg := config.Default()
	cfg.BrowserType = browser.Chrome
	cfg.Username = "fan@example.com"
	cfg.Password = "pw"
	cfg.ProdID = "210544"
	cfg.CaptchaMode = mode
	return cfg
}

// newTestCoordinator opens sessions on the given fakes in order, the last
// one repeating.
func newTestCoordinator(t *testing.T, fakes ...*fakeBrowser) (*Coordinator, *int) {
	t.Helper()
	c := NewCoordinator()
	var mu sync.Mutex
	opens := 0
	c.open = func(ctx context.Context, cfg SessionConfig, l *slog.Logger) (*Session, error) {
		mu.Lock()
		defer mu.Unlock()
		f := fakes[min(opens, len(fakes)-1)]
		opens++
		return NewSession(f, l), nil
	}
	c.sleep = (&fakeSleep{}).sleep
	t.Cleanup(func() { c.Close() })
	return c, &opens
}

func waitEvent[T Event](t *testing.T, c *Coordinator) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if e, ok := ev.(T); ok {
				return e
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T within 5s", zero)
			return zero
		}
	}
}

func TestCoordinator_PreLoginSessionIsHandedToRun(t *testing.T) {
	f := newFakeBrowser().bookable()
	c, opens := newTestCoordinator(t, f)

	res := c.PreLogin(context.Background(), SessionConfigFor(testConfig(captcha.Auto)))
	if _, ok := res.(PreLoginSuccess); !ok {
		t.Fatalf("PreLogin = %#v, want success", res)
	}
	if ev := waitEvent[PreLoginEvent](t, c); ev.Result != res {
		t.Fatalf("PreLoginEvent = %#v, want %#v", ev.Result, res)
	}
	if !c.LoggedIn() {
		t.Fatal("session not kept after pre-login")
	}

	if err := c.Start(testConfig(captcha.Auto)); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if c.LoggedIn() {
		t.Fatal("coordinator still holds the session after Start")
	}
	done := waitEvent[DoneEvent](t, c)
	if done.Result.State != StateSucceeded {
		t.Fatalf("run ended %v (%v), want succeeded", done.Result.State, done.Result.Err)
	}
	if *opens != 1 {
		t.Fatalf("browser opened %d times, want 1", *opens)
	}
	if got := f.count("navigate " + LoginURL); got != 1 {
		t.Fatalf("logged in %d times, want 1", got)
	}
	if f.closeCount() != 0 {
		t.Fatal("browser closed after a successful booking")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if f.closeCount() != 1 {
		t.Fatalf("browser closed %d times by Close, want 1", f.closeCount())
	}
}

func TestCoordinator_PreLoginFailureClosesBrowser(t *testing.T) {
	f := newFakeBrowser().bookable()
	f.loginOK = false
	c, _ := newTestCoordinator(t, f)

	res := c.PreLogin(context.Background(), SessionConfigFor(testConfig(captcha.Auto)))
	fail, ok := res.(PreLoginFailure)
	if !ok || !errors.Is(fail.Err, ErrLogin) {
		t.Fatalf("PreLogin = %#v, want failure with ErrLogin", res)
	}
	if c.LoggedIn() {
		t.Fatal("failed session kept")
	}
	if f.closeCount() != 1 {
		t.Fatalf("browser closed %d times, want 1", f.closeCount())
	}
}

func TestCoordinator_SecondPreLoginReplacesFirst(t *testing.T) {
	first := newFakeBrowser().bookable()
	second := newFakeBrowser().bookable()
	c, _ := newTestCoordinator(t, first, second)
	cfg := SessionConfigFor(testConfig(captcha.Auto))

	c.PreLogin(context.Background(), cfg)
	c.PreLogin(context.Background(), cfg)
	if first.closeCount() != 1 {
		t.Fatalf("first session closed %d times, want 1", first.closeCount())
	}
	if second.closeCount() != 0 {
		t.Fatal("second session closed")
	}
}

func TestCoordinator_StartWhileRunning(t *testing.T) {
	f := newFakeBrowser().bookable()
	f.waits[availabilityButton] = sequence(false)
	c, _ := newTestCoordinator(t, f)
	c.sleep = sleepContext

	if err := c.Start(testConfig(captcha.Auto)); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := c.Start(testConfig(captcha.Auto)); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if res := c.PreLogin(context.Background(), SessionConfigFor(testConfig(captcha.Auto))); res == nil {
		t.Fatal("PreLogin returned nil")
	} else if fail, ok := res.(PreLoginFailure); !ok || !errors.Is(fail.Err, ErrAlreadyRunning) {
		t.Fatalf("PreLogin while running = %#v, want ErrAlreadyRunning", res)
	}

	c.Stop()
	if c.Running() {
		t.Fatal("still running after Stop")
	}
	if done := waitEvent[DoneEvent](t, c); done.Result.State != StateCancelled {
		t.Fatalf("run ended %v, want cancelled", done.Result.State)
	}
	if f.closeCount() != 1 {
		t.Fatalf("browser closed %d times after stop, want 1", f.closeCount())
	}
}

func TestCoordinator_StartAfterClose(t *testing.T) {
	c, opens := newTestCoordinator(t, newFakeBrowser().bookable())
	if err := c.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	err := c.Start(testConfig(captcha.Auto))
	if !errors.Is(err, ErrClosed) || errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Start after Close = %v, want ErrClosed", err)
	}
	if *opens != 0 {
		t.Fatalf("%d browsers opened after Close", *opens)
	}
}

func TestCoordinator_StartRejectsInvalidConfig(t *testing.T) {
	c, _ := newTestCoordinator(t, newFakeBrowser())
	cfg := testConfig(captcha.Auto)
	cfg.ProdID = ""
	if err := c.Start(cfg); err == nil {
		t.Fatal("Start accepted a config without a performance id")
	}
	if c.Running() {
		t.Fatal("running after a rejected Start")
	}
}

func TestCoordinator_StopWaitsForCaptchaPrompt(t *testing.T) {
	f := newFakeBrowser().bookable()
	c, _ := newTestCoordinator(t, f)

	if err := c.Start(testConfig(captcha.Manual)); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	var req *captcha.Request
	select {
	case req = <-c.Exchange().Requests():
	case <-time.After(5 * time.Second):
		t.Fatal("no captcha request")
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a captcha prompt was open")
	case <-time.After(50 * time.Millisecond):
	}

	req.Answer("AB12")
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the prompt was answered")
	}
	if c.Running() {
		t.Fatal("still running after Stop")
	}
	waitEvent[DoneEvent](t, c)
}

func TestCoordinator_StatusEvents(t *testing.T) {
	f := newFakeBrowser().bookable()
	c, _ := newTestCoordinator(t, f)

	if err := c.Start(testConfig(captcha.Auto)); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if ev := waitEvent[StatusEvent](t, c); ev.State != StateLoggingIn {
		t.Fatalf("first status = %v, want logging in", ev.State)
	}
	waitEvent[DoneEvent](t, c)
}
