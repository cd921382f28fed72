package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"melon-ticket/internal/browser"
	"melon-ticket/internal/captcha"
)

const (
	BaseURL        = "https://tkglobal.melon.com"
	LoginURL       = "https://gmember.melon.com/login/login_form.htm?langCd=EN&redirectUrl=" + BaseURL + "/main/index.htm?langCd=EN"
	PerformanceURL = BaseURL + "/performance/index.htm?langCd=EN&prodId="
)

const (
	loginTimeout        = 10 * time.Second
	availabilityTimeout = 5 * time.Second
	elementTimeout      = 10 * time.Second
	selectPause         = time.Second
	clickPause          = 2 * time.Second
	enabledPoll         = 500 * time.Millisecond
)

const (
	emailInput         = "#email"
	passwordInput      = "#pwd"
	loginButton        = "#formSubmit"
	availabilityButton = ".reservationBtn"
	reserveButton      = "button.reservationBtn"
	dateItems          = "li[data-perfday]"
	timeItems          = "li.item_time"
	timeLabels         = "li.item_time span.txt"
	captchaImage       = "#captchaImg"
	captchaInput       = "#label-for-captcha"
	completeButton     = "#btnComplete"
)

// SessionConfig is what is needed to open and authenticate a browser.
type SessionConfig struct {
	Browser  browser.Options
	Username string
	Password string
}

// CaptchaSolver answers a captcha challenge, returning "" when it cannot.
type CaptchaSolver interface {
	Resolve(ctx context.Context, img captcha.Image) string
}

// sleepFunc pauses for d or until ctx is done, returning ctx.Err() in the
// latter case.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session is one browser logged into the ticket site. It is owned by a
// single flow at a time; see Coordinator for how ownership moves.
type Session struct {
	b      browser.Browser
	log    *slog.Logger
	pause  sleepFunc
	prodID string

	mu       sync.Mutex
	resolver CaptchaSolver
	closed   bool
}

// Open launches a browser for cfg.
func Open(ctx context.Context, cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	b, err := browser.Open(ctx, cfg.Browser)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrowserInit, err)
	}
	return NewSession(b, logger), nil
}

// NewSession wraps an already open browser.
func NewSession(b browser.Browser, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{b: b, log: logger, pause: sleepContext}
}

// SetCaptchaSolver replaces the solver used by Book.
func (s *Session) SetCaptchaSolver(r CaptchaSolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver = r
}

// SetLogger redirects the session's log output, used when a pre-login
// session is handed to a run with its own log stream.
func (s *Session) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *Session) solver() CaptchaSolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver
}

// Login signs in and reports whether the site redirected back to the main
// domain. Failures are logged, never returned.
func (s *Session) Login(ctx context.Context, username, password string) bool {
	if err := s.login(ctx, username, password); err != nil {
		s.log.Error("login failed", "error", err)
		return false
	}
	s.log.Info("logged in", "user", username)
	return true
}

func (s *Session) login(ctx context.Context, username, password string) error {
	if err := s.b.Navigate(ctx, LoginURL); err != nil {
		return fmt.Errorf("%w: open login page: %w", ErrNavigation, err)
	}
	if _, err := s.b.WaitPresent(ctx, emailInput, loginTimeout); err != nil {
		return classify(err, "login form")
	}
	if err := s.b.SetValue(ctx, emailInput, username); err != nil {
		return classify(err, "username field")
	}
	if err := s.b.SetValue(ctx, passwordInput, password); err != nil {
		return classify(err, "password field")
	}
	if err := s.b.ClickScript(ctx, loginButton, 0); err != nil {
		return classify(err, "login button")
	}
	// The login URL carries the main site in its query string, so match on
	// the prefix rather than a substring.
	err := s.b.WaitLocation(ctx, func(url string) bool {
		return strings.HasPrefix(url, BaseURL)
	}, loginTimeout)
	if err != nil {
		return classify(err, "redirect after login")
	}
	return nil
}

// SelectPerformance opens the performance page. There is nothing on the
// page to confirm, so it is true unless navigation itself fails.
func (s *Session) SelectPerformance(ctx context.Context, prodID string) bool {
	s.prodID = prodID
	url := PerformanceURL + prodID
	s.log.Info("opening performance page", "url", url)
	if err := s.b.Navigate(ctx, url); err != nil {
		s.log.Error("performance page failed", "error", fmt.Errorf("%w: %w", ErrNavigation, err))
		return false
	}
	return true
}

// Refresh reloads the current page.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.b.Reload(ctx); err != nil {
		return fmt.Errorf("%w: reload: %w", ErrNavigation, err)
	}
	return nil
}

// HasAvailableTicket reports whether the booking button is present and
// enabled. A missing button and a broken page both read as no ticket.
func (s *Session) HasAvailableTicket(ctx context.Context) bool {
	ok, err := s.checkAvailability(ctx)
	if err != nil {
		s.log.Warn("availability check failed", "error", err)
		return false
	}
	return ok
}

// checkAvailability is HasAvailableTicket for the control loop: a button
// that is missing or slow to appear is (false, nil), any other failure is
// returned so it counts against the retry budget.
func (s *Session) checkAvailability(ctx context.Context) (bool, error) {
	if _, err := s.b.WaitPresent(ctx, availabilityButton, availabilityTimeout); err != nil {
		err = classify(err, "booking button")
		if missing(err) {
			s.log.Debug("booking button not found", "error", err)
			return false, nil
		}
		return false, err
	}

	class, err := s.b.Attribute(ctx, availabilityButton, 0, "class")
	if err != nil {
		return false, ignoreMissing(classify(err, "booking button"))
	}
	if strings.Contains(class, "disabled") {
		s.log.Debug("booking button disabled")
		return false, nil
	}
	enabled, err := s.b.Enabled(ctx, availabilityButton, 0)
	if err != nil {
		return false, ignoreMissing(classify(err, "booking button"))
	}
	return enabled, nil
}

func ignoreMissing(err error) error {
	if missing(err) {
		return nil
	}
	return err
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.b.Close()
}
