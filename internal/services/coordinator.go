package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"melon-ticket/internal/browser"
	"melon-ticket/internal/captcha"
	"melon-ticket/internal/config"
	"melon-ticket/internal/logging"
)

// Event is something a run reports to the front end.
type Event interface {
	isEvent()
}

// LogEvent is one line of log output.
type LogEvent struct {
	Line string
}

// StatusEvent reports a state change of the current run.
type StatusEvent struct {
	State State
}

// DoneEvent is sent once when a run ends.
type DoneEvent struct {
	Result Result
}

// PreLoginEvent carries the result of a pre-login.
type PreLoginEvent struct {
	Result PreLoginResult
}

func (LogEvent) isEvent()      {}
func (StatusEvent) isEvent()   {}
func (DoneEvent) isEvent()     {}
func (PreLoginEvent) isEvent() {}

// PreLoginResult is either PreLoginSuccess or PreLoginFailure.
type PreLoginResult interface {
	isPreLoginResult()
}

// PreLoginSuccess holds a logged in session. Whoever receives it owns it.
type PreLoginSuccess struct {
	Session *Session
}

// PreLoginFailure holds why the login did not go through. The browser has
// already been closed.
type PreLoginFailure struct {
	Err error
}

func (PreLoginSuccess) isPreLoginResult() {}
func (PreLoginFailure) isPreLoginResult() {}

type openFunc func(context.Context, SessionConfig, *slog.Logger) (*Session, error)

// PreLogin opens a browser and logs in without starting a run.
func PreLogin(ctx context.Context, cfg SessionConfig, logger *slog.Logger) PreLoginResult {
	return preLogin(ctx, cfg, logger, Open)
}

func preLogin(ctx context.Context, cfg SessionConfig, logger *slog.Logger, open openFunc) PreLoginResult {
	logger.Info("pre-login started")
	s, err := open(ctx, cfg, logger)
	if err != nil {
		logger.Error("pre-login failed", "error", err)
		return PreLoginFailure{Err: err}
	}
	if !s.Login(ctx, cfg.Username, cfg.Password) {
		if err := s.Close(); err != nil {
			logger.Warn("closing browser", "error", err)
		}
		return PreLoginFailure{Err: ErrLogin}
	}
	logger.Info("pre-login succeeded")
	return PreLoginSuccess{Session: s}
}

// SessionConfigFor extracts the browser and credential settings of cfg.
func SessionConfigFor(cfg config.Config) SessionConfig {
	return SessionConfig{
		Browser: browser.Options{
			Kind:           cfg.BrowserType,
			ExecutablePath: cfg.BrowserPath,
			DriverPath:     cfg.DriverPath,
			Headless:       cfg.Headless,
		},
		Username: cfg.Username,
		Password: cfg.Password,
	}
}

// Coordinator runs at most one booking at a time and owns the session left
// behind by a pre-login until a run takes it over.
type Coordinator struct {
	// History, when set, records every successful booking.
	History *History

	log      *slog.Logger
	events   chan Event
	exchange *captcha.Exchange
	open     openFunc
	sleep    sleepFunc

	mu      sync.Mutex
	parked  *Session
	kept    []*Session
	cancel  context.CancelFunc
	done    chan struct{}
	closing bool
}

// NewCoordinator returns an idle coordinator. Its log output is delivered
// as LogEvents.
func NewCoordinator() *Coordinator {
	c := &Coordinator{
		events:   make(chan Event, 1024),
		exchange: captcha.NewExchange(),
		open:     Open,
		sleep:    sleepContext,
	}
	c.log = logging.ToSink(func(line string) {
		c.emit(LogEvent{Line: line})
	}, logging.Options{OmitTime: true})
	return c
}

// Events is the stream the front end reads. It must be drained.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Exchange is where manual captcha requests show up.
func (c *Coordinator) Exchange() *captcha.Exchange {
	return c.exchange
}

// Logger writes to the event stream.
func (c *Coordinator) Logger() *slog.Logger {
	return c.log
}

// emit never blocks on log lines, which are dropped when the buffer is
// full. Other events wait for room.
func (c *Coordinator) emit(ev Event) {
	if _, ok := ev.(LogEvent); ok {
		select {
		case c.events <- ev:
		default:
		}
		return
	}
	c.events <- ev
}

// Running reports whether a run is in progress.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// LoggedIn reports whether a pre-login session is waiting for a run.
func (c *Coordinator) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parked != nil
}

// PreLogin logs in and keeps the session for the next Start, closing any
// session kept by an earlier pre-login. It blocks until the login is done.
func (c *Coordinator) PreLogin(ctx context.Context, cfg SessionConfig) PreLoginResult {
	var res PreLoginResult
	if c.Running() {
		res = PreLoginFailure{Err: ErrAlreadyRunning}
	} else {
		res = preLogin(ctx, cfg, c.log, c.open)
	}

	if ok, isOK := res.(PreLoginSuccess); isOK {
		c.mu.Lock()
		old := c.parked
		c.parked = ok.Session
		c.mu.Unlock()
		if old != nil {
			if err := old.Close(); err != nil {
				c.log.Warn("closing previous session", "error", err)
			}
		}
	}
	c.emit(PreLoginEvent{Result: res})
	return res
}

// takeSession moves the parked session out of the coordinator. Callers
// hold c.mu.
func (c *Coordinator) takeSession() *Session {
	s := c.parked
	c.parked = nil
	return s
}

func (c *Coordinator) resolver(cfg config.Config) *captcha.Resolver {
	r := &captcha.Resolver{
		Mode:     cfg.CaptchaMode,
		Prompter: c.exchange,
		Logger:   c.log,
	}
	if cfg.OCRAPIKey != "" {
		r.Engine = captcha.NewOCRSpace(cfg.OCRAPIKey)
	} else {
		r.Engine = captcha.NewTesseract(cfg.TesseractPath)
	}
	return r
}

// Start launches a run for cfg in the background. A pre-login session, if
// any, is handed to it.
func (c *Coordinator) Start(cfg config.Config) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	startAt, _ := cfg.StartTime()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrClosed
	}
	if c.cancel != nil {
		return ErrAlreadyRunning
	}

	r := NewRunner(SessionConfigFor(cfg), TicketRequest{
		ProdID:    cfg.ProdID,
		DateIndex: cfg.DateIndex,
		TimeIndex: cfg.TimeIndex,
		Interval:  cfg.Interval(),
		StartAt:   startAt,
	})
	r.open = c.open
	r.sleep = c.sleep
	r.Logger = c.log
	r.History = c.History
	r.Solver = c.resolver(cfg)
	r.OnState = func(s State) { c.emit(StatusEvent{State: s}) }
	if s := c.takeSession(); s != nil {
		r.Adopt(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	go func() {
		res := r.Run(ctx)
		cancel()

		c.mu.Lock()
		c.cancel, c.done = nil, nil
		if res.Session != nil {
			c.kept = append(c.kept, res.Session)
		}
		c.mu.Unlock()
		close(done)
		c.emit(DoneEvent{Result: res})
	}()
	return nil
}

// Stop cancels the current run and waits for it to end. A captcha prompt
// that is already on screen is waited for first, so Stop must not be
// called from the goroutine that answers prompts.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	c.log.Info("stop requested")
	c.exchange.WhenIdle(cancel)
	<-done
}

// Close stops any run and shuts every browser the coordinator still owns,
// including those left open after a successful booking.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	c.Stop()
	c.exchange.Close()

	c.mu.Lock()
	sessions := append(c.kept, c.takeSession())
	c.kept = nil
	c.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
