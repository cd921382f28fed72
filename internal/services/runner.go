package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State is a step of a booking run.
type State int

const (
	StateIdle State = iota
	StateLoggingIn
	StateEnteringPerformance
	StatePolling
	StateBooking
	StateSucceeded
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoggingIn:
		return "logging in"
	case StateEnteringPerformance:
		return "entering performance"
	case StatePolling:
		return "polling"
	case StateBooking:
		return "booking"
	case StateSucceeded:
		return "succeeded"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether a run in state s has ended.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateCancelled || s == StateFailed
}

// MaxRetries is how many consecutive poll errors are tolerated before the
// performance page is opened again.
const MaxRetries = 3

// TicketRequest describes what to book.
type TicketRequest struct {
	ProdID    string
	DateIndex int
	TimeIndex int
	Interval  time.Duration
	// StartAt delays polling until this time when set.
	StartAt time.Time
}

// Result is how a run ended. Session is set only on success, where the
// browser is left open on the payment page and the caller owns it.
type Result struct {
	State   State
	Outcome BookingOutcome
	Err     error
	Session *Session
}

// Runner drives one booking run: login, open the performance page, poll
// until a ticket shows up and book it.
type Runner struct {
	Session SessionConfig
	Request TicketRequest
	Solver  CaptchaSolver
	Logger  *slog.Logger
	History *History
	// OnState is called on every state change, from the run goroutine.
	OnState func(State)

	open    func(context.Context, SessionConfig, *slog.Logger) (*Session, error)
	sleep   sleepFunc
	now     func() time.Time
	adopted *Session
}

// NewRunner returns a runner that opens its own browser unless a session
// is handed over with Adopt.
func NewRunner(cfg SessionConfig, req TicketRequest) *Runner {
	return &Runner{
		Session: cfg,
		Request: req,
		open:    Open,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Adopt hands an already logged in session to the runner, which then owns
// it and skips the login step.
func (r *Runner) Adopt(s *Session) {
	r.adopted = s
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) setState(s State) {
	r.logger().Debug("state", "state", s)
	if r.OnState != nil {
		r.OnState(s)
	}
}

// Run blocks until the run ends. Cancelling ctx stops it between steps.
func (r *Runner) Run(ctx context.Context) Result {
	log := r.logger()

	s := r.adopted
	r.adopted = nil
	if s != nil {
		s.SetLogger(log)
		log.Info("using pre-logged-in session")
	} else {
		r.setState(StateLoggingIn)
		var err error
		s, err = r.open(ctx, r.Session, log)
		if err != nil {
			log.Error("browser failed to start", "error", err)
			return r.finish(nil, StateFailed, 0, err)
		}
		if !s.Login(ctx, r.Session.Username, r.Session.Password) {
			if ctx.Err() != nil {
				return r.finish(s, StateCancelled, 0, ctx.Err())
			}
			return r.finish(s, StateFailed, 0, ErrLogin)
		}
	}
	s.pause = r.sleep
	if r.Solver != nil {
		s.SetCaptchaSolver(r.Solver)
	}

	if !r.Request.StartAt.IsZero() {
		if err := r.waitUntil(ctx, r.Request.StartAt); err != nil {
			return r.finish(s, StateCancelled, 0, err)
		}
	}

	r.setState(StateEnteringPerformance)
	if s.SelectPerformance(ctx, r.Request.ProdID) {
		log.Info("on performance page", "prod_id", r.Request.ProdID)
	} else if ctx.Err() != nil {
		return r.finish(s, StateCancelled, 0, ctx.Err())
	}

	r.setState(StatePolling)
	log.Info("polling for tickets", "interval", r.Request.Interval)
	outcome, err := r.poll(ctx, s)
	if err != nil {
		return r.finish(s, StateCancelled, 0, err)
	}
	return r.finish(s, StateSucceeded, outcome, nil)
}

// poll loops until a booking goes through or ctx is done, in which case
// it returns ctx.Err().
func (r *Runner) poll(ctx context.Context, s *Session) (BookingOutcome, error) {
	log := r.logger()
	interval := r.Request.Interval
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		outcome, err := r.pollOnce(ctx, s)
		switch {
		case outcome != 0:
			return outcome, nil
		case err == nil:
			retries = 0
			if err := r.sleep(ctx, interval); err != nil {
				return 0, err
			}
			continue
		case ctx.Err() != nil:
			return 0, ctx.Err()
		}

		retries++
		log.Warn("poll failed", "attempt", fmt.Sprintf("%d/%d", retries, MaxRetries), "error", err)
		if retries >= MaxRetries {
			log.Warn("too many failures, reopening performance page")
			s.SelectPerformance(ctx, r.Request.ProdID)
			retries = 0
		}
		if err := r.sleep(ctx, 2*interval); err != nil {
			return 0, err
		}
	}
}

// pollOnce checks availability and books when possible. It returns the
// outcome of a booking that went through, or refreshes the page and
// returns a zero outcome.
func (r *Runner) pollOnce(ctx context.Context, s *Session) (BookingOutcome, error) {
	log := r.logger()

	ok, err := s.checkAvailability(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		log.Info("ticket available")
		r.setState(StateBooking)
		outcome, err := s.Book(ctx, r.Request.DateIndex, r.Request.TimeIndex)
		switch {
		case err == nil:
			return outcome, nil
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case errors.Is(err, ErrInvalidIndex):
			log.Error("booking skipped", "error", err)
		default:
			log.Warn("booking attempt failed", "error", err)
		}
		r.setState(StatePolling)
	}

	log.Info("no ticket yet, refreshing")
	return 0, s.Refresh(ctx)
}

func (r *Runner) finish(s *Session, state State, outcome BookingOutcome, err error) Result {
	log := r.logger()
	res := Result{State: state, Outcome: outcome, Err: err}

	switch state {
	case StateSucceeded:
		res.Session = s
		if outcome == BookingUnconfirmed {
			log.Warn("booking button pressed but captcha not submitted, check the browser")
		} else {
			log.Info("booking submitted, finish payment in the browser")
		}
		r.record(outcome)
	case StateCancelled:
		log.Info("run cancelled")
	default:
		log.Error("run failed", "error", err)
	}

	if state != StateSucceeded && s != nil {
		if cerr := s.Close(); cerr != nil {
			log.Warn("closing browser", "error", cerr)
		}
	}
	r.setState(state)
	return res
}

func (r *Runner) record(outcome BookingOutcome) {
	if r.History == nil {
		return
	}
	rec := Record{
		Outcome:   outcome.String(),
		ProdID:    r.Request.ProdID,
		DateIndex: r.Request.DateIndex,
		TimeIndex: r.Request.TimeIndex,
		At:        r.now(),
	}
	if err := r.History.Append(rec); err != nil {
		r.logger().Warn("saving booking history", "error", err)
	}
}

// waitUntil blocks until at, returning at once when at has passed.
func (r *Runner) waitUntil(ctx context.Context, at time.Time) error {
	log := r.logger()
	now := r.now()
	if !at.After(now) {
		log.Info("scheduled time has passed, starting now", "at", at.Format(time.DateTime))
		return nil
	}
	wait := at.Sub(now)
	log.Info("waiting for scheduled start", "at", at.Format(time.DateTime), "in", wait.Round(time.Second))
	if err := r.sleep(ctx, wait); err != nil {
		log.Info("schedule cancelled")
		return err
	}
	log.Info("scheduled time reached")
	return nil
}
