package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"melon-ticket/internal/browser"
	"melon-ticket/internal/captcha"
)

// BookingOutcome tells a booking whose captcha was submitted apart from one
// that stopped after the booking button.
type BookingOutcome int

const (
	// BookingSubmitted means the captcha answer was typed and submitted.
	BookingSubmitted BookingOutcome = iota + 1
	// BookingUnconfirmed means the booking button was pressed but the
	// captcha was not submitted. The site may still have opened a payment
	// page.
	BookingUnconfirmed
)

func (o BookingOutcome) String() string {
	switch o {
	case BookingSubmitted:
		return "submitted"
	case BookingUnconfirmed:
		return "unconfirmed"
	default:
		return "none"
	}
}

// Book picks the dateIndex-th date and timeIndex-th time (both 1-based),
// presses the booking button and answers the captcha in the window it
// opens. Failures up to and including the booking button fail the call.
// Once the button is pressed, window and captcha failures are logged and
// reported as BookingUnconfirmed.
func (s *Session) Book(ctx context.Context, dateIndex, timeIndex int) (BookingOutcome, error) {
	s.log.Info("booking", "date", dateIndex, "time", timeIndex)

	if err := s.pick(ctx, dateItems, dateIndex, "date", func(i int) string {
		v, _ := s.b.Attribute(ctx, dateItems, i, "data-perfday")
		return v
	}); err != nil {
		return 0, err
	}
	if err := s.pick(ctx, timeItems, timeIndex, "time", func(i int) string {
		v, _ := s.b.Text(ctx, timeLabels, i)
		return strings.TrimSpace(v)
	}); err != nil {
		return 0, err
	}

	if err := s.reserve(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}

	switched, err := s.b.SwitchToNewWindow(ctx, elementTimeout)
	switch {
	case ctx.Err() != nil:
		return 0, ctx.Err()
	case err != nil:
		s.log.Warn("switching to booking window failed", "error", err)
	case !switched:
		s.log.Info("no booking window opened, staying on current page")
	}

	if err := s.submitCaptcha(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.log.Warn("captcha step failed", "error", err)
		return BookingUnconfirmed, nil
	}
	return BookingSubmitted, nil
}

// pick clicks the index-th element matching selector. label names the
// choice in the log.
func (s *Session) pick(ctx context.Context, selector string, index int, what string, label func(int) string) error {
	n, err := s.b.WaitPresent(ctx, selector, elementTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(err, what+" list")
	}
	if index < 1 || index > n {
		return fmt.Errorf("%w: %s %d of %d", ErrInvalidIndex, what, index, n)
	}
	i := index - 1
	s.log.Info("selecting "+what, "index", index, "value", label(i))
	if err := s.b.ClickScript(ctx, selector, i); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(err, what)
	}
	return s.pause(ctx, selectPause)
}

func (s *Session) reserve(ctx context.Context) error {
	if _, err := s.b.WaitPresent(ctx, reserveButton, elementTimeout); err != nil {
		return classify(err, "booking button")
	}
	if err := s.waitEnabled(ctx, reserveButton, elementTimeout); err != nil {
		return fmt.Errorf("booking button: %w", err)
	}
	class, err := s.b.Attribute(ctx, reserveButton, 0, "class")
	if err != nil {
		return classify(err, "booking button")
	}
	if strings.Contains(class, "disabled") {
		return fmt.Errorf("booking button: %w", ErrButtonDisabled)
	}

	targeted := reserveButton
	if s.prodID != "" {
		targeted = fmt.Sprintf("%s[data-prodid=%q]", reserveButton, s.prodID)
	}
	if err := ClickWithFallback(ctx, s.b, reserveButton, 0, targeted); err != nil {
		return fmt.Errorf("booking button: %w", err)
	}
	return s.pause(ctx, clickPause)
}

// waitEnabled polls until the first match of selector is enabled, failing
// with ErrButtonDisabled once timeout has passed.
func (s *Session) waitEnabled(ctx context.Context, selector string, timeout time.Duration) error {
	for waited := time.Duration(0); ; waited += enabledPoll {
		ok, err := s.b.Enabled(ctx, selector, 0)
		if err != nil {
			return classify(err, "enabled check")
		}
		if ok {
			return nil
		}
		if waited >= timeout {
			return ErrButtonDisabled
		}
		if err := s.pause(ctx, enabledPoll); err != nil {
			return err
		}
	}
}

func (s *Session) submitCaptcha(ctx context.Context) error {
	if _, err := s.b.WaitPresent(ctx, captchaImage, elementTimeout); err != nil {
		return classify(err, "captcha image")
	}
	src, err := s.b.Attribute(ctx, captchaImage, 0, "src")
	if err != nil {
		return classify(err, "captcha image")
	}
	if !strings.HasPrefix(src, "data:") {
		// Served from a URL, so copy the pixels the page already loaded.
		uri, err := s.b.ImageData(ctx, captchaImage)
		if err != nil {
			return classify(err, "captcha image")
		}
		src = uri
	}

	var text string
	if r := s.solver(); r != nil {
		text = r.Resolve(ctx, captcha.Image{DataURI: src})
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.log.Info("captcha answer", "text", text)

	if _, err := s.b.WaitPresent(ctx, captchaInput, elementTimeout); err != nil {
		return classify(err, "captcha input")
	}
	if err := s.b.SetValue(ctx, captchaInput, text); err != nil {
		return classify(err, "captcha input")
	}
	if _, err := s.b.WaitPresent(ctx, completeButton, elementTimeout); err != nil {
		return classify(err, "submit button")
	}
	if err := ClickWithFallback(ctx, s.b, completeButton, 0, completeButton); err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	return s.pause(ctx, clickPause)
}

// ClickWithFallback clicks the index-th match of selector, first as a user
// would, then through a script on the same element, and last with a
// document.querySelector script on targeted. It only fails when all three
// do, returning every error.
func ClickWithFallback(ctx context.Context, b browser.Browser, selector string, index int, targeted string) error {
	direct := b.Click(ctx, selector, index)
	if direct == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	scripted := b.ClickScript(ctx, selector, index)
	if scripted == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if targeted == "" {
		targeted = selector
	}
	sel, _ := json.Marshal(targeted)
	last := b.Exec(ctx, fmt.Sprintf("document.querySelector(%s).click()", sel))
	if last == nil {
		return nil
	}
	return errors.Join(
		fmt.Errorf("click: %w", direct),
		fmt.Errorf("script click: %w", scripted),
		fmt.Errorf("targeted click: %w", last),
	)
}
