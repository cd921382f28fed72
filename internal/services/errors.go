package services

import (
	"errors"
	"fmt"

	"melon-ticket/internal/browser"
)

var (
	ErrBrowserInit     = errors.New("browser init failed")
	ErrLogin           = errors.New("login failed")
	ErrNavigation      = errors.New("navigation failed")
	ErrElementNotFound = errors.New("element not found")
	ErrTimeout         = errors.New("timed out")
	ErrInvalidIndex    = errors.New("invalid index")
	ErrButtonDisabled  = errors.New("button disabled")
	ErrAlreadyRunning  = errors.New("already running")
	ErrClosed          = errors.New("coordinator closed")
)

// classify maps backend wait errors onto the package errors.
func classify(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, browser.ErrTimeout):
		return fmt.Errorf("%s: %w: %w", what, ErrTimeout, err)
	case errors.Is(err, browser.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", what, ErrElementNotFound, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// missing reports whether err means the element simply is not there.
func missing(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrElementNotFound)
}
