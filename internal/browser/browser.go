package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind selects one of the two supported browsers.
type Kind string

const (
	Firefox Kind = "Firefox"
	Chrome  Kind = "Chrome"
)

var (
	ErrNotFound = errors.New("element not found")
	ErrTimeout  = errors.New("timed out")
	ErrClosed   = errors.New("browser closed")
)

// ParseKind accepts the display names used in the config file.
func ParseKind(s string) (Kind, error) {
	switch s {
	case string(Firefox), "firefox":
		return Firefox, nil
	case string(Chrome), "chrome":
		return Chrome, nil
	}
	return "", fmt.Errorf("unknown browser type %q", s)
}

// Options are the launch settings for a browser.
type Options struct {
	Kind           Kind
	ExecutablePath string
	DriverPath     string
	Headless       bool
}

// Browser is a single automated browser window. Elements are addressed by a
// CSS selector and the 0-based index into its matches.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Location(ctx context.Context) (string, error)

	// WaitPresent waits until at least one element matches selector and
	// returns the number of matches.
	WaitPresent(ctx context.Context, selector string, timeout time.Duration) (int, error)
	// WaitLocation waits until match accepts the current URL.
	WaitLocation(ctx context.Context, match func(url string) bool, timeout time.Duration) error

	Attribute(ctx context.Context, selector string, index int, name string) (string, error)
	Text(ctx context.Context, selector string, index int) (string, error)
	Enabled(ctx context.Context, selector string, index int) (bool, error)
	SetValue(ctx context.Context, selector, value string) error

	// Click performs a native pointer click.
	Click(ctx context.Context, selector string, index int) error
	// ClickScript calls element.click() from page script.
	ClickScript(ctx context.Context, selector string, index int) error
	// Exec evaluates a script in the page and ignores its result.
	Exec(ctx context.Context, script string) error
	// ImageData renders the first <img> matching selector to a PNG data URI.
	ImageData(ctx context.Context, selector string) (string, error)

	// SwitchToNewWindow waits for a window opened by the current one and
	// makes it current. It reports false when none appeared in time.
	SwitchToNewWindow(ctx context.Context, timeout time.Duration) (bool, error)

	Close() error
}

// Open launches the browser selected by opts.Kind.
func Open(ctx context.Context, opts Options) (Browser, error) {
	switch opts.Kind {
	case Chrome:
		b, err := openChrome(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case Firefox:
		b, err := openFirefox(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported browser %q", opts.Kind)
}

// imageDataScript draws an already loaded image onto a canvas. %s is the
// JSON-quoted selector.
const imageDataScript = `(function() {
	const img = document.querySelector(%s);
	if (!img || !img.complete || img.naturalWidth === 0) {
		return "";
	}
	const canvas = document.createElement('canvas');
	canvas.width = img.naturalWidth;
	canvas.height = img.naturalHeight;
	canvas.getContext('2d').drawImage(img, 0, 0);
	return canvas.toDataURL('image/png');
})()`

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
