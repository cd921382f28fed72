package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/firefox"
)

const pollInterval = 250 * time.Millisecond

// firefoxBrowser drives Firefox through geckodriver. WebDriver calls are not
// context aware, so ctx is only checked between calls.
type firefoxBrowser struct {
	mu      sync.Mutex
	service *selenium.Service
	wd      selenium.WebDriver
	closed  bool
}

func openFirefox(ctx context.Context, opts Options) (*firefoxBrowser, error) {
	if opts.DriverPath == "" {
		return nil, fmt.Errorf("geckodriver path is required for %s", Firefox)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("pick driver port: %w", err)
	}

	service, err := selenium.NewGeckoDriverService(opts.DriverPath, port, selenium.Output(nil))
	if err != nil {
		return nil, fmt.Errorf("start geckodriver: %w", err)
	}

	caps := selenium.Capabilities{"browserName": "firefox"}
	fcaps := firefox.Capabilities{
		Binary: opts.ExecutablePath,
		Prefs: map[string]interface{}{
			"dom.webdriver.enabled":  false,
			"useAutomationExtension": false,
		},
	}
	if opts.Headless {
		fcaps.Args = append(fcaps.Args, "-headless")
	}
	caps.AddFirefox(fcaps)

	wd, err := selenium.NewRemote(caps, fmt.Sprintf("http://localhost:%d", port))
	if err != nil {
		_ = service.Stop()
		return nil, fmt.Errorf("create webdriver session: %w", err)
	}

	return &firefoxBrowser{service: service, wd: wd}, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (b *firefoxBrowser) driver(ctx context.Context) (selenium.WebDriver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.wd, nil
}

func (b *firefoxBrowser) element(ctx context.Context, selector string, index int) (selenium.WebElement, error) {
	wd, err := b.driver(ctx)
	if err != nil {
		return nil, err
	}
	elems, err := wd.FindElements(selenium.ByCSSSelector, selector)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(elems) {
		return nil, fmt.Errorf("%s[%d]: %w", selector, index, ErrNotFound)
	}
	return elems[index], nil
}

// poll calls cond until it reports true, ctx ends or timeout passes.
func poll(ctx context.Context, timeout time.Duration, cond func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		ok, err := cond()
		if ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if time.Now().After(deadline) {
			if lastErr != nil {
				return fmt.Errorf("%w: %v", ErrTimeout, lastErr)
			}
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (b *firefoxBrowser) Navigate(ctx context.Context, url string) error {
	wd, err := b.driver(ctx)
	if err != nil {
		return err
	}
	return wd.Get(url)
}

func (b *firefoxBrowser) Reload(ctx context.Context) error {
	wd, err := b.driver(ctx)
	if err != nil {
		return err
	}
	return wd.Refresh()
}

func (b *firefoxBrowser) Location(ctx context.Context) (string, error) {
	wd, err := b.driver(ctx)
	if err != nil {
		return "", err
	}
	return wd.CurrentURL()
}

func (b *firefoxBrowser) WaitPresent(ctx context.Context, selector string, timeout time.Duration) (int, error) {
	wd, err := b.driver(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	err = poll(ctx, timeout, func() (bool, error) {
		elems, err := wd.FindElements(selenium.ByCSSSelector, selector)
		count = len(elems)
		return count > 0, err
	})
	if err != nil {
		return 0, fmt.Errorf("wait for %s: %w", selector, err)
	}
	return count, nil
}

func (b *firefoxBrowser) WaitLocation(ctx context.Context, match func(string) bool, timeout time.Duration) error {
	wd, err := b.driver(ctx)
	if err != nil {
		return err
	}
	var loc string
	err = poll(ctx, timeout, func() (bool, error) {
		cur, err := wd.CurrentURL()
		loc = cur
		return err == nil && match(cur), err
	})
	if err != nil {
		return fmt.Errorf("wait for location (at %q): %w", loc, err)
	}
	return nil
}

func (b *firefoxBrowser) Attribute(ctx context.Context, selector string, index int, name string) (string, error) {
	el, err := b.element(ctx, selector, index)
	if err != nil {
		return "", err
	}
	return el.GetAttribute(name)
}

func (b *firefoxBrowser) Text(ctx context.Context, selector string, index int) (string, error) {
	el, err := b.element(ctx, selector, index)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (b *firefoxBrowser) Enabled(ctx context.Context, selector string, index int) (bool, error) {
	el, err := b.element(ctx, selector, index)
	if err != nil {
		return false, err
	}
	return el.IsEnabled()
}

func (b *firefoxBrowser) SetValue(ctx context.Context, selector, value string) error {
	el, err := b.element(ctx, selector, 0)
	if err != nil {
		return err
	}
	if err := el.Clear(); err != nil {
		return err
	}
	return el.SendKeys(value)
}

func (b *firefoxBrowser) Click(ctx context.Context, selector string, index int) error {
	el, err := b.element(ctx, selector, index)
	if err != nil {
		return err
	}
	return el.Click()
}

func (b *firefoxBrowser) ClickScript(ctx context.Context, selector string, index int) error {
	el, err := b.element(ctx, selector, index)
	if err != nil {
		return err
	}
	_, err = b.wd.ExecuteScript("arguments[0].click();", []interface{}{el})
	return err
}

func (b *firefoxBrowser) Exec(ctx context.Context, script string) error {
	wd, err := b.driver(ctx)
	if err != nil {
		return err
	}
	_, err = wd.ExecuteScript(script, nil)
	return err
}

func (b *firefoxBrowser) ImageData(ctx context.Context, selector string) (string, error) {
	wd, err := b.driver(ctx)
	if err != nil {
		return "", err
	}
	sel, _ := json.Marshal(selector)
	res, err := wd.ExecuteScript("return "+fmt.Sprintf(imageDataScript, sel)+";", nil)
	if err != nil {
		return "", err
	}
	uri, _ := res.(string)
	if uri == "" {
		return "", fmt.Errorf("%s: image not loaded: %w", selector, ErrNotFound)
	}
	return uri, nil
}

func (b *firefoxBrowser) SwitchToNewWindow(ctx context.Context, timeout time.Duration) (bool, error) {
	wd, err := b.driver(ctx)
	if err != nil {
		return false, err
	}
	var handles []string
	err = poll(ctx, timeout, func() (bool, error) {
		hs, err := wd.WindowHandles()
		handles = hs
		return len(hs) > 1, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	if err := wd.SwitchWindow(handles[len(handles)-1]); err != nil {
		return false, fmt.Errorf("switch window: %w", err)
	}
	return true, nil
}

func (b *firefoxBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []string
	if err := b.wd.Quit(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := b.service.Stop(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("close firefox: %s", strings.Join(errs, "; "))
	}
	return nil
}
