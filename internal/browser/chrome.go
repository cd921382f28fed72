package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

type chromeBrowser struct {
	mu      sync.Mutex
	tab     context.Context
	cancels []context.CancelFunc
	popups  chan target.ID
	closed  bool
}

// chromeFlags are the command line switches Chrome is started with on top
// of the chromedp defaults.
func chromeFlags(headless bool) map[string]any {
	return map[string]any{
		"disable-blink-features": "AutomationControlled",
		"disable-extensions":     true,
		"headless":               headless,
	}
}

func openChrome(ctx context.Context, opts Options) (*chromeBrowser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserAgent(userAgent))
	for name, value := range chromeFlags(opts.Headless) {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	if opts.ExecutablePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecutablePath))
	}

	// The browser outlives the call that opened it, so it hangs off
	// Background rather than ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	b := &chromeBrowser{
		tab:     tabCtx,
		cancels: []context.CancelFunc{allocCancel, tabCancel},
		popups:  make(chan target.ID, 4),
	}

	startCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(startCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	b.watchPopups(tabCtx)
	acceptDialogs(tabCtx)
	return b, nil
}

// acceptDialogs dismisses alert and confirm boxes on the tab in ctx with
// OK. An open dialog would otherwise block every later action.
func acceptDialogs(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); !ok {
			return
		}
		go func() {
			_ = chromedp.Run(ctx, page.HandleJavaScriptDialog(true))
		}()
	})
}

// watchPopups records pages opened by the tab in ctx so SwitchToNewWindow
// can pick them up even when they appear before it is called.
func (b *chromeBrowser) watchPopups(ctx context.Context) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	opener := c.Target.TargetID
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		e, ok := ev.(*target.EventTargetCreated)
		if !ok || e.TargetInfo == nil {
			return
		}
		if e.TargetInfo.Type != "page" || e.TargetInfo.OpenerID != opener {
			return
		}
		select {
		case b.popups <- e.TargetInfo.TargetID:
		default:
		}
	})
}

func (b *chromeBrowser) current() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.tab, nil
}

// run executes actions on the current tab, bounded by ctx and an optional
// timeout.
func (b *chromeBrowser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tab, err := b.current()
	if err != nil {
		return err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(tab, timeout)
	} else {
		runCtx, cancel = context.WithCancel(tab)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err = chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (b *chromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, 0, chromedp.Navigate(url))
}

func (b *chromeBrowser) Reload(ctx context.Context) error {
	return b.run(ctx, 0, chromedp.Reload())
}

func (b *chromeBrowser) Location(ctx context.Context) (string, error) {
	var loc string
	err := b.run(ctx, 0, chromedp.Location(&loc))
	return loc, err
}

func (b *chromeBrowser) WaitPresent(ctx context.Context, selector string, timeout time.Duration) (int, error) {
	var nodes []*cdp.Node
	err := b.run(ctx, timeout, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll))
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return 0, fmt.Errorf("wait for %s: %w", selector, err)
		}
		return 0, err
	}
	return len(nodes), nil
}

func (b *chromeBrowser) WaitLocation(ctx context.Context, match func(string) bool, timeout time.Duration) error {
	var loc string
	err := poll(ctx, timeout, func() (bool, error) {
		cur, err := b.Location(ctx)
		loc = cur
		return err == nil && match(cur), err
	})
	if err != nil {
		return fmt.Errorf("wait for location (at %q): %w", loc, err)
	}
	return nil
}

type elementResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

// evalElement runs body with `el` bound to the index-th match of selector.
// body must return a string.
func (b *chromeBrowser) evalElement(ctx context.Context, selector string, index int, body string) (string, error) {
	sel, _ := json.Marshal(selector)
	script := fmt.Sprintf(`(function() {
		const el = document.querySelectorAll(%s)[%d];
		if (!el) { return {found: false, value: ""}; }
		const v = (function(el) { %s })(el);
		return {found: true, value: v == null ? "" : String(v)};
	})()`, sel, index, body)

	var res elementResult
	if err := b.run(ctx, 0, chromedp.Evaluate(script, &res)); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%s[%d]: %w", selector, index, ErrNotFound)
	}
	return res.Value, nil
}

func (b *chromeBrowser) Attribute(ctx context.Context, selector string, index int, name string) (string, error) {
	attr, _ := json.Marshal(name)
	return b.evalElement(ctx, selector, index, fmt.Sprintf("return el.getAttribute(%s);", attr))
}

func (b *chromeBrowser) Text(ctx context.Context, selector string, index int) (string, error) {
	return b.evalElement(ctx, selector, index, "return el.innerText;")
}

func (b *chromeBrowser) Enabled(ctx context.Context, selector string, index int) (bool, error) {
	v, err := b.evalElement(ctx, selector, index, "return !el.disabled;")
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (b *chromeBrowser) SetValue(ctx context.Context, selector, value string) error {
	return b.run(ctx, 0,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (b *chromeBrowser) Click(ctx context.Context, selector string, index int) error {
	var nodes []*cdp.Node
	if err := b.run(ctx, 0, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return err
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("%s[%d]: %w", selector, index, ErrNotFound)
	}
	return b.run(ctx, 0, chromedp.MouseClickNode(nodes[index]))
}

func (b *chromeBrowser) ClickScript(ctx context.Context, selector string, index int) error {
	_, err := b.evalElement(ctx, selector, index, "el.click(); return true;")
	return err
}

func (b *chromeBrowser) Exec(ctx context.Context, script string) error {
	var ok bool
	return b.run(ctx, 0, chromedp.Evaluate(fmt.Sprintf("(function() { %s; return true; })()", script), &ok))
}

func (b *chromeBrowser) ImageData(ctx context.Context, selector string) (string, error) {
	sel, _ := json.Marshal(selector)
	var uri string
	if err := b.run(ctx, 0, chromedp.Evaluate(fmt.Sprintf(imageDataScript, sel), &uri)); err != nil {
		return "", err
	}
	if uri == "" {
		return "", fmt.Errorf("%s: image not loaded: %w", selector, ErrNotFound)
	}
	return uri, nil
}

func (b *chromeBrowser) SwitchToNewWindow(ctx context.Context, timeout time.Duration) (bool, error) {
	tab, err := b.current()
	if err != nil {
		return false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var id target.ID
	select {
	case id = <-b.popups:
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}

	popupCtx, cancel := chromedp.NewContext(tab, chromedp.WithTargetID(id))
	if err := chromedp.Run(popupCtx); err != nil {
		cancel()
		return false, fmt.Errorf("attach to window %s: %w", id, err)
	}

	b.mu.Lock()
	b.tab = popupCtx
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()
	b.watchPopups(popupCtx)
	acceptDialogs(popupCtx)
	return true, nil
}

func (b *chromeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for i := len(b.cancels) - 1; i >= 0; i-- {
		b.cancels[i]()
	}
	return nil
}
