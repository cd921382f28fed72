package captcha

import (
	"context"
	"sync"
	"sync/atomic"
)

// Request is one outstanding captcha question. The receiver must call
// exactly one of Answer or Cancel.
type Request struct {
	Image []byte
	reply chan reply
	once  sync.Once
}

type reply struct {
	text string
	ok   bool
}

func (r *Request) Answer(text string) {
	r.once.Do(func() { r.reply <- reply{text: text, ok: true} })
}

func (r *Request) Cancel() {
	r.once.Do(func() { r.reply <- reply{} })
}

// Exchange hands captcha requests from a background run to an interactive
// surface and blocks until they are answered. At most one request is
// outstanding at a time.
type Exchange struct {
	mu        sync.Mutex
	requests  chan *Request
	withdraw  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	pending   atomic.Bool
}

func NewExchange() *Exchange {
	return &Exchange{
		requests: make(chan *Request),
		withdraw: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// Requests is read by the interactive surface.
func (e *Exchange) Requests() <-chan *Request {
	return e.requests
}

// Prompt implements Prompter. ctx only bounds the wait for a receiver; once
// the request is delivered Prompt waits for the answer regardless of ctx.
func (e *Exchange) Prompt(ctx context.Context, image []byte) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ctx.Err() != nil {
		return "", false
	}

	req := &Request{Image: image, reply: make(chan reply, 1)}
	e.pending.Store(true)
	defer e.pending.Store(false)

	select {
	case e.requests <- req:
	case <-e.withdraw:
		return "", false
	case <-e.closed:
		return "", false
	case <-ctx.Done():
		return "", false
	}

	r := <-req.reply
	return r.text, r.ok
}

// Pending reports whether a request is waiting to be delivered or answered.
func (e *Exchange) Pending() bool {
	return e.pending.Load()
}

// WhenIdle runs fn while no request is outstanding. A request nobody has
// picked up yet is withdrawn; one already shown is waited for. Prompt calls
// made during fn wait for it to return.
func (e *Exchange) WhenIdle(fn func()) {
	select {
	case e.withdraw <- struct{}{}:
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
	select {
	case <-e.withdraw:
	default:
	}
}

// Close makes further prompts fail immediately. It does not affect a
// request that was already delivered.
func (e *Exchange) Close() {
	e.closeOnce.Do(func() { close(e.closed) })
}
