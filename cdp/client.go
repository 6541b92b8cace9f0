// Package cdp provides the single CDP-client abstraction the rest of the
// bridge programs against. Design note: earlier iterations of this kind of
// bridge grew a "works-for-both" abstraction straddling two different
// debugger driver libraries. That was an accident of parallel evolution,
// not a requirement — this package exposes one interface (send, subscribe,
// close, isActive) and one concrete implementation backed by go-rod.
package cdp

import (
	"context"
	"errors"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

var errClosedSession = errors.New("cdp: session closed")

// PageRef is the underlying browser page handle. Aliased here so packages
// outside cdp never need to import go-rod directly for the page reference
// type, only for its methods via UnwrapPage.
type PageRef = *rod.Page

// Client is a single-session duplex channel to one debugger target.
type Client interface {
	// Send issues a CDP command and blocks for its response. cmd must be
	// one of the github.com/go-rod/rod/lib/proto request types.
	Send(ctx context.Context, cmd proto.Request) error

	// Subscribe installs a listener for the raw CDP events matching
	// method (e.g. "Network.requestWillBeSent", "Page.frameNavigated").
	// The handler receives the event's JSON params. The returned
	// unsubscribe func stops delivery and is always safe to call more
	// than once.
	Subscribe(method string, handler func(params []byte)) (unsubscribe func())

	// Close detaches this CDP session from its page. It does not close the
	// page's target — a rebind detaches the superseded session while the
	// tab stays open underneath the fresh one. Closing the target itself
	// is a separate, caller-driven decision (session.Manager.ClosePage).
	// Best-effort: a caller never needs to act on a non-nil outcome beyond
	// logging at debug level, matching the propagation policy for cleanup
	// paths.
	Close()

	// IsActive reports whether the session still appears usable. It is a
	// cheap local check, not a network round trip; callers that need a
	// definitive answer issue a real probe command instead.
	IsActive() bool
}

// rodClient backs Client with a go-rod page handle. One rodClient is bound
// to exactly one page for its lifetime; a CDP rebind constructs a fresh
// rodClient rather than mutating this one, so calls referencing the
// superseded client fail cleanly instead of being silently redirected.
type rodClient struct {
	mu        sync.Mutex
	page      *rod.Page
	sessionID proto.TargetSessionID
	closed    bool

	subMu sync.Mutex
	subs  []context.CancelFunc
}

// NewClient wraps an already-created rod.Page into a Client.
func NewClient(page *rod.Page) Client {
	return &rodClient{page: page, sessionID: page.SessionID}
}

func (c *rodClient) Send(ctx context.Context, cmd proto.Request) error {
	c.mu.Lock()
	page := c.page
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errClosedSession
	}
	return cmd.Call(page.Context(ctx))
}

func (c *rodClient) Subscribe(method string, handler func(params []byte)) func() {
	c.mu.Lock()
	page := c.page
	sessionID := c.sessionID
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())

	c.subMu.Lock()
	c.subs = append(c.subs, cancel)
	c.subMu.Unlock()

	go func() {
		events := page.Browser().Context(ctx).Event()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.SessionID != sessionID || e.Method != method {
					continue
				}
				handler(e.Params)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

func (c *rodClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	page := c.page
	sessionID := c.sessionID
	c.mu.Unlock()

	c.subMu.Lock()
	for _, cancel := range c.subs {
		cancel()
	}
	c.subs = nil
	c.subMu.Unlock()

	// Detach this session only. page.Close() would send Page.close and
	// destroy the target, which a rebind must never do to the page it is
	// re-attaching to.
	_ = proto.TargetDetachFromTarget{SessionID: sessionID}.Call(page)
}

func (c *rodClient) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// UnwrapPage returns the rod.Page backing a Client created by NewClient, or
// nil if cl is not backed by one (e.g. a test fake). Session and snapshot
// code use it for the handful of operations (HTML(), WaitDOMStable(),
// Eval()) not worth re-abstracting behind Client.
func UnwrapPage(cl Client) *rod.Page {
	if rc, ok := cl.(*rodClient); ok {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		return rc.page
	}
	return nil
}
