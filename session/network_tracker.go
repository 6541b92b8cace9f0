package session

import (
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/browserbridge/cdp"
)

// networkTracker implements the Page Network Tracker (spec §4.2): a
// reliable "network quiet for N ms" wait that tolerates mid-wait
// navigation. go-rod's WaitRequestIdle does not distinguish the current
// document from the previous one across a navigation that starts while a
// wait is already registered, which is why this counter exists instead of
// relying on that primitive alone.
type networkTracker struct {
	quietWindow  time.Duration
	blockedTypes map[proto.NetworkResourceType]struct{}

	mu         sync.Mutex
	inFlight   int
	generation uint64
	waiters    []*waiter
	quietTimer *time.Timer

	unsubscribe []func()
}

type waiter struct {
	resolve     func(ok bool)
	resolved    bool
	hardDeadline *time.Timer
}

func newNetworkTracker(client cdp.Client, quietWindow time.Duration, blockedTypeNames []string) *networkTracker {
	t := &networkTracker{quietWindow: quietWindow, blockedTypes: blockedResourceSet(blockedTypeNames)}
	t.attach(client)
	return t
}

// attach subscribes to the three page-level request events. Each closure
// captures the generation active at attach time so that, after a
// mark_navigation bumps the generation and reattaches, events still
// in-flight on the old subscription (delivered before its unsubscribe
// takes effect) are ignored instead of mutating the new document's count.
func (t *networkTracker) attach(client cdp.Client) {
	t.mu.Lock()
	myGen := t.generation
	t.mu.Unlock()

	started := client.Subscribe("Network.requestWillBeSent", func(params []byte) {
		t.onEvent(params, myGen, func() { t.bump(1) })
	})
	finished := client.Subscribe("Network.loadingFinished", func(params []byte) {
		t.onEvent(params, myGen, func() { t.bump(-1) })
	})
	failed := client.Subscribe("Network.loadingFailed", func(params []byte) {
		t.onEvent(params, myGen, func() { t.bump(-1) })
	})
	t.mu.Lock()
	t.unsubscribe = []func(){started, finished, failed}
	t.mu.Unlock()
}

// onEvent applies the resource-type and generation filters before calling
// apply. WebSocket resources are long-lived channels and are excluded from
// the in-flight count per spec §4.2; resource types the hijack router
// blocks-and-fails are excluded too, since they never represent work a
// wait_for_network_quiet caller should wait on.
func (t *networkTracker) onEvent(params []byte, capturedGen uint64, apply func()) {
	rt := proto.NetworkResourceType(extractType(params))
	if rt == proto.NetworkResourceTypeWebSocket {
		return
	}
	if _, blocked := t.blockedTypes[rt]; blocked {
		return
	}
	t.mu.Lock()
	gen := t.generation
	t.mu.Unlock()
	if capturedGen != gen {
		return
	}
	apply()
}

func extractType(params []byte) string {
	// Cheap field scrape avoids pulling in a full JSON unmarshal for a
	// single field on the hot path; resourceType is always a short bare
	// string value in these three event shapes.
	const key = `"type":"`
	s := string(params)
	idx := indexOf(s, key)
	if idx < 0 {
		return ""
	}
	start := idx + len(key)
	end := indexOf(s[start:], `"`)
	if end < 0 {
		return ""
	}
	return s[start : start+end]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func (t *networkTracker) bump(delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight += delta
	if t.inFlight < 0 {
		t.inFlight = 0
	}

	if t.inFlight == 0 && len(t.waiters) > 0 {
		t.startQuietTimerLocked()
	} else if t.inFlight > 0 && t.quietTimer != nil {
		t.quietTimer.Stop()
		t.quietTimer = nil
	}
}

func (t *networkTracker) startQuietTimerLocked() {
	if t.quietTimer != nil {
		t.quietTimer.Stop()
	}
	t.quietTimer = time.AfterFunc(t.quietWindow, t.fireQuiet)
}

func (t *networkTracker) fireQuiet() {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = nil
	t.quietTimer = nil
	t.mu.Unlock()

	for _, w := range waiters {
		w.hardDeadline.Stop()
		if !w.resolved {
			w.resolved = true
			w.resolve(true)
		}
	}
}

// WaitQuiet blocks (via the returned channel) until the in-flight count has
// held at zero for the quiet window, or hardDeadline elapses. It never
// returns an error; the boolean reports whether quiet was observed.
func (t *networkTracker) WaitQuiet(hardDeadline time.Duration) <-chan bool {
	result := make(chan bool, 1)
	w := &waiter{resolve: func(ok bool) { result <- ok }}

	t.mu.Lock()
	alreadyQuiet := t.inFlight == 0
	if alreadyQuiet {
		t.waiters = append(t.waiters, w)
		t.startQuietTimerLocked()
	} else {
		t.waiters = append(t.waiters, w)
	}
	t.mu.Unlock()

	w.hardDeadline = time.AfterFunc(hardDeadline, func() {
		t.mu.Lock()
		for i, other := range t.waiters {
			if other == w {
				t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
				break
			}
		}
		already := w.resolved
		w.resolved = true
		t.mu.Unlock()
		if !already {
			w.resolve(false)
		}
	})

	return result
}

// MarkNavigation bumps the generation, zeros the count, and cancels the
// quiet timer. Existing waiters are not cancelled: they keep waiting for
// the new document's idle, per spec §4.2.
func (t *networkTracker) MarkNavigation(client cdp.Client) {
	t.mu.Lock()
	t.generation++
	t.inFlight = 0
	if t.quietTimer != nil {
		t.quietTimer.Stop()
		t.quietTimer = nil
	}
	old := t.unsubscribe
	t.mu.Unlock()

	for _, fn := range old {
		fn()
	}
	t.attach(client)
}

// Detach stops all event subscriptions, used on close_page.
func (t *networkTracker) Detach() {
	t.mu.Lock()
	fns := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// InFlight reports the current in-flight count, for diagnostics/tests.
func (t *networkTracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}
