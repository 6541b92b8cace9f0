package session

import "testing"

func TestStateMachineLegalTransitions(t *testing.T) {
	sm := newStateMachine()

	if sm.Current() != StateIdle {
		t.Fatalf("expected initial state idle, got %v", sm.Current())
	}

	if err := sm.transition(StateConnecting, "launch"); err != nil {
		t.Fatalf("idle->connecting should be legal: %v", err)
	}
	if err := sm.transition(StateConnected, "launch"); err != nil {
		t.Fatalf("connecting->connected should be legal: %v", err)
	}
	if err := sm.transition(StateDisconnecting, "shutdown"); err != nil {
		t.Fatalf("connected->disconnecting should be legal: %v", err)
	}
	if err := sm.transition(StateIdle, "shutdown"); err != nil {
		t.Fatalf("disconnecting->idle should be legal: %v", err)
	}
}

func TestStateMachineIllegalTransition(t *testing.T) {
	sm := newStateMachine()
	err := sm.transition(StateConnected, "navigate")
	if err == nil {
		t.Fatal("expected idle->connected to be rejected")
	}
}

func TestStateMachineFailedIsReentrant(t *testing.T) {
	sm := newStateMachine()
	_ = sm.transition(StateConnecting, "launch")
	_ = sm.transition(StateFailed, "launch")

	if err := sm.transition(StateConnecting, "launch"); err != nil {
		t.Fatalf("failed->connecting should be legal (re-entrant): %v", err)
	}
}

func TestStateMachineEmitsExactlyOneEventPerTransition(t *testing.T) {
	sm := newStateMachine()
	var events []ChangeEvent
	cancel := sm.OnChange(func(e ChangeEvent) { events = append(events, e) })
	defer cancel()

	_ = sm.transition(StateConnecting, "launch")
	_ = sm.transition(StateConnected, "launch")

	if len(events) != 2 {
		t.Fatalf("expected 2 change events, got %d", len(events))
	}
	if events[0].Previous != StateIdle || events[0].Current != StateConnecting {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Previous != StateConnecting || events[1].Current != StateConnected {
		t.Errorf("unexpected second event: %+v", events[1])
	}
}

func TestStateMachineListenerPanicIsolated(t *testing.T) {
	sm := newStateMachine()
	sm.OnChange(func(ChangeEvent) { panic("boom") })

	var called bool
	sm.OnChange(func(ChangeEvent) { called = true })

	if err := sm.transition(StateConnecting, "launch"); err != nil {
		t.Fatalf("transition should still succeed despite a panicking listener: %v", err)
	}
	if !called {
		t.Error("second listener should still be notified")
	}
}

func TestCancelledListenerNotNotified(t *testing.T) {
	sm := newStateMachine()
	var called bool
	cancel := sm.OnChange(func(ChangeEvent) { called = true })
	cancel()

	_ = sm.transition(StateConnecting, "launch")
	if called {
		t.Error("listener should not fire after cancellation")
	}
}
