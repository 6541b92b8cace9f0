package apperrors

import (
	"errors"
	"testing"
)

func TestIsStaleElement(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no node for given backend id", errors.New("no node for given backend id: 42"), true},
		{"node detached", errors.New("Node is detached from document"), true},
		{"node deleted", errors.New("node has been deleted"), true},
		{"unrelated error", errors.New("connection refused"), false},
		{"nil error", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStaleElement(tt.err); got != tt.want {
				t.Errorf("IsStaleElement(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsDeadSession(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"target closed", errors.New("target closed"), true},
		{"session not found", errors.New("Session with given id not found"), true},
		{"unrelated", errors.New("element not visible"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDeadSession(tt.err); got != tt.want {
				t.Errorf("IsDeadSession(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyHealth(t *testing.T) {
	tests := []struct {
		name       string
		nodeCount  int
		captureErr error
		axWarning  bool
		domWarning bool
		want       HealthCode
	}{
		{"healthy", 5, nil, false, false, HealthHealthy},
		{"empty no warnings", 0, nil, false, false, HealthPendingDOM},
		{"empty ax warning", 0, nil, true, false, HealthAXEmpty},
		{"empty dom warning", 0, nil, false, true, HealthDOMEmpty},
		{"dead session", 0, errors.New("target closed"), false, false, HealthCDPSessionDead},
		{"unknown error", 0, errors.New("boom"), false, false, HealthUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyHealth(tt.nodeCount, tt.captureErr, tt.axWarning, tt.domWarning)
			if got != tt.want {
				t.Errorf("ClassifyHealth() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorWithDetail(t *testing.T) {
	err := InvalidState("idle", "navigate")
	if err.Code != CodeInvalidState {
		t.Fatalf("expected CodeInvalidState, got %v", err.Code)
	}
	if err.Detail["current_state"] != "idle" || err.Detail["attempted_operation"] != "navigate" {
		t.Fatalf("unexpected detail: %+v", err.Detail)
	}
	if !Is(err, CodeInvalidState) {
		t.Fatalf("Is() should recognize the code")
	}
}
