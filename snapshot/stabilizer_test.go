package snapshot

import (
	"context"
	"testing"
	"time"
)

func TestStabilizeAfterActionPassesThroughNonErrorStatus(t *testing.T) {
	result := StabilizeAfterAction(context.Background(), &fakeClient{}, stubStabilizer{StabilizeStable}, 10*time.Millisecond)
	if result.Status != StabilizeStable {
		t.Fatalf("expected StabilizeStable to pass through, got %v", result.Status)
	}
	if result.Warning != "" {
		t.Errorf("expected no warning on clean stabilize, got %q", result.Warning)
	}
}

func TestStabilizeAfterActionFallsBackOnErrorWithNoPage(t *testing.T) {
	result := StabilizeAfterAction(context.Background(), &fakeClient{}, stubStabilizer{StabilizeError}, 10*time.Millisecond)
	if result.Status != StabilizeError {
		t.Fatalf("expected StabilizeError when there is no underlying page to fall back on, got %v", result.Status)
	}
}
