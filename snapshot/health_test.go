package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/cdp"
	"github.com/use-agent/browserbridge/config"
)

// fakeClient is a minimal cdp.Client stand-in with no underlying page;
// the scriptedCompiler never actually touches it.
type fakeClient struct{}

func (f *fakeClient) Send(ctx context.Context, cmd proto.Request) error { return nil }
func (f *fakeClient) Subscribe(method string, handler func([]byte)) func() {
	return func() {}
}
func (f *fakeClient) Close()         {}
func (f *fakeClient) IsActive() bool { return true }

type stubStabilizer struct{ status StabilizeStatus }

func (s stubStabilizer) Wait(ctx context.Context, client cdp.Client, timeout time.Duration) StabilizeStatus {
	return s.status
}

type scriptedCompiler struct {
	results []compileStep
	i       int
}

type compileStep struct {
	snap     *Snapshot
	warnings Warnings
	err      error
}

func (c *scriptedCompiler) Compile(ctx context.Context, client cdp.Client, url string) (*Snapshot, Warnings, error) {
	if c.i >= len(c.results) {
		c.i = len(c.results) - 1
	}
	step := c.results[c.i]
	c.i++
	return step.snap, step.warnings, step.err
}

func testCfg() config.SnapshotConfig {
	return config.SnapshotConfig{
		StabilizerTimeout: time.Millisecond,
		RetryCount:        2,
		RetryBackoff:      time.Millisecond,
	}
}

func TestCaptureHealthyOnFirstAttempt(t *testing.T) {
	compiler := &scriptedCompiler{results: []compileStep{
		{snap: &Snapshot{Nodes: []ReadableNode{{Kind: KindButton}}}},
	}}
	c := NewCapturer(compiler, stubStabilizer{StabilizeStable}, testCfg())

	result := c.Capture(context.Background(), &fakeClient{}, "https://example.test")
	if result.Health != apperrors.HealthHealthy {
		t.Fatalf("expected HEALTHY, got %v", result.Health)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", result.Attempts)
	}
}

func TestCaptureRetriesOnPendingDOMThenSucceeds(t *testing.T) {
	compiler := &scriptedCompiler{results: []compileStep{
		{snap: &Snapshot{}},
		{snap: &Snapshot{Nodes: []ReadableNode{{Kind: KindLink}}}},
	}}
	c := NewCapturer(compiler, stubStabilizer{StabilizeStable}, testCfg())

	result := c.Capture(context.Background(), &fakeClient{}, "")
	if result.Health != apperrors.HealthHealthy {
		t.Fatalf("expected eventual HEALTHY, got %v", result.Health)
	}
	if result.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", result.Attempts)
	}
}

func TestCaptureGivesUpAfterRetryBudget(t *testing.T) {
	compiler := &scriptedCompiler{results: []compileStep{
		{snap: &Snapshot{}},
	}}
	cfg := testCfg()
	cfg.RetryCount = 1
	c := NewCapturer(compiler, stubStabilizer{StabilizeStable}, cfg)

	result := c.Capture(context.Background(), &fakeClient{}, "")
	if result.Health != apperrors.HealthPendingDOM {
		t.Fatalf("expected PENDING_DOM after exhausting retries, got %v", result.Health)
	}
	if result.Attempts != 2 {
		t.Fatalf("expected RetryCount+1=2 attempts, got %d", result.Attempts)
	}
}

func TestCaptureDeadSessionDoesNotRetry(t *testing.T) {
	compiler := &scriptedCompiler{results: []compileStep{
		{err: errors.New("session with given id not found")},
	}}
	c := NewCapturer(compiler, stubStabilizer{StabilizeStable}, testCfg())

	result := c.Capture(context.Background(), &fakeClient{}, "")
	if result.Health != apperrors.HealthCDPSessionDead {
		t.Fatalf("expected CDP_SESSION_DEAD, got %v", result.Health)
	}
	if result.Attempts != 1 {
		t.Fatalf("dead session should not retry, got %d attempts", result.Attempts)
	}
}

func TestCaptureWithRecoveryRebindsOnceOnDeadSession(t *testing.T) {
	compiler := &scriptedCompiler{results: []compileStep{
		{err: errors.New("target closed")},
		{snap: &Snapshot{Nodes: []ReadableNode{{Kind: KindButton}}}},
	}}
	c := NewCapturer(compiler, stubStabilizer{StabilizeStable}, testCfg())

	rebindCalls := 0
	rebind := func(ctx context.Context) (cdp.Client, error) {
		rebindCalls++
		return &fakeClient{}, nil
	}

	result := c.CaptureWithRecovery(context.Background(), &fakeClient{}, "", rebind)
	if rebindCalls != 1 {
		t.Fatalf("expected exactly 1 rebind call, got %d", rebindCalls)
	}
	if result.Health != apperrors.HealthHealthy || !result.Rebound {
		t.Fatalf("expected recovered HEALTHY result, got %+v", result)
	}
}

func TestCaptureWithRecoveryNoRebindFnReturnsDeadSession(t *testing.T) {
	compiler := &scriptedCompiler{results: []compileStep{
		{err: errors.New("target closed")},
	}}
	c := NewCapturer(compiler, stubStabilizer{StabilizeStable}, testCfg())

	result := c.CaptureWithRecovery(context.Background(), &fakeClient{}, "", nil)
	if result.Health != apperrors.HealthCDPSessionDead || result.Rebound {
		t.Fatalf("expected unrecovered CDP_SESSION_DEAD, got %+v", result)
	}
}
