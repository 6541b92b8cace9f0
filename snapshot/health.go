package snapshot

import (
	"context"
	"time"

	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/cdp"
	"github.com/use-agent/browserbridge/config"
)

// CaptureResult is the outcome of one capture_snapshot call.
type CaptureResult struct {
	Snapshot *Snapshot
	Health   apperrors.HealthCode
	Warnings Warnings
	Attempts int

	// Rebound records whether a dead-session recovery rebind occurred.
	Rebound bool
}

// Capturer wraps a Compiler and Stabilizer with the retry/recovery
// envelope from spec §4.3's capture algorithm.
type Capturer struct {
	Compiler   Compiler
	Stabilizer Stabilizer
	Cfg        config.SnapshotConfig
}

// NewCapturer builds a Capturer with the given collaborators.
func NewCapturer(compiler Compiler, stabilizer Stabilizer, cfg config.SnapshotConfig) *Capturer {
	return &Capturer{Compiler: compiler, Stabilizer: stabilizer, Cfg: cfg}
}

// Capture runs the stabilize -> compile -> classify -> retry sequence
// once, without the dead-session rebind step (that lives in
// CaptureWithRecovery, which owns the page handle needed to rebind).
func (c *Capturer) Capture(ctx context.Context, client cdp.Client, url string) CaptureResult {
	var result CaptureResult
	backoff := c.Cfg.RetryBackoff

	for attempt := 1; attempt <= maxInt(1, c.Cfg.RetryCount+1); attempt++ {
		result.Attempts = attempt

		c.Stabilizer.Wait(ctx, client, c.Cfg.StabilizerTimeout)

		snap, warnings, err := c.Compiler.Compile(ctx, client, url)
		result.Warnings = warnings

		nodeCount := 0
		if snap != nil {
			nodeCount = len(snap.Nodes)
		}
		health := apperrors.ClassifyHealth(nodeCount, err, warnings.AccessibilityTreeEmpty, warnings.DOMExtractionEmpty)
		result.Health = health
		if snap != nil {
			result.Snapshot = snap
		}

		if health == apperrors.HealthHealthy || health == apperrors.HealthCDPSessionDead {
			return result
		}
		if attempt > c.Cfg.RetryCount {
			return result
		}

		select {
		case <-ctx.Done():
			return result
		case <-time.After(backoff):
		}
	}
	return result
}

// CaptureWithRecovery wraps Capture with a rebind-once-retry-once rule: if
// the first pass classifies as CDP_SESSION_DEAD and a rebind function is
// supplied, it rebinds the underlying CDP session once and retries the
// whole capture sequence exactly once more. A nil rebind (or a rebind
// failure) returns the original dead-session result.
func (c *Capturer) CaptureWithRecovery(ctx context.Context, client cdp.Client, url string, rebind func(context.Context) (cdp.Client, error)) CaptureResult {
	result := c.Capture(ctx, client, url)
	if result.Health != apperrors.HealthCDPSessionDead || rebind == nil {
		return result
	}

	newClient, err := rebind(ctx)
	if err != nil {
		return result
	}

	retried := c.Capture(ctx, newClient, url)
	retried.Rebound = true
	retried.Attempts += result.Attempts
	return retried
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
