package snapshot

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/cdp"
)

// StabilizeStatus is the outcome of a DOM Stabilizer wait.
type StabilizeStatus string

const (
	StabilizeStable  StabilizeStatus = "stable"
	StabilizeTimeout StabilizeStatus = "timeout"
	StabilizeError   StabilizeStatus = "error"
)

// Stabilizer reports when DOM mutations have stopped for a quiet window.
type Stabilizer interface {
	Wait(ctx context.Context, client cdp.Client, timeout time.Duration) StabilizeStatus
}

// RodStabilizer backs Stabilizer with go-rod's mutation-observer-based
// WaitDOMStable.
type RodStabilizer struct{}

func (RodStabilizer) Wait(ctx context.Context, client cdp.Client, timeout time.Duration) StabilizeStatus {
	page := cdp.UnwrapPage(client)
	if page == nil {
		return StabilizeError
	}

	done := make(chan error, 1)
	go func() {
		done <- page.Context(ctx).WaitDOMStable(200*time.Millisecond, 0.1)
	}()

	select {
	case err := <-done:
		if err == nil {
			return StabilizeStable
		}
		if apperrors.IsDeadSession(err) {
			return StabilizeError
		}
		return StabilizeTimeout
	case <-time.After(timeout):
		return StabilizeTimeout
	}
}

// StabilizeAfterActionResult is returned by StabilizeAfterAction.
type StabilizeAfterActionResult struct {
	Status   StabilizeStatus
	WaitedMS int64
	Warning  string
}

// StabilizeAfterAction implements spec §4.3's post-action stabilization:
// try the DOM stabilizer first; on an evaluation-context-destroyed style
// error (typical symptom of an in-flight navigation), fall back to
// DOM-content-loaded with a short timeout.
func StabilizeAfterAction(ctx context.Context, client cdp.Client, stabilizer Stabilizer, timeout time.Duration) StabilizeAfterActionResult {
	start := time.Now()
	status := stabilizer.Wait(ctx, client, timeout)
	if status != StabilizeError {
		return StabilizeAfterActionResult{Status: status, WaitedMS: time.Since(start).Milliseconds()}
	}

	page := cdp.UnwrapPage(client)
	if page == nil {
		return StabilizeAfterActionResult{Status: StabilizeError, WaitedMS: time.Since(start).Milliseconds(), Warning: "no underlying page"}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// Resolves once the document has left the "loading" state, i.e. at
	// DOMContentLoaded, or at once if that has already fired.
	_, err := page.Context(waitCtx).Eval(`() => new Promise(r => {
		if (document.readyState !== 'loading') { r(true); return; }
		document.addEventListener('DOMContentLoaded', () => r(true), {once: true});
	})`)
	if err != nil {
		return StabilizeAfterActionResult{
			Status:   StabilizeTimeout,
			WaitedMS: time.Since(start).Milliseconds(),
			Warning:  "stabilizer failed (likely navigation); dom-content-loaded fallback did not converge",
		}
	}
	return StabilizeAfterActionResult{
		Status:   StabilizeStable,
		WaitedMS: time.Since(start).Milliseconds(),
		Warning:  "stabilizer failed (likely navigation); recovered via dom-content-loaded wait",
	}
}

var _ *rod.Page // retained: documents that RodStabilizer depends on go-rod's Page type via cdp.UnwrapPage, not a direct import surface of its own.
