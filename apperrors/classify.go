package apperrors

import "strings"

// staleElementSignatures are native CDP error-message substrings that
// indicate the referenced DOM node no longer exists. The debugger protocol
// does not expose a structured code for this, so matching by message text
// is a deliberate, documented compatibility shim (spec §9) rather than an
// oversight. Centralized here as the single place that knows the
// recognized substrings, so it can be replaced if the protocol ever grows
// a real code.
var staleElementSignatures = []string{
	"no node for given backend id",
	"node is detached from document",
	"node has been deleted",
	"could not find node",
}

// deadSessionSignatures indicate the CDP session for a target is gone and
// a rebind, not a retry, is required.
var deadSessionSignatures = []string{
	"session closed",
	"session with given id not found",
	"target closed",
	"no target with given id found",
	"websocket closed",
	"context is destroyed",
	"execution context was destroyed",
}

// IsStaleElement reports whether err's message matches one of the known
// stale-element signatures.
func IsStaleElement(err error) bool {
	return matchesAny(err, staleElementSignatures)
}

// IsDeadSession reports whether err's message matches one of the known
// dead-CDP-session signatures.
func IsDeadSession(err error) bool {
	return matchesAny(err, deadSessionSignatures)
}

func matchesAny(err error, signatures []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// HealthCode is one of the snapshot health codes in spec §4.3, as
// returned by ClassifyHealth.
type HealthCode string

const (
	HealthHealthy       HealthCode = "HEALTHY"
	HealthPendingDOM    HealthCode = "PENDING_DOM"
	HealthAXEmpty       HealthCode = "AX_EMPTY"
	HealthDOMEmpty      HealthCode = "DOM_EMPTY"
	HealthCDPSessionDead HealthCode = "CDP_SESSION_DEAD"
	HealthUnknown       HealthCode = "UNKNOWN"
)

// ClassifyHealth implements the health code mapping from spec §4.3: it
// maps a capture-time failure signature to a HealthCode. nodeCount is the
// node count of the (possibly empty) snapshot that was produced before
// classification; a non-nil captureErr always wins.
func ClassifyHealth(nodeCount int, captureErr error, axWarning, domWarning bool) HealthCode {
	if captureErr != nil {
		if IsDeadSession(captureErr) {
			return HealthCDPSessionDead
		}
		return HealthUnknown
	}
	if nodeCount > 0 {
		return HealthHealthy
	}
	switch {
	case axWarning:
		return HealthAXEmpty
	case domWarning:
		return HealthDOMEmpty
	default:
		return HealthPendingDOM
	}
}
