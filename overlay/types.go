// Package overlay implements the delta/overlay state machine: the layer
// that decides, turn over turn, whether an agent receives a fresh
// baseline, an incremental delta, or an overlay open/close/replace event.
package overlay

import (
	"time"

	"github.com/use-agent/browserbridge/snapshot"
)

// Mode is the Page Snapshot State's current interaction context.
type Mode string

const (
	ModeUninitialized Mode = "uninitialized"
	ModeBase          Mode = "base"
	ModeOverlay       Mode = "overlay"
)

// OverlayType classifies a detected overlay.
type OverlayType string

const (
	OverlayModal    OverlayType = "modal"
	OverlayDialog   OverlayType = "dialog"
	OverlayDropdown OverlayType = "dropdown"
)

// DetectedOverlay is one candidate overlay root found by the detection
// rules, before it is pushed onto the stack.
type DetectedOverlay struct {
	Root       snapshot.ReadableNode
	Type       OverlayType
	Confidence float64
	ZIndex     int
	DOMOrder   int
}

// knownNodeState is what the state machine remembers about one node
// across turns, keyed by its composite key: the scoped ref it was last
// seen with, plus a content fingerprint used to detect modification.
type knownNodeState struct {
	Ref   ScopedRef
	Hash  uint64
	Label string
}

// ScopedRef is a snapshot_id + composite key, portable across turns.
type ScopedRef struct {
	SnapshotID snapshot.ID
	snapshot.CompositeKey
}

// OverlayState is one entry of the overlay stack.
type OverlayState struct {
	Root          snapshot.ReadableNode
	Type          OverlayType
	Confidence    float64
	ContentHash   uint64
	Slice         []snapshot.ReadableNode
	KnownNodes    map[snapshot.CompositeKey]knownNodeState
	CapturedRefs  []ScopedRef
	ZIndex        int
}

// ResponseKind is the shape of response compute_response hands back to
// the caller.
type ResponseKind string

const (
	ResponseFullSnapshot   ResponseKind = "full_snapshot"
	ResponseNoChange       ResponseKind = "no_change"
	ResponseDelta          ResponseKind = "delta"
	ResponseOverlayOpened  ResponseKind = "overlay_opened"
	ResponseOverlayClosed  ResponseKind = "overlay_closed"
	ResponseOverlayReplace ResponseKind = "overlay_replaced"
)

// Delta is an added/removed/modified node listing between two node sets.
type Delta struct {
	Added      []snapshot.ReadableNode
	Removed    []ScopedRef
	Modified   []ModifiedNode
	Confidence float64
}

// ModifiedNode records a label change for a node present in both sides
// of a diff.
type ModifiedNode struct {
	Ref           ScopedRef
	PreviousLabel string
	CurrentLabel  string
	ChangeKind    string
}

// Response is compute_response's return value.
type Response struct {
	Kind      ResponseKind
	Reason    string
	Context   string // "base" or "overlay"
	Delta     *Delta
	Overlay   *OverlayState
	Invalid   []ScopedRef
	Snapshot  *snapshot.Snapshot
	CapturedAt time.Time
}
