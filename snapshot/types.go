// Package snapshot defines the page snapshot data model and the
// capture/health/recovery envelope around the (external) snapshot
// compiler.
package snapshot

import "time"

// ID is a fresh, process-unique identifier assigned to every snapshot.
type ID string

// CompositeKey uniquely identifies a node within one snapshot: spec §3's
// (frame_id, loader_id, backend_node_id) triple.
type CompositeKey struct {
	FrameID       string
	LoaderID      string
	BackendNodeID int
}

// ScopedElementRef is the only safe way to target an element across turns.
type ScopedElementRef struct {
	SnapshotID ID
	CompositeKey
}

// Kind is the semantic role of a readable node.
type Kind string

const (
	KindButton  Kind = "button"
	KindLink    Kind = "link"
	KindInput   Kind = "input"
	KindHeading Kind = "heading"
	KindDialog  Kind = "dialog"
	KindText    Kind = "text"
	KindOther   Kind = "other"
)

// Where locates a node within the page's semantic structure.
type Where struct {
	Region         string
	GroupID        string
	GroupPath      string
	HeadingContext string
}

// BBox is a CSS-pixel bounding box.
type BBox struct {
	X, Y, Width, Height float64
}

// Layout carries layout facts about a node.
type Layout struct {
	BBox       BBox
	Display    string
	ScreenZone string
}

// State carries optional interactive-state facts about a node.
type State struct {
	Visible  bool
	Enabled  bool
	Checked  bool
	Expanded bool
	Focused  bool
	Required bool
	Invalid  bool
	Readonly bool
}

// Locators describes how to re-find a node via external selector engines.
type Locators struct {
	Primary    string
	Alternates []string
}

// ReadableNode is one entry of a snapshot's node list.
type ReadableNode struct {
	CompositeKey
	Kind       Kind
	Label      string
	Where      Where
	Layout     Layout
	State      *State
	Attributes map[string]string
	Find       *Locators

	// ZIndex is optional; "" represents the extractor's "undefined" value,
	// preserved verbatim per the z-index open question (see overlay
	// package).
	ZIndex string

	// ARIARole/ARIAModal back the overlay-detection rules in the overlay
	// package.
	ARIARole  string
	ARIAModal bool

	// ClassName is used by the class-pattern overlay rule.
	ClassName string
}

// Snapshot is an immutable capture of a page's semantic state.
type Snapshot struct {
	SnapshotID ID
	Version    uint64
	URL        string
	Title      string
	Viewport   BBox
	CapturedAt time.Time
	Nodes      []ReadableNode

	// MainFrameLoaderID records the loader identity of the main frame at
	// capture time, used by the overlay package's full-navigation check.
	MainFrameLoaderID string

	// Partial is set by the compiler when the snapshot is usable but known
	// incomplete (spec §4.3's "still usable" classification).
	Partial bool

	// InteractiveCount is the number of nodes with a non-text Kind.
	InteractiveCount int
}

// NodeByKey finds a node by its composite key.
func (s *Snapshot) NodeByKey(k CompositeKey) (*ReadableNode, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].CompositeKey == k {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}
