// Package toolsurface binds the agent-facing verbs (launch_browser,
// navigate, click, …) to the session, snapshot, and overlay packages,
// registering each as an MCP tool over stdio. It is a thin layer: input
// parsing and dispatch, response-envelope assembly, and the narrow
// error-recovery policies spec'd for actions (stale-element retry,
// navigation-aware click outcomes). Everything else is delegated.
package toolsurface

import (
	"time"

	"github.com/use-agent/browserbridge/overlay"
	"github.com/use-agent/browserbridge/snapshot"
)

// StateHandle identifies the state a response describes: which page,
// what connection state, and the page's own facts as of capture.
type StateHandle struct {
	PageID          string `json:"page_id"`
	ConnectionState string `json:"connection_state"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	SnapshotID      string `json:"snapshot_id,omitempty"`
	SnapshotVersion uint64 `json:"snapshot_version,omitempty"`
}

// ActionableElement is one capped entry of the active layer's actionable
// list: enough for an agent to target and describe an element without
// shipping the full node record.
type ActionableElement struct {
	EID    string `json:"eid"`
	Kind   string `json:"kind"`
	Label  string `json:"label"`
	Region string `json:"region,omitempty"`
}

// UniversalAtoms is the small, always-present set of facts every state
// response carries regardless of response kind, for an agent that only
// wants the page's current coordinates.
type UniversalAtoms struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	CapturedAt   time.Time `json:"captured_at"`
	Context      string    `json:"context"` // "base" or "overlay"
	OverlayDepth int       `json:"overlay_depth"`
}

// DeltaWire is the wire shape of an added/removed/modified delta.
type DeltaWire struct {
	Added      []ActionableElement `json:"added,omitempty"`
	Removed    []string            `json:"removed,omitempty"`
	Modified   []ModifiedWire      `json:"modified,omitempty"`
	Confidence float64             `json:"confidence"`
}

// ModifiedWire is the wire shape of one modified-node entry.
type ModifiedWire struct {
	EID           string `json:"eid"`
	PreviousLabel string `json:"previous_label"`
	CurrentLabel  string `json:"current_label"`
	ChangeKind    string `json:"change_kind"`
}

// TokenAccounting reports the estimated token cost of the response body
// and how much of the actionable layer was dropped to stay under the cap.
type TokenAccounting struct {
	EstimatedTokens   int `json:"estimated_tokens"`
	ActionableTotal   int `json:"actionable_total"`
	ActionableShown   int `json:"actionable_shown"`
	ActionableDropped int `json:"actionable_dropped"`
}

// StateResponse is the "state response" every verb returns per spec §6:
// a state handle, an incremental diff (or full snapshot reason), a capped
// actionable-elements list, universal atoms, and token accounting.
type StateResponse struct {
	State      StateHandle         `json:"state"`
	Kind       string              `json:"kind"`
	Reason     string              `json:"reason,omitempty"`
	Delta      *DeltaWire          `json:"delta,omitempty"`
	Overlay    *OverlayWire        `json:"overlay,omitempty"`
	Actionable []ActionableElement `json:"actionable_elements"`
	Atoms      UniversalAtoms      `json:"atoms"`
	Tokens     TokenAccounting     `json:"tokens"`
	Note       string              `json:"note,omitempty"`
	Navigated  bool                `json:"navigated,omitempty"`
}

// OverlayWire is the wire shape of an active overlay.
type OverlayWire struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	RootEID    string  `json:"root_eid,omitempty"`
}

// NodeDetails is the full-fidelity record get_node_details returns for one
// eid: everything a capped ActionableElement omits.
type NodeDetails struct {
	EID        string            `json:"eid"`
	Kind       string            `json:"kind"`
	Label      string            `json:"label"`
	Region     string            `json:"region,omitempty"`
	GroupPath  string            `json:"group_path,omitempty"`
	BBox       snapshot.BBox     `json:"bbox"`
	Visible    bool              `json:"visible"`
	Enabled    bool              `json:"enabled"`
	ARIARole   string            `json:"aria_role,omitempty"`
	ClassName  string            `json:"class_name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Locators   []string          `json:"locators,omitempty"`
}

// pageState bundles the per-page collaborators the response pipeline
// needs: the delta/overlay machine and the identity registry assigning
// eids. One exists per registered page for the session's lifetime.
type pageState struct {
	overlay  *overlay.PageSnapshotState
	identity *snapshot.IdentityRegistry

	// lastSnapshot is the most recent full capture, kept so get_node_details
	// can look up a node's full record by eid without forcing a new capture.
	lastSnapshot *snapshot.Snapshot
}

