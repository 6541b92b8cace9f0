package snapshot

import (
	"crypto/fnv"
	"fmt"
	"sync"

	"github.com/use-agent/browserbridge/apperrors"
)

// EID is an agent-facing opaque element identifier (spec §3's "eid").
type EID string

type eidEntry struct {
	eid           EID
	key           CompositeKey
	lastSeenTurn  int
	interactive   bool
}

// IdentityRegistry assigns and resolves stable eids keyed by
// (snapshot_id, backend_node_id). Interactive elements get a short
// sequential eid ("e1", "e2", ...); readable non-interactive nodes, when
// requested, get a content-hash-derived eid prefixed "rd-". An eid goes
// stale once its element has been absent from the most recent snapshot
// for staleAfterTurns consecutive turns.
type IdentityRegistry struct {
	mu              sync.Mutex
	staleAfterTurns int

	bySnapshotAndNode map[ID]map[int]*eidEntry
	byEID             map[EID]*eidEntry
	byKey             map[CompositeKey]*eidEntry

	nextSeq uint64
	curTurn int
}

// NewIdentityRegistry builds a registry with the given staleness horizon.
func NewIdentityRegistry(staleAfterTurns int) *IdentityRegistry {
	if staleAfterTurns <= 0 {
		staleAfterTurns = 1
	}
	return &IdentityRegistry{
		staleAfterTurns:   staleAfterTurns,
		bySnapshotAndNode: make(map[ID]map[int]*eidEntry),
		byEID:             make(map[EID]*eidEntry),
		byKey:             make(map[CompositeKey]*eidEntry),
	}
}

// BeginTurn advances the registry's turn counter. Entries are never
// removed; Resolve and IsStale judge staleness against the counter. Call
// once per agent turn, before Assign.
func (r *IdentityRegistry) BeginTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.curTurn++
}

// Assign reconciles a freshly captured snapshot's nodes against known
// eids: nodes whose composite key was seen in a prior turn keep their
// eid; new interactive nodes get a fresh sequential eid; readable nodes
// get a content-hash eid only when includeReadable is true.
func (r *IdentityRegistry) Assign(snap *Snapshot, includeReadable bool) map[CompositeKey]EID {
	r.mu.Lock()
	defer r.mu.Unlock()

	assigned := make(map[CompositeKey]EID, len(snap.Nodes))
	nodesBySnapshot, ok := r.bySnapshotAndNode[snap.SnapshotID]
	if !ok {
		nodesBySnapshot = make(map[int]*eidEntry)
		r.bySnapshotAndNode[snap.SnapshotID] = nodesBySnapshot
	}

	for i := range snap.Nodes {
		node := &snap.Nodes[i]
		interactive := node.Kind != KindText && node.Kind != ""
		if !interactive && !includeReadable {
			continue
		}

		if entry, found := r.findByKey(node.CompositeKey); found {
			entry.lastSeenTurn = r.curTurn
			nodesBySnapshot[node.BackendNodeID] = entry
			assigned[node.CompositeKey] = entry.eid
			continue
		}

		var eid EID
		if interactive {
			r.nextSeq++
			eid = EID(fmt.Sprintf("e%d", r.nextSeq))
		} else {
			eid = EID("rd-" + contentHash(node))
		}

		entry := &eidEntry{eid: eid, key: node.CompositeKey, lastSeenTurn: r.curTurn, interactive: interactive}
		nodesBySnapshot[node.BackendNodeID] = entry
		r.byEID[eid] = entry
		r.byKey[node.CompositeKey] = entry
		assigned[node.CompositeKey] = eid
	}
	return assigned
}

// Resolve returns the composite key for a known, non-stale eid.
func (r *IdentityRegistry) Resolve(eid EID) (CompositeKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byEID[eid]
	if !ok {
		return CompositeKey{}, apperrors.New(apperrors.CodeElementNotFound, "eid not registered").WithDetail("eid", string(eid))
	}
	if r.curTurn-entry.lastSeenTurn >= r.staleAfterTurns {
		return CompositeKey{}, apperrors.New(apperrors.CodeStaleElement, "eid is stale").WithDetail("eid", string(eid))
	}
	return entry.key, nil
}

// IsStale reports whether eid is registered but has crossed the
// staleness horizon, without erroring on an unknown eid.
func (r *IdentityRegistry) IsStale(eid EID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byEID[eid]
	if !ok {
		return false
	}
	return r.curTurn-entry.lastSeenTurn >= r.staleAfterTurns
}

func (r *IdentityRegistry) findByKey(key CompositeKey) (*eidEntry, bool) {
	entry, ok := r.byKey[key]
	return entry, ok
}

// contentHash derives a stable short hash for a readable node from its
// label, frame id and backend node id (the loader id is not hashed), used
// as the "rd-" eid suffix.
func contentHash(node *ReadableNode) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(node.Label))
	_, _ = h.Write([]byte(node.FrameID))
	_, _ = h.Write([]byte(fmt.Sprintf("%d", node.BackendNodeID)))
	return fmt.Sprintf("%x", h.Sum64())[:10]
}
