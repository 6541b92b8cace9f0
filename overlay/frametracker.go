package overlay

import (
	"sync"

	"github.com/use-agent/browserbridge/simhash"
	"github.com/use-agent/browserbridge/snapshot"
)

// frameInfo is what the tracker remembers about one frame.
type frameInfo struct {
	loaderID string
	refs     map[snapshot.CompositeKey]struct{}
}

// FrameTracker tracks known frames and their loader identity, and owns
// the set of node refs captured from each frame so that a frame
// navigation (loader id change) can invalidate exactly the refs that
// belonged to the document it replaced.
type FrameTracker struct {
	mu     sync.Mutex
	frames map[string]*frameInfo
}

// NewFrameTracker builds an empty tracker.
func NewFrameTracker() *FrameTracker {
	return &FrameTracker{frames: make(map[string]*frameInfo)}
}

// Track records refs as belonging to a frame at its current loader id,
// creating the frame entry if new.
func (t *FrameTracker) Track(frameID, loaderID string, key snapshot.CompositeKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.frames[frameID]
	if !ok {
		f = &frameInfo{loaderID: loaderID, refs: make(map[snapshot.CompositeKey]struct{})}
		t.frames[frameID] = f
	}
	f.refs[key] = struct{}{}
}

// DrainInvalidations checks every tracked frame against its
// loaderIDByFrame snapshot (as observed in the newest capture) and
// returns the refs of any frame whose loader id changed underneath it,
// clearing those refs from the tracker. Frames not present in the new
// observation are left untouched (they may simply be out of view, not
// navigated away).
func (t *FrameTracker) DrainInvalidations(loaderIDByFrame map[string]string) []snapshot.CompositeKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var invalid []snapshot.CompositeKey
	for frameID, f := range t.frames {
		newLoader, seen := loaderIDByFrame[frameID]
		if !seen || newLoader == f.loaderID {
			continue
		}
		for key := range f.refs {
			invalid = append(invalid, key)
		}
		f.loaderID = newLoader
		f.refs = make(map[snapshot.CompositeKey]struct{})
	}
	return invalid
}

// Prune removes the given refs from whichever frame owns them, used
// after a node has been explicitly removed from a delta or a closed
// overlay.
func (t *FrameTracker) Prune(keys []snapshot.CompositeKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range t.frames {
		for _, k := range keys {
			delete(f.refs, k)
		}
	}
}

// Reset clears all tracked frames, used on full navigation reset.
func (t *FrameTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = make(map[string]*frameInfo)
}

// VersionManager assigns monotonic versions to snapshots and reports
// whether a fresh capture represents a logical content change, using a
// simhash fingerprint over the snapshot's node labels as a cheap
// content-equality proxy.
type VersionManager struct {
	mu          sync.Mutex
	version     uint64
	fingerprint uint64
	hasPrior    bool
}

// NewVersionManager builds a VersionManager starting at version 0.
func NewVersionManager() *VersionManager {
	return &VersionManager{}
}

// Observe fingerprints snap's content and reports isNew=true (and bumps
// the version) whenever the fingerprint differs from the prior
// observation, per the "isNew=false exactly when fingerprints match"
// property.
func (vm *VersionManager) Observe(snap *snapshot.Snapshot) (version uint64, isNew bool) {
	fp := fingerprintSnapshot(snap)

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.hasPrior && fp == vm.fingerprint {
		return vm.version, false
	}
	vm.version++
	vm.fingerprint = fp
	vm.hasPrior = true
	return vm.version, true
}

// Reset zeroes the version manager, used on full navigation reset.
func (vm *VersionManager) Reset() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.version = 0
	vm.fingerprint = 0
	vm.hasPrior = false
}

func fingerprintSnapshot(snap *snapshot.Snapshot) uint64 {
	if snap == nil || len(snap.Nodes) == 0 {
		return 0
	}
	var sb []byte
	for _, n := range snap.Nodes {
		sb = append(sb, n.Label...)
		sb = append(sb, ' ')
	}
	return simhash.Fingerprint(string(sb))
}

// contentHash fingerprints a single node's label and structural facts,
// used by the delta computation to detect "modified" nodes.
func contentHash(n snapshot.ReadableNode) uint64 {
	s := n.Label + "|" + n.Where.GroupPath + "|" + string(n.Kind)
	if n.State != nil {
		if n.State.Checked {
			s += "|checked"
		}
		if n.State.Expanded {
			s += "|expanded"
		}
		if n.State.Invalid {
			s += "|invalid"
		}
	}
	return simhash.Fingerprint(s)
}
