package overlay

import (
	"sync"

	"github.com/use-agent/browserbridge/config"
	"github.com/use-agent/browserbridge/simhash"
	"github.com/use-agent/browserbridge/snapshot"
)

// FrameInfo is the cheap, pre-capture frame probe compute_response needs
// before deciding whether a full capture is even warranted: the current
// main-frame loader id, and a loader id per known frame (used to drain
// frame invalidations).
type FrameInfo struct {
	MainFrameLoaderID string
	LoaderIDByFrame   map[string]string
}

// PageSnapshotState is the delta/overlay state machine for one page. The
// overlay stack and baseline maps are owned here and mutated only from
// ComputeResponse / PreValidationAdvance, per the single-writer
// concurrency policy of the plane this type belongs to.
type PageSnapshotState struct {
	mu sync.Mutex

	mode              Mode
	baseline          *snapshot.Snapshot
	baselineNodes     map[snapshot.CompositeKey]knownNodeState
	contextNodes      map[snapshot.CompositeKey]knownNodeState
	overlayStack      []*OverlayState
	mainFrameLoaderID string

	frames   *FrameTracker
	versions *VersionManager
	cfg      config.OverlayConfig
}

// NewPageSnapshotState builds an uninitialized state machine.
func NewPageSnapshotState(cfg config.OverlayConfig) *PageSnapshotState {
	return &PageSnapshotState{
		mode:     ModeUninitialized,
		frames:   NewFrameTracker(),
		versions: NewVersionManager(),
		cfg:      cfg,
	}
}

// Mode reports the current interaction context.
func (s *PageSnapshotState) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ComputeResponse runs one turn of the algorithm from spec §4.4: lazily
// initialize, drain frame invalidations, detect full navigation, capture
// (short-circuiting on no logical change), run overlay detection, and
// dispatch to the matching handler.
func (s *PageSnapshotState) ComputeResponse(info FrameInfo, captureFn func() (*snapshot.Snapshot, error)) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeUninitialized {
		snap, err := captureFn()
		if err != nil {
			return Response{}, err
		}
		return s.initializeLocked(snap, info.MainFrameLoaderID, "first"), nil
	}

	invalidated := s.frames.DrainInvalidations(info.LoaderIDByFrame)

	if info.MainFrameLoaderID != "" && info.MainFrameLoaderID != s.mainFrameLoaderID {
		snap, err := captureFn()
		if err != nil {
			return Response{}, err
		}
		return s.initializeLocked(snap, info.MainFrameLoaderID, "full page navigation detected"), nil
	}

	snap, err := captureFn()
	if err != nil {
		return Response{}, err
	}

	_, isNew := s.versions.Observe(snap)
	if !isNew && len(invalidated) == 0 {
		return Response{Kind: ResponseNoChange, CapturedAt: snap.CapturedAt}, nil
	}

	detected := DetectOverlays(snap.Nodes, s.cfg.ZIndexThreshold)
	return s.handleDetectionLocked(snap, detected, toScopedRefs(snap.SnapshotID, invalidated)), nil
}

// PreValidationAdvance applies a pre-validated capture taken ahead of an
// action. In base mode the baseline advances outright; in overlay mode
// the baseline is frozen and only the top overlay's slice/refs refresh,
// so the post-action diff does not double-count this pre-action change.
func (s *PageSnapshotState) PreValidationAdvance(snap *snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeBase:
		s.baseline = snap
		s.baselineNodes = newKnownMap(snap.SnapshotID, snap.Nodes)
		s.contextNodes = s.baselineNodes
	case ModeOverlay:
		if len(s.overlayStack) == 0 {
			return
		}
		top := s.overlayStack[len(s.overlayStack)-1]
		freshSlice := overlaySlice(snap.Nodes)
		top.Slice = freshSlice
		top.KnownNodes = newKnownMap(snap.SnapshotID, freshSlice)
		top.CapturedRefs = refsFromKnownMap(top.KnownNodes)
		s.contextNodes = top.KnownNodes
	}
}

func (s *PageSnapshotState) initializeLocked(snap *snapshot.Snapshot, mainLoaderID, reason string) Response {
	s.baseline = snap
	s.baselineNodes = newKnownMap(snap.SnapshotID, snap.Nodes)
	s.contextNodes = s.baselineNodes
	s.mode = ModeBase
	s.mainFrameLoaderID = mainLoaderID
	s.overlayStack = nil

	s.frames.Reset()
	s.versions.Reset()
	s.versions.Observe(snap)
	for _, n := range snap.Nodes {
		s.frames.Track(n.FrameID, n.LoaderID, n.CompositeKey)
	}

	return Response{Kind: ResponseFullSnapshot, Reason: reason, Context: "base", Snapshot: snap, CapturedAt: snap.CapturedAt}
}

func (s *PageSnapshotState) handleDetectionLocked(snap *snapshot.Snapshot, detected []DetectedOverlay, invalidated []ScopedRef) Response {
	switch {
	case len(detected) > len(s.overlayStack):
		return s.handleOpenLocked(snap, detected, invalidated)
	case len(detected) < len(s.overlayStack):
		return s.handleCloseLocked(snap, invalidated)
	case len(detected) > 0:
		top := s.overlayStack[len(s.overlayStack)-1]
		newTop := detected[len(detected)-1]
		if newTop.Root.CompositeKey != top.Root.CompositeKey {
			return s.handleReplaceLocked(snap, detected, invalidated)
		}
		return s.handleOverlayContentChangeLocked(snap, invalidated)
	default:
		return s.handleBasePageChangeLocked(snap, invalidated)
	}
}

func (s *PageSnapshotState) buildOverlay(snap *snapshot.Snapshot, det DetectedOverlay) *OverlayState {
	slice := overlaySlice(snap.Nodes)
	known := newKnownMap(snap.SnapshotID, slice)
	return &OverlayState{
		Root:         det.Root,
		Type:         det.Type,
		Confidence:   det.Confidence,
		ContentHash:  simhash.Fingerprint(labelsOf(slice)),
		Slice:        slice,
		KnownNodes:   known,
		CapturedRefs: refsFromKnownMap(known),
		ZIndex:       det.ZIndex,
	}
}

func (s *PageSnapshotState) handleOpenLocked(snap *snapshot.Snapshot, detected []DetectedOverlay, invalidated []ScopedRef) Response {
	newest := detected[len(detected)-1]
	ov := s.buildOverlay(snap, newest)

	s.overlayStack = append(s.overlayStack, ov)
	s.mode = ModeOverlay
	s.contextNodes = ov.KnownNodes
	s.frames.Prune(keysOf(invalidated))

	return Response{
		Kind:       ResponseOverlayOpened,
		Context:    "overlay",
		Overlay:    ov,
		Invalid:    invalidated,
		Snapshot:   snap,
		CapturedAt: snap.CapturedAt,
	}
}

func (s *PageSnapshotState) handleCloseLocked(snap *snapshot.Snapshot, invalidated []ScopedRef) Response {
	n := len(s.overlayStack)
	popped := s.overlayStack[n-1]
	s.overlayStack = s.overlayStack[:n-1]

	invalid := append(append([]ScopedRef{}, popped.CapturedRefs...), invalidated...)

	if len(s.overlayStack) > 0 {
		top := s.overlayStack[len(s.overlayStack)-1]
		s.mode = ModeOverlay
		s.contextNodes = top.KnownNodes
		return Response{Kind: ResponseOverlayClosed, Context: "overlay", Overlay: top, Invalid: invalid, Snapshot: snap, CapturedAt: snap.CapturedAt}
	}

	s.mode = ModeBase
	nonOverlay := nonOverlaySlice(snap.Nodes)
	delta := Diff(snap.SnapshotID, nonOverlay, s.baselineNodes)
	s.baseline = &snapshot.Snapshot{
		SnapshotID:        snap.SnapshotID,
		Version:           snap.Version,
		URL:               snap.URL,
		Title:             snap.Title,
		CapturedAt:        snap.CapturedAt,
		Nodes:             nonOverlay,
		MainFrameLoaderID: snap.MainFrameLoaderID,
	}
	s.baselineNodes = newKnownMap(snap.SnapshotID, nonOverlay)
	s.contextNodes = s.baselineNodes
	s.frames.Prune(keysOf(delta.Removed))

	return Response{Kind: ResponseOverlayClosed, Context: "base", Delta: &delta, Invalid: invalid, Snapshot: snap, CapturedAt: snap.CapturedAt}
}

func (s *PageSnapshotState) handleReplaceLocked(snap *snapshot.Snapshot, detected []DetectedOverlay, invalidated []ScopedRef) Response {
	n := len(s.overlayStack)
	old := s.overlayStack[n-1]
	newest := detected[len(detected)-1]
	ov := s.buildOverlay(snap, newest)

	s.overlayStack[n-1] = ov
	s.mode = ModeOverlay
	s.contextNodes = ov.KnownNodes

	invalid := append(append([]ScopedRef{}, old.CapturedRefs...), invalidated...)
	s.frames.Prune(keysOf(invalidated))

	return Response{Kind: ResponseOverlayReplace, Context: "overlay", Overlay: ov, Invalid: invalid, Snapshot: snap, CapturedAt: snap.CapturedAt}
}

func (s *PageSnapshotState) handleOverlayContentChangeLocked(snap *snapshot.Snapshot, invalidated []ScopedRef) Response {
	top := s.overlayStack[len(s.overlayStack)-1]
	freshSlice := overlaySlice(snap.Nodes)
	delta := Diff(snap.SnapshotID, freshSlice, top.KnownNodes)

	top.Slice = freshSlice
	top.KnownNodes = newKnownMap(snap.SnapshotID, freshSlice)
	top.ContentHash = simhash.Fingerprint(labelsOf(freshSlice))
	s.contextNodes = top.KnownNodes
	s.frames.Prune(keysOf(delta.Removed))

	delta.Removed = append(delta.Removed, invalidated...)
	return Response{Kind: ResponseDelta, Context: "overlay", Delta: &delta, Overlay: top, Snapshot: snap, CapturedAt: snap.CapturedAt}
}

func (s *PageSnapshotState) handleBasePageChangeLocked(snap *snapshot.Snapshot, invalidated []ScopedRef) Response {
	delta := Diff(snap.SnapshotID, snap.Nodes, s.baselineNodes)

	if !IsReliable(delta, len(snap.Nodes), s.cfg.MaxReliableChangeRatio) {
		return s.initializeLocked(snap, s.mainFrameLoaderID, "delta unreliable")
	}

	s.baseline = snap
	s.baselineNodes = newKnownMap(snap.SnapshotID, snap.Nodes)
	s.contextNodes = s.baselineNodes
	s.frames.Prune(keysOf(delta.Removed))

	delta.Removed = append(delta.Removed, invalidated...)
	return Response{Kind: ResponseDelta, Context: "base", Delta: &delta, Snapshot: snap, CapturedAt: snap.CapturedAt}
}

func refsFromKnownMap(m map[snapshot.CompositeKey]knownNodeState) []ScopedRef {
	refs := make([]ScopedRef, 0, len(m))
	for _, v := range m {
		refs = append(refs, v.Ref)
	}
	return refs
}

func keysOf(refs []ScopedRef) []snapshot.CompositeKey {
	keys := make([]snapshot.CompositeKey, len(refs))
	for i, r := range refs {
		keys[i] = r.CompositeKey
	}
	return keys
}


func toScopedRefs(snapshotID snapshot.ID, keys []snapshot.CompositeKey) []ScopedRef {
	refs := make([]ScopedRef, len(keys))
	for i, k := range keys {
		refs[i] = ScopedRef{SnapshotID: snapshotID, CompositeKey: k}
	}
	return refs
}

func labelsOf(nodes []snapshot.ReadableNode) string {
	var sb []byte
	for _, n := range nodes {
		sb = append(sb, n.Label...)
		sb = append(sb, ' ')
	}
	return string(sb)
}
