package overlay

import "github.com/use-agent/browserbridge/snapshot"

// Diff computes {added, removed, modified, confidence} between an old
// node set (represented only by knownMap, since old_nodes themselves are
// no longer needed once their hashes are recorded) and a fresh node set.
// removed refs are recovered from knownMap before it is overwritten by
// the caller, per spec §4.4's "collect removed refs before mutating
// maps" ordering requirement.
func Diff(snapshotID snapshot.ID, newNodes []snapshot.ReadableNode, knownMap map[snapshot.CompositeKey]knownNodeState) Delta {
	newByKey := make(map[snapshot.CompositeKey]snapshot.ReadableNode, len(newNodes))
	for _, n := range newNodes {
		newByKey[n.CompositeKey] = n
	}

	var added []snapshot.ReadableNode
	var modified []ModifiedNode

	for key, n := range newByKey {
		prior, known := knownMap[key]
		if !known {
			added = append(added, n)
			continue
		}
		hash := contentHash(n)
		if hash != prior.Hash {
			modified = append(modified, ModifiedNode{
				Ref:           ScopedRef{SnapshotID: snapshotID, CompositeKey: key},
				PreviousLabel: prior.Label,
				CurrentLabel:  n.Label,
				ChangeKind:    "label",
			})
		}
	}

	var removed []ScopedRef
	for key, prior := range knownMap {
		if _, stillPresent := newByKey[key]; !stillPresent {
			removed = append(removed, prior.Ref)
		}
	}

	confidence := computeConfidence(len(added), len(removed), len(modified), len(newNodes))
	return Delta{Added: added, Removed: removed, Modified: modified, Confidence: confidence}
}

// computeConfidence is a pure, monotonic function of the change counts
// and the fresh node count: confidence decreases as the fraction of
// nodes that changed grows, and is 1.0 when nothing changed (including
// the degenerate case of an empty snapshot with no prior knowledge).
// Held to [0, 1] by construction since changed <= newCount + changed
// only when removed nodes aren't in newCount; we normalize against
// max(newCount, changed) so confidence never goes negative.
func computeConfidence(added, removed, modified, newCount int) float64 {
	changed := added + removed + modified
	if changed == 0 {
		return 1.0
	}
	denom := newCount
	if changed > denom {
		denom = changed
	}
	return 1.0 - float64(changed)/float64(denom)
}

// IsReliable is the reliability predicate: true when the change volume
// implied by delta is plausible relative to the fresh node count.
// Deterministic and side-effect free.
func IsReliable(delta Delta, newCount int, maxChangeRatio float64) bool {
	changed := len(delta.Added) + len(delta.Removed) + len(delta.Modified)
	if changed == 0 {
		return true
	}
	denom := newCount
	if denom == 0 {
		denom = 1
	}
	ratio := float64(changed) / float64(denom)
	return ratio <= maxChangeRatio
}

// newKnownMap builds a fresh composite-key -> knownNodeState map from a
// node list, for use as the next turn's baseline_nodes or overlay
// known-nodes map.
func newKnownMap(snapshotID snapshot.ID, nodes []snapshot.ReadableNode) map[snapshot.CompositeKey]knownNodeState {
	m := make(map[snapshot.CompositeKey]knownNodeState, len(nodes))
	for _, n := range nodes {
		m[n.CompositeKey] = knownNodeState{
			Ref:   ScopedRef{SnapshotID: snapshotID, CompositeKey: n.CompositeKey},
			Hash:  contentHash(n),
			Label: n.Label,
		}
	}
	return m
}
