package toolsurface

import (
	"fmt"
	"sort"

	"github.com/use-agent/browserbridge/config"
	"github.com/use-agent/browserbridge/overlay"
	"github.com/use-agent/browserbridge/session"
	"github.com/use-agent/browserbridge/snapshot"
)

// buildEnvelope turns one overlay.Response into the agent-facing
// StateResponse: assigns eids for every node the response carries,
// builds the capped actionable list from the active layer, and fills in
// atoms/token accounting.
func buildEnvelope(cfg config.ToolSurfaceConfig, pageID session.PageID, connState, url, title string, resp overlay.Response, ps *pageState) StateResponse {
	out := StateResponse{
		State: StateHandle{
			PageID:          string(pageID),
			ConnectionState: connState,
			URL:             url,
			Title:           title,
		},
		Kind:   string(resp.Kind),
		Reason: resp.Reason,
		Atoms: UniversalAtoms{
			URL:        url,
			Title:      title,
			CapturedAt: resp.CapturedAt,
			Context:    contextOf(resp),
		},
	}

	var assigned map[snapshot.CompositeKey]snapshot.EID
	if resp.Snapshot != nil {
		out.State.SnapshotID = string(resp.Snapshot.SnapshotID)
		out.State.SnapshotVersion = resp.Snapshot.Version
		ps.identity.BeginTurn()
		assigned = ps.identity.Assign(resp.Snapshot, cfg.IncludeReadableNodes)
		ps.lastSnapshot = resp.Snapshot
	}

	if resp.Overlay != nil {
		out.Atoms.OverlayDepth = 1
		out.Overlay = &OverlayWire{
			Type:       string(resp.Overlay.Type),
			Confidence: resp.Overlay.Confidence,
			RootEID:    string(assigned[resp.Overlay.Root.CompositeKey]),
		}
	}

	if resp.Delta != nil {
		out.Delta = deltaToWire(assigned, *resp.Delta)
	}

	activeNodes := activeLayerNodes(resp)
	all := actionableFrom(assigned, activeNodes)
	shown, dropped := capElements(all, cfg.MaxActionableElements)
	out.Actionable = shown
	out.Tokens = TokenAccounting{
		ActionableTotal:   len(all),
		ActionableShown:   len(shown),
		ActionableDropped: dropped,
	}
	out.Tokens.EstimatedTokens = estimateTokens(out, cfg.CharsPerToken)
	return out
}

func contextOf(resp overlay.Response) string {
	if resp.Context != "" {
		return resp.Context
	}
	return "base"
}

// activeLayerNodes returns the node slice the active layer's actionable
// list is drawn from: the overlay's slice when one is open, otherwise the
// freshly captured snapshot's nodes.
func activeLayerNodes(resp overlay.Response) []snapshot.ReadableNode {
	if resp.Overlay != nil {
		return resp.Overlay.Slice
	}
	if resp.Snapshot != nil {
		return resp.Snapshot.Nodes
	}
	return nil
}

func actionableFrom(assigned map[snapshot.CompositeKey]snapshot.EID, nodes []snapshot.ReadableNode) []ActionableElement {
	out := make([]ActionableElement, 0, len(nodes))
	for _, n := range nodes {
		if n.Kind == snapshot.KindText || n.Kind == "" {
			continue
		}
		out = append(out, ActionableElement{
			EID:    string(assigned[n.CompositeKey]),
			Kind:   string(n.Kind),
			Label:  n.Label,
			Region: n.Where.Region,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EID < out[j].EID })
	return out
}

// capElements truncates elements to max, reporting how many were dropped.
// A non-positive max means unbounded.
func capElements(elements []ActionableElement, max int) (shown []ActionableElement, dropped int) {
	if max <= 0 || len(elements) <= max {
		return elements, 0
	}
	return elements[:max], len(elements) - max
}

func deltaToWire(assigned map[snapshot.CompositeKey]snapshot.EID, d overlay.Delta) *DeltaWire {
	wire := &DeltaWire{Confidence: d.Confidence}
	for _, n := range d.Added {
		if n.Kind == snapshot.KindText {
			continue
		}
		wire.Added = append(wire.Added, ActionableElement{
			EID:    string(assigned[n.CompositeKey]),
			Kind:   string(n.Kind),
			Label:  n.Label,
			Region: n.Where.Region,
		})
	}
	for _, r := range d.Removed {
		wire.Removed = append(wire.Removed, refLabel(r))
	}
	for _, m := range d.Modified {
		wire.Modified = append(wire.Modified, ModifiedWire{
			EID:           refLabel(m.Ref),
			PreviousLabel: m.PreviousLabel,
			CurrentLabel:  m.CurrentLabel,
			ChangeKind:    m.ChangeKind,
		})
	}
	return wire
}

func refLabel(r overlay.ScopedRef) string {
	return fmt.Sprintf("%s:%d", r.FrameID, r.BackendNodeID)
}

// estimateTokens is a cheap, tokenizer-free estimate: total body length
// (approximated from the label/field text actually shipped) divided by
// charsPerToken.
func estimateTokens(resp StateResponse, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	n := len(resp.State.URL) + len(resp.State.Title) + len(resp.Reason)
	for _, a := range resp.Actionable {
		n += len(a.Label) + len(a.Kind) + len(a.Region) + len(a.EID) + 8
	}
	if resp.Delta != nil {
		for _, a := range resp.Delta.Added {
			n += len(a.Label) + len(a.Kind) + 8
		}
		for _, m := range resp.Delta.Modified {
			n += len(m.PreviousLabel) + len(m.CurrentLabel) + 8
		}
	}
	return n / charsPerToken
}
