package toolsurface

import (
	"testing"

	"github.com/use-agent/browserbridge/config"
	"github.com/use-agent/browserbridge/overlay"
	"github.com/use-agent/browserbridge/snapshot"
)

func nodeAt(frameID string, backendID int, kind snapshot.Kind, label string) snapshot.ReadableNode {
	return snapshot.ReadableNode{
		CompositeKey: snapshot.CompositeKey{
			FrameID:       frameID,
			BackendNodeID: backendID,
		},
		Kind:  kind,
		Label: label,
	}
}

func TestCapElementsUnboundedWhenMaxNonPositive(t *testing.T) {
	els := []ActionableElement{{EID: "e1"}, {EID: "e2"}}
	shown, dropped := capElements(els, 0)
	if len(shown) != 2 || dropped != 0 {
		t.Fatalf("expected unbounded pass-through, got %d shown, %d dropped", len(shown), dropped)
	}
}

func TestCapElementsTruncatesAndCountsDropped(t *testing.T) {
	els := []ActionableElement{{EID: "e1"}, {EID: "e2"}, {EID: "e3"}}
	shown, dropped := capElements(els, 2)
	if len(shown) != 2 || dropped != 1 {
		t.Fatalf("expected 2 shown 1 dropped, got %d shown %d dropped", len(shown), dropped)
	}
}

func TestActionableFromSkipsTextNodes(t *testing.T) {
	nodes := []snapshot.ReadableNode{
		nodeAt("f1", 1, snapshot.KindButton, "Submit"),
		nodeAt("f1", 2, snapshot.KindText, "just some text"),
	}
	assigned := map[snapshot.CompositeKey]snapshot.EID{
		nodes[0].CompositeKey: "e1",
		nodes[1].CompositeKey: "rd-aaaa",
	}
	out := actionableFrom(assigned, nodes)
	if len(out) != 1 {
		t.Fatalf("expected 1 actionable element (text skipped), got %d", len(out))
	}
	if out[0].Label != "Submit" {
		t.Errorf("expected Submit, got %q", out[0].Label)
	}
}

func TestEstimateTokensGrowsWithActionableCount(t *testing.T) {
	small := StateResponse{Actionable: []ActionableElement{{Label: "a"}}}
	big := StateResponse{Actionable: []ActionableElement{{Label: "a"}, {Label: "b"}, {Label: "c"}}}
	if estimateTokens(big, 4) <= estimateTokens(small, 4) {
		t.Errorf("expected token estimate to grow with actionable count")
	}
}

func TestEstimateTokensDefaultsDivisorWhenNonPositive(t *testing.T) {
	resp := StateResponse{State: StateHandle{URL: "http://example.com"}}
	if estimateTokens(resp, 0) != estimateTokens(resp, 4) {
		t.Errorf("expected non-positive charsPerToken to default to 4")
	}
}

func TestBuildEnvelopeAssignsEidsAndCapsActionable(t *testing.T) {
	cfg := config.ToolSurfaceConfig{MaxActionableElements: 1, CharsPerToken: 4}
	ps := &pageState{identity: snapshot.NewIdentityRegistry(3)}

	nodes := []snapshot.ReadableNode{
		nodeAt("f1", 1, snapshot.KindButton, "First"),
		nodeAt("f1", 2, snapshot.KindLink, "Second"),
	}
	snap := &snapshot.Snapshot{
		SnapshotID: "snap-1",
		Version:    1,
		Nodes:      nodes,
	}
	resp := overlay.Response{
		Kind:     overlay.ResponseFullSnapshot,
		Snapshot: snap,
	}

	out := buildEnvelope(cfg, "page-1", "connected", "http://example.com", "Example", resp, ps)

	if out.State.SnapshotID != "snap-1" {
		t.Errorf("expected snapshot id to propagate, got %q", out.State.SnapshotID)
	}
	if len(out.Actionable) != 1 {
		t.Fatalf("expected actionable list capped to 1, got %d", len(out.Actionable))
	}
	if out.Tokens.ActionableTotal != 2 || out.Tokens.ActionableDropped != 1 {
		t.Errorf("expected total 2 dropped 1, got total %d dropped %d", out.Tokens.ActionableTotal, out.Tokens.ActionableDropped)
	}
	if out.Actionable[0].EID == "" {
		t.Errorf("expected assigned eid to be non-empty")
	}
	if ps.lastSnapshot != snap {
		t.Errorf("expected buildEnvelope to remember the last snapshot")
	}
}

func TestBuildEnvelopeDefaultsContextToBase(t *testing.T) {
	cfg := config.ToolSurfaceConfig{MaxActionableElements: 40, CharsPerToken: 4}
	ps := &pageState{identity: snapshot.NewIdentityRegistry(3)}
	resp := overlay.Response{Kind: overlay.ResponseNoChange}

	out := buildEnvelope(cfg, "page-1", "connected", "http://example.com", "Example", resp, ps)
	if out.Atoms.Context != "base" {
		t.Errorf("expected default context 'base', got %q", out.Atoms.Context)
	}
}
