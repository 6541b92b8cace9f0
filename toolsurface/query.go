package toolsurface

import (
	"context"
	"strings"

	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/session"
	"github.com/use-agent/browserbridge/snapshot"
)

// FindElementsArgs carries find_elements' recognized filters. Empty fields
// match anything.
type FindElementsArgs struct {
	Kind          string
	Region        string
	LabelContains string
}

// HandleFindElements re-observes the active page and returns the subset of
// its actionable layer matching args, per spec §6's find_elements verb.
func (s *Server) HandleFindElements(ctx context.Context, pageID string, args FindElementsArgs) (StateResponse, error) {
	resp, err := s.HandleCaptureSnapshot(ctx, pageID)
	if err != nil {
		return StateResponse{}, err
	}
	matched := make([]ActionableElement, 0, len(resp.Actionable))
	for _, el := range resp.Actionable {
		if args.Kind != "" && !strings.EqualFold(el.Kind, args.Kind) {
			continue
		}
		if args.Region != "" && !strings.EqualFold(el.Region, args.Region) {
			continue
		}
		if args.LabelContains != "" && !strings.Contains(strings.ToLower(el.Label), strings.ToLower(args.LabelContains)) {
			continue
		}
		matched = append(matched, el)
	}
	resp.Actionable = matched
	resp.Tokens.ActionableShown = len(matched)
	resp.Tokens.EstimatedTokens = estimateTokens(resp, s.Cfg.CharsPerToken)
	return resp, nil
}

// HandleGetNodeDetails returns the full-fidelity record for one eid, per
// spec §6's get_node_details verb.
func (s *Server) HandleGetNodeDetails(pageID, eid string) (NodeDetails, error) {
	id := session.PageID(pageID)
	h, err := s.Manager.ResolvePage(id)
	if err != nil {
		return NodeDetails{}, err
	}
	ps := s.stateFor(h.PageID)

	key, err := ps.identity.Resolve(snapshot.EID(eid))
	if err != nil {
		return NodeDetails{}, err
	}
	if ps.lastSnapshot == nil {
		return NodeDetails{}, apperrors.New(apperrors.CodeSnapshotRequired, "no snapshot captured for this page yet")
	}
	node, ok := ps.lastSnapshot.NodeByKey(key)
	if !ok {
		return NodeDetails{}, apperrors.New(apperrors.CodeElementNotFound, "eid resolved to a key absent from the last snapshot").
			WithDetail("eid", eid)
	}

	details := NodeDetails{
		EID:        eid,
		Kind:       string(node.Kind),
		Label:      node.Label,
		Region:     node.Where.Region,
		GroupPath:  node.Where.GroupPath,
		BBox:       node.Layout.BBox,
		ARIARole:   node.ARIARole,
		ClassName:  node.ClassName,
		Attributes: node.Attributes,
	}
	if node.State != nil {
		details.Visible = node.State.Visible
		details.Enabled = node.State.Enabled
	}
	if node.Find != nil {
		if node.Find.Primary != "" {
			details.Locators = append(details.Locators, node.Find.Primary)
		}
		details.Locators = append(details.Locators, node.Find.Alternates...)
	}
	return details, nil
}
