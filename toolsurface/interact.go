package toolsurface

import (
	"context"

	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/cdp"
	"github.com/use-agent/browserbridge/session"
	"github.com/use-agent/browserbridge/snapshot"
)

// resolvedNode is what an action needs about the eid it targets: enough to
// issue a CDP command against the right frame's backend node.
type resolvedNode struct {
	key    snapshot.CompositeKey
	client cdp.Client
	handle *session.PageHandle
}

// resolveTarget resolves pageID/eid to the live client and backend node the
// action dispatchers operate on.
func (s *Server) resolveTarget(pageID, eid string) (*pageState, resolvedNode, error) {
	h, err := s.Manager.ResolvePage(session.PageID(pageID))
	if err != nil {
		return nil, resolvedNode{}, err
	}
	ps := s.stateFor(h.PageID)
	key, err := ps.identity.Resolve(snapshot.EID(eid))
	if err != nil {
		return nil, resolvedNode{}, err
	}
	return ps, resolvedNode{key: key, client: h.Client(), handle: h}, nil
}

// withStaleRetry runs op against the resolved node; if it fails with a
// stale-element signature and retries are enabled, the page is recaptured
// once to refresh the identity registry and op is retried once against the
// (possibly unchanged) backend node.
func (s *Server) withStaleRetry(ctx context.Context, pageID, eid string, op func(resolvedNode) error) (recovered bool, err error) {
	ps, node, err := s.resolveTarget(pageID, eid)
	if err != nil {
		return false, err
	}
	err = op(node)
	if err == nil || !s.Cfg.StaleRetryEnabled || !apperrors.IsStaleElement(err) {
		return false, err
	}

	if _, rerr := s.computeResponse(ctx, node.handle.PageID); rerr != nil {
		return false, err
	}
	key, rerr := ps.identity.Resolve(snapshot.EID(eid))
	if rerr != nil {
		return false, err
	}
	node.key = key
	if rerr := op(node); rerr != nil {
		return false, err
	}
	return true, nil
}

// HandleClick dispatches a click at eid, per spec §6's click verb. A
// stale-element error that coincides with a navigation (URL or loader id
// changed between the pre- and post-click probes) is reported as a
// successful, navigation-causing click rather than a failure.
func (s *Server) HandleClick(ctx context.Context, pageID, eid string) (StateResponse, error) {
	_, node, err := s.resolveTarget(pageID, eid)
	if err != nil {
		return StateResponse{}, err
	}
	preURL := node.handle.Metadata.URL
	preInfo, _ := frameInfo(ctx, node.client)

	recovered, clickErr := s.withStaleRetry(ctx, pageID, eid, func(n resolvedNode) error {
		x, y, err := boxCenter(ctx, n.client, proto.DOMBackendNodeID(n.key.BackendNodeID))
		if err != nil {
			return err
		}
		return dispatchClick(ctx, n.client, x, y)
	})

	if clickErr != nil && apperrors.IsStaleElement(clickErr) {
		postInfo, _ := frameInfo(ctx, node.client)
		h2, rerr := s.Manager.ResolvePage(session.PageID(pageID))
		navigated := rerr == nil && h2.Metadata.URL != preURL
		navigated = navigated || (preInfo.MainFrameLoaderID != "" && postInfo.MainFrameLoaderID != "" && preInfo.MainFrameLoaderID != postInfo.MainFrameLoaderID)
		if navigated {
			resp, err := s.computeResponse(ctx, node.handle.PageID)
			resp.Navigated = true
			resp.Note = "click target navigated away before the click completed"
			return resp, err
		}
	}
	if clickErr != nil {
		return StateResponse{}, clickErr
	}

	resp, err := s.computeResponse(ctx, node.handle.PageID)
	if err == nil && recovered {
		resp.Note = "element was stale; recovered after re-capture"
	}
	return resp, err
}

// HandleHover dispatches a hover at eid, per spec §6's hover verb.
func (s *Server) HandleHover(ctx context.Context, pageID, eid string) (StateResponse, error) {
	_, node, err := s.resolveTarget(pageID, eid)
	if err != nil {
		return StateResponse{}, err
	}
	recovered, hoverErr := s.withStaleRetry(ctx, pageID, eid, func(n resolvedNode) error {
		x, y, err := boxCenter(ctx, n.client, proto.DOMBackendNodeID(n.key.BackendNodeID))
		if err != nil {
			return err
		}
		return dispatchHover(ctx, n.client, x, y)
	})
	if hoverErr != nil {
		return StateResponse{}, hoverErr
	}
	resp, err := s.computeResponse(ctx, node.handle.PageID)
	if err == nil && recovered {
		resp.Note = "element was stale; recovered after re-capture"
	}
	return resp, err
}

// HandleType sets eid's value to text, per spec §6's type verb.
func (s *Server) HandleType(ctx context.Context, pageID, eid, text string) (StateResponse, error) {
	_, node, err := s.resolveTarget(pageID, eid)
	if err != nil {
		return StateResponse{}, err
	}
	recovered, typeErr := s.withStaleRetry(ctx, pageID, eid, func(n resolvedNode) error {
		return setElementValue(ctx, n.client, proto.DOMBackendNodeID(n.key.BackendNodeID), text)
	})
	if typeErr != nil {
		return StateResponse{}, typeErr
	}
	resp, err := s.computeResponse(ctx, node.handle.PageID)
	if err == nil && recovered {
		resp.Note = "element was stale; recovered after re-capture"
	}
	return resp, err
}

// HandleSelect sets eid's (a <select>) value, per spec §6's select verb.
func (s *Server) HandleSelect(ctx context.Context, pageID, eid, value string) (StateResponse, error) {
	_, node, err := s.resolveTarget(pageID, eid)
	if err != nil {
		return StateResponse{}, err
	}
	recovered, selErr := s.withStaleRetry(ctx, pageID, eid, func(n resolvedNode) error {
		return selectElementValue(ctx, n.client, proto.DOMBackendNodeID(n.key.BackendNodeID), value)
	})
	if selErr != nil {
		return StateResponse{}, selErr
	}
	resp, err := s.computeResponse(ctx, node.handle.PageID)
	if err == nil && recovered {
		resp.Note = "element was stale; recovered after re-capture"
	}
	return resp, err
}

// HandlePress dispatches a key press, per spec §6's press verb. press has
// no eid: it targets whatever currently has focus.
func (s *Server) HandlePress(ctx context.Context, pageID, key string) (StateResponse, error) {
	h, err := s.Manager.ResolvePage(session.PageID(pageID))
	if err != nil {
		return StateResponse{}, err
	}
	if err := pressKey(ctx, h.Client(), key); err != nil {
		return StateResponse{}, err
	}
	return s.computeResponse(ctx, h.PageID)
}

// HandleScrollElementIntoView scrolls eid into view, per spec §6's
// scroll_element_into_view verb.
func (s *Server) HandleScrollElementIntoView(ctx context.Context, pageID, eid string) (StateResponse, error) {
	_, node, err := s.resolveTarget(pageID, eid)
	if err != nil {
		return StateResponse{}, err
	}
	recovered, err := s.withStaleRetry(ctx, pageID, eid, func(n resolvedNode) error {
		return cdp.ScrollIntoViewIfNeeded(ctx, n.client, proto.DOMBackendNodeID(n.key.BackendNodeID))
	})
	if err != nil {
		return StateResponse{}, err
	}
	resp, rerr := s.computeResponse(ctx, node.handle.PageID)
	if rerr == nil && recovered {
		resp.Note = "element was stale; recovered after re-capture"
	}
	return resp, rerr
}

// ScrollDirection enumerates scroll_page's recognized directions.
type ScrollDirection string

const (
	ScrollDown  ScrollDirection = "down"
	ScrollUp    ScrollDirection = "up"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// HandleScrollPage scrolls the whole page by amount in direction, per spec
// §6's scroll_page verb.
func (s *Server) HandleScrollPage(ctx context.Context, pageID string, direction ScrollDirection, amount float64) (StateResponse, error) {
	h, err := s.Manager.ResolvePage(session.PageID(pageID))
	if err != nil {
		return StateResponse{}, err
	}
	var dx, dy float64
	switch direction {
	case ScrollUp:
		dy = -amount
	case ScrollLeft:
		dx = -amount
	case ScrollRight:
		dx = amount
	default:
		dy = amount
	}
	const defaultViewportW, defaultViewportH = 1280, 720
	if err := scrollPage(ctx, h.Client(), defaultViewportW, defaultViewportH, dx, dy); err != nil {
		return StateResponse{}, err
	}
	return s.computeResponse(ctx, h.PageID)
}
