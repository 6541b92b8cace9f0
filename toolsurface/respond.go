package toolsurface

import (
	"context"

	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/cdp"
	"github.com/use-agent/browserbridge/overlay"
	"github.com/use-agent/browserbridge/session"
	"github.com/use-agent/browserbridge/snapshot"
)

// computeResponse runs one turn of capture + delta/overlay detection for
// pageID and assembles the agent-facing envelope. It is the shared tail
// of every verb that mutates or re-observes page state.
func (s *Server) computeResponse(ctx context.Context, pageID session.PageID) (StateResponse, error) {
	handle, err := s.Manager.ResolvePage(pageID)
	if err != nil {
		return StateResponse{}, err
	}
	ps := s.stateFor(handle.PageID)

	info, err := frameInfo(ctx, handle.Client())
	if err != nil && apperrors.IsDeadSession(err) {
		if rebound, rerr := s.Manager.Rebind(ctx, handle.PageID); rerr == nil {
			handle = rebound
			info, err = frameInfo(ctx, handle.Client())
		}
	}
	if err != nil {
		info = overlay.FrameInfo{}
	}

	captureFn := func() (*snapshot.Snapshot, error) {
		result := s.Capturer.CaptureWithRecovery(ctx, handle.Client(), handle.Metadata.URL, func(ctx context.Context) (cdp.Client, error) {
			h, rerr := s.Manager.Rebind(ctx, handle.PageID)
			if rerr != nil {
				return nil, rerr
			}
			handle = h
			return h.Client(), nil
		})
		if result.Snapshot == nil {
			return nil, apperrors.New(apperrors.CodeSnapshotRequired, "capture produced no snapshot").
				WithDetail("health", string(result.Health))
		}
		return result.Snapshot, nil
	}

	resp, err := ps.overlay.ComputeResponse(info, captureFn)
	if err != nil {
		return StateResponse{}, err
	}

	out := buildEnvelope(s.Cfg, handle.PageID, string(s.Manager.State()), handle.Metadata.URL, handle.Metadata.Title, resp, ps)
	return out, nil
}

// frameInfo issues Page.getFrameTree and flattens it into the cheap
// pre-capture probe compute_response needs.
func frameInfo(ctx context.Context, client cdp.Client) (overlay.FrameInfo, error) {
	tree, err := cdp.GetFrameTree(ctx, client)
	if err != nil {
		return overlay.FrameInfo{}, err
	}
	info := overlay.FrameInfo{LoaderIDByFrame: make(map[string]string)}
	walkFrameTree(tree, &info, true)
	return info, nil
}

func walkFrameTree(node *proto.PageFrameTree, info *overlay.FrameInfo, isMain bool) {
	if node == nil || node.Frame == nil {
		return
	}
	frameID := string(node.Frame.ID)
	loaderID := string(node.Frame.LoaderID)
	info.LoaderIDByFrame[frameID] = loaderID
	if isMain {
		info.MainFrameLoaderID = loaderID
	}
	for _, child := range node.ChildFrames {
		walkFrameTree(child, info, false)
	}
}
