package toolsurface

import (
	"context"

	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/cdp"
	"github.com/use-agent/browserbridge/session"
)

// HandleNavigate drives the active page to url and reports the resulting
// state, per spec §6's navigate verb.
func (s *Server) HandleNavigate(ctx context.Context, pageID, url string) (StateResponse, error) {
	id := session.PageID(pageID)
	h, err := s.Manager.ResolvePageOrCreate(ctx, id)
	if err != nil {
		return StateResponse{}, err
	}
	if err := s.Manager.NavigateTo(ctx, h.PageID, url); err != nil {
		return StateResponse{}, err
	}
	return s.computeResponse(ctx, h.PageID)
}

// HandleGoBack, HandleGoForward and HandleReload all resolve an existing
// page (they never create one, per spec §6's page_id capability rule) and
// drive rod's history navigation directly: these three don't appear in the
// required client-layer CDP vocabulary, so they go through the page handle
// rod exposes underneath the Client seam.

func (s *Server) HandleGoBack(ctx context.Context, pageID string) (StateResponse, error) {
	return s.historyNav(ctx, pageID, func(p rodPage) error { return p.NavigateBack() })
}

func (s *Server) HandleGoForward(ctx context.Context, pageID string) (StateResponse, error) {
	return s.historyNav(ctx, pageID, func(p rodPage) error { return p.NavigateForward() })
}

func (s *Server) HandleReload(ctx context.Context, pageID string) (StateResponse, error) {
	return s.historyNav(ctx, pageID, func(p rodPage) error { return p.Reload() })
}

// rodPage is the narrow slice of *rod.Page's history API historyNav needs,
// kept as an interface so it stays testable without a real browser.
type rodPage interface {
	NavigateBack() error
	NavigateForward() error
	Reload() error
}

func (s *Server) historyNav(ctx context.Context, pageID string, op func(rodPage) error) (StateResponse, error) {
	id := session.PageID(pageID)
	h, err := s.Manager.ResolvePage(id)
	if err != nil {
		return StateResponse{}, err
	}
	page := cdp.UnwrapPage(h.Client())
	if page == nil {
		return StateResponse{}, apperrors.New(apperrors.CodeInvalidState, "page has no underlying rod handle")
	}
	if err := op(page); err != nil {
		return StateResponse{}, err
	}
	return s.computeResponse(ctx, h.PageID)
}

// HandleCaptureSnapshot forces a fresh capture of the current page without
// navigating, per spec §6's capture_snapshot verb.
func (s *Server) HandleCaptureSnapshot(ctx context.Context, pageID string) (StateResponse, error) {
	id := session.PageID(pageID)
	h, err := s.Manager.ResolvePage(id)
	if err != nil {
		return StateResponse{}, err
	}
	return s.computeResponse(ctx, h.PageID)
}
