package toolsurface

import (
	"sync"

	"github.com/use-agent/browserbridge/config"
	"github.com/use-agent/browserbridge/overlay"
	"github.com/use-agent/browserbridge/session"
	"github.com/use-agent/browserbridge/snapshot"
)

// Server binds the session, snapshot, and overlay packages into the
// agent-facing tool surface. One Server is wired per bridge process; it
// owns one delta/overlay state machine and one identity registry per
// live page.
type Server struct {
	Manager  *session.Manager
	Capturer *snapshot.Capturer
	Cfg      config.ToolSurfaceConfig
	Overlay  config.OverlayConfig

	mu    sync.Mutex
	pages map[session.PageID]*pageState
}

// NewServer wires a Server from its collaborators.
func NewServer(mgr *session.Manager, capturer *snapshot.Capturer, cfg config.ToolSurfaceConfig, overlayCfg config.OverlayConfig) *Server {
	return &Server{
		Manager:  mgr,
		Capturer: capturer,
		Cfg:      cfg,
		Overlay:  overlayCfg,
		pages:    make(map[session.PageID]*pageState),
	}
}

// stateFor returns (creating if absent) the per-page overlay/identity
// state for id.
func (s *Server) stateFor(id session.PageID) *pageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.pages[id]
	if !ok {
		ps = &pageState{
			overlay:  overlay.NewPageSnapshotState(s.Overlay),
			identity: snapshot.NewIdentityRegistry(s.Overlay.EidStaleAfterTurns),
		}
		s.pages[id] = ps
	}
	return ps
}

// forgetPage drops a page's state, called on close_page/close_session.
func (s *Server) forgetPage(id session.PageID) {
	s.mu.Lock()
	delete(s.pages, id)
	s.mu.Unlock()
}

// forgetAll clears every tracked page, called on close_session.
func (s *Server) forgetAll() {
	s.mu.Lock()
	s.pages = make(map[session.PageID]*pageState)
	s.mu.Unlock()
}
