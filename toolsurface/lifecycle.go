package toolsurface

import (
	"context"

	"github.com/use-agent/browserbridge/session"
)

// LaunchArgs carries launch_browser's recognized inputs.
type LaunchArgs struct {
	Headless       *bool
	Viewport       *session.Viewport
	Channel        string
	ExecutablePath string
	Isolated       bool
	UserDataDir    string
	ExtraArgs      []string
	Stealth        bool
}

// HandleLaunchBrowser spawns a browser and its first page, per spec §6's
// launch_browser verb.
func (s *Server) HandleLaunchBrowser(ctx context.Context, args LaunchArgs) (StateResponse, error) {
	cfg := session.LaunchConfig{
		Headless:       args.Headless,
		Viewport:       args.Viewport,
		Channel:        args.Channel,
		ExecutablePath: args.ExecutablePath,
		Isolated:       args.Isolated,
		UserDataDir:    args.UserDataDir,
		ExtraArgs:      args.ExtraArgs,
		Stealth:        args.Stealth,
	}
	if err := s.Manager.Launch(ctx, cfg); err != nil {
		return StateResponse{}, err
	}
	h, err := s.Manager.ResolvePage("")
	if err != nil {
		return StateResponse{}, err
	}
	return s.computeResponse(ctx, h.PageID)
}

// ConnectArgs carries connect_browser's recognized inputs.
type ConnectArgs struct {
	EndpointURL  string
	AutoDiscover bool
	UserDataDir  string
}

// HandleConnectBrowser attaches to an existing debugger endpoint and
// adopts its first open page, per spec §6's connect_browser verb.
func (s *Server) HandleConnectBrowser(ctx context.Context, args ConnectArgs) (StateResponse, error) {
	cfg := session.ConnectConfig{
		EndpointURL:  args.EndpointURL,
		AutoDiscover: args.AutoDiscover,
		UserDataDir:  args.UserDataDir,
	}
	if err := s.Manager.Connect(ctx, cfg); err != nil {
		return StateResponse{}, err
	}
	id, _, err := s.Manager.AdoptPage(ctx, 0)
	if err != nil {
		return StateResponse{}, err
	}
	return s.computeResponse(ctx, id)
}

// HandleClosePage closes one page, per spec §6's close_page verb.
func (s *Server) HandleClosePage(pageID string) error {
	id := session.PageID(pageID)
	if err := s.Manager.ClosePage(id); err != nil {
		return err
	}
	s.forgetPage(id)
	return nil
}

// HandleCloseSession tears the whole session down, per spec §6's
// close_session verb.
func (s *Server) HandleCloseSession(ctx context.Context) error {
	if err := s.Manager.Shutdown(ctx); err != nil {
		return err
	}
	s.forgetAll()
	return nil
}
