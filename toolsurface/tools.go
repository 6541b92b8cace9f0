package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer registers every verb in spec §6's table as an MCP tool over
// s, the same mcp-go pattern and naming style as the teacher's own MCP
// entrypoint.
func NewMCPServer(s *Server, version string) *server.MCPServer {
	m := server.NewMCPServer("browserbridge", version, server.WithToolCapabilities(false))

	m.AddTool(mcp.NewTool("launch_browser",
		mcp.WithDescription("Launch a new browser instance and its first page."),
		mcp.WithBoolean("headless", mcp.Description("Run without a visible window (default true).")),
		mcp.WithString("channel", mcp.Description("Browser channel/binary, e.g. chrome, chromium.")),
		mcp.WithBoolean("stealth", mcp.Description("Inject anti-detection patches on every page.")),
	), s.toolLaunchBrowser)

	m.AddTool(mcp.NewTool("connect_browser",
		mcp.WithDescription("Attach to an already-running browser's remote debugger."),
		mcp.WithString("endpoint_url", mcp.Description("ws:// or http:// debugger endpoint; autodiscovered from CEF_BRIDGE_HOST/PORT when omitted.")),
	), s.toolConnectBrowser)

	m.AddTool(mcp.NewTool("close_page",
		mcp.WithDescription("Close one page."),
		mcp.WithString("page_id", mcp.Required(), mcp.Description("Page to close.")),
	), s.toolClosePage)

	m.AddTool(mcp.NewTool("close_session",
		mcp.WithDescription("Close every page session; a launched browser is shut down, an attached one is left running."),
	), s.toolCloseSession)

	m.AddTool(mcp.NewTool("navigate",
		mcp.WithDescription("Navigate a page to a URL, creating the page if page_id is omitted."),
		mcp.WithString("page_id", mcp.Description("Target page; omit to act on the most recently used page or create one.")),
		mcp.WithString("url", mcp.Required(), mcp.Description("Destination URL.")),
	), s.toolNavigate)

	m.AddTool(mcp.NewTool("go_back",
		mcp.WithDescription("Navigate a page back one history entry."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
	), s.toolGoBack)

	m.AddTool(mcp.NewTool("go_forward",
		mcp.WithDescription("Navigate a page forward one history entry."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
	), s.toolGoForward)

	m.AddTool(mcp.NewTool("reload",
		mcp.WithDescription("Reload a page."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
	), s.toolReload)

	m.AddTool(mcp.NewTool("capture_snapshot",
		mcp.WithDescription("Force a fresh accessibility snapshot of the current page without navigating."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
	), s.toolCaptureSnapshot)

	m.AddTool(mcp.NewTool("find_elements",
		mcp.WithDescription("Search the active layer's actionable elements by kind, region, or label substring."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
		mcp.WithString("kind", mcp.Description("Element kind filter, e.g. button, link, input.")),
		mcp.WithString("region", mcp.Description("Layout region filter.")),
		mcp.WithString("label_contains", mcp.Description("Case-insensitive label substring filter.")),
	), s.toolFindElements)

	m.AddTool(mcp.NewTool("get_node_details",
		mcp.WithDescription("Return the full record for one element id (eid)."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
		mcp.WithString("eid", mcp.Required(), mcp.Description("Element id from a prior state response.")),
	), s.toolGetNodeDetails)

	m.AddTool(mcp.NewTool("scroll_element_into_view",
		mcp.WithDescription("Scroll an element into the viewport."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
		mcp.WithString("eid", mcp.Required(), mcp.Description("Element id from a prior state response.")),
	), s.toolScrollElementIntoView)

	m.AddTool(mcp.NewTool("scroll_page",
		mcp.WithDescription("Scroll the whole page by a direction and amount."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
		mcp.WithString("direction", mcp.Required(), mcp.Enum("up", "down", "left", "right"), mcp.Description("Scroll direction.")),
		mcp.WithNumber("amount", mcp.Description("Scroll distance in pixels (default 600).")),
	), s.toolScrollPage)

	m.AddTool(mcp.NewTool("click",
		mcp.WithDescription("Click an element."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
		mcp.WithString("eid", mcp.Required(), mcp.Description("Element id from a prior state response.")),
	), s.toolClick)

	m.AddTool(mcp.NewTool("type",
		mcp.WithDescription("Set an input or textarea's value."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
		mcp.WithString("eid", mcp.Required(), mcp.Description("Element id from a prior state response.")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to enter.")),
	), s.toolType)

	m.AddTool(mcp.NewTool("press",
		mcp.WithDescription("Press a key on whatever element currently has focus."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key name, e.g. Enter, Tab, Escape, or a single character.")),
	), s.toolPress)

	m.AddTool(mcp.NewTool("select",
		mcp.WithDescription("Set a <select> element's value."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
		mcp.WithString("eid", mcp.Required(), mcp.Description("Element id from a prior state response.")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Option value to select.")),
	), s.toolSelect)

	m.AddTool(mcp.NewTool("hover",
		mcp.WithDescription("Hover an element."),
		mcp.WithString("page_id", mcp.Description("Target page; omit for the most recently used page.")),
		mcp.WithString("eid", mcp.Required(), mcp.Description("Element id from a prior state response.")),
	), s.toolHover)

	return m
}

// Serve runs the MCP server over stdio, the same transport the teacher's
// own MCP entrypoint uses.
func Serve(s *Server, version string) error {
	return server.ServeStdio(NewMCPServer(s, version))
}

func (s *Server) toolLaunchBrowser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	var headless *bool
	if v, ok := args["headless"].(bool); ok {
		headless = &v
	}
	resp, err := s.HandleLaunchBrowser(ctx, LaunchArgs{
		Headless: headless,
		Channel:  req.GetString("channel", ""),
		Stealth:  req.GetBool("stealth", false),
	})
	return result(resp, err)
}

func (s *Server) toolConnectBrowser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.HandleConnectBrowser(ctx, ConnectArgs{
		EndpointURL:  req.GetString("endpoint_url", ""),
		AutoDiscover: req.GetString("endpoint_url", "") == "",
	})
	return result(resp, err)
}

func (s *Server) toolClosePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := req.RequireString("page_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.HandleClosePage(pageID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(`{"closed":true}`), nil
}

func (s *Server) toolCloseSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.HandleCloseSession(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(`{"closed":true}`), nil
}

func (s *Server) toolNavigate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.HandleNavigate(ctx, req.GetString("page_id", ""), url)
	return result(resp, err)
}

func (s *Server) toolGoBack(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.HandleGoBack(ctx, req.GetString("page_id", ""))
	return result(resp, err)
}

func (s *Server) toolGoForward(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.HandleGoForward(ctx, req.GetString("page_id", ""))
	return result(resp, err)
}

func (s *Server) toolReload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.HandleReload(ctx, req.GetString("page_id", ""))
	return result(resp, err)
}

func (s *Server) toolCaptureSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.HandleCaptureSnapshot(ctx, req.GetString("page_id", ""))
	return result(resp, err)
}

func (s *Server) toolFindElements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.HandleFindElements(ctx, req.GetString("page_id", ""), FindElementsArgs{
		Kind:          req.GetString("kind", ""),
		Region:        req.GetString("region", ""),
		LabelContains: req.GetString("label_contains", ""),
	})
	return result(resp, err)
}

func (s *Server) toolGetNodeDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eid, err := req.RequireString("eid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	details, err := s.HandleGetNodeDetails(req.GetString("page_id", ""), eid)
	return result(details, err)
}

func (s *Server) toolScrollElementIntoView(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eid, err := req.RequireString("eid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.HandleScrollElementIntoView(ctx, req.GetString("page_id", ""), eid)
	return result(resp, err)
}

func (s *Server) toolScrollPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	direction, err := req.RequireString("direction")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	amount := req.GetFloat("amount", 600)
	resp, err := s.HandleScrollPage(ctx, req.GetString("page_id", ""), ScrollDirection(direction), amount)
	return result(resp, err)
}

func (s *Server) toolClick(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eid, err := req.RequireString("eid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.HandleClick(ctx, req.GetString("page_id", ""), eid)
	return result(resp, err)
}

func (s *Server) toolType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eid, err := req.RequireString("eid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.HandleType(ctx, req.GetString("page_id", ""), eid, text)
	return result(resp, err)
}

func (s *Server) toolPress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.HandlePress(ctx, req.GetString("page_id", ""), key)
	return result(resp, err)
}

func (s *Server) toolSelect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eid, err := req.RequireString("eid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.HandleSelect(ctx, req.GetString("page_id", ""), eid, value)
	return result(resp, err)
}

func (s *Server) toolHover(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eid, err := req.RequireString("eid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.HandleHover(ctx, req.GetString("page_id", ""), eid)
	return result(resp, err)
}

// result marshals a handler's return value into a tool result, turning
// application errors into MCP tool errors rather than transport failures.
func result(v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, merr := json.Marshal(v)
	if merr != nil {
		return mcp.NewToolResultError(merr.Error()), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}
