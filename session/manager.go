package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/cdp"
	"github.com/use-agent/browserbridge/config"
)

// Channel names accepted by LaunchConfig.Channel.
const (
	ChannelStable = "stable"
	ChannelCanary = "canary"
	ChannelBeta   = "beta"
	ChannelDev    = "dev"
)

// LaunchConfig carries the recognized launch options from spec §4.1.
type LaunchConfig struct {
	Headless       *bool
	Viewport       *Viewport
	Channel        string
	ExecutablePath string
	Isolated       bool
	UserDataDir    string
	ExtraArgs      []string
	Stealth        bool
}

// Viewport is the initial page size.
type Viewport struct {
	Width  int
	Height int
}

// ConnectConfig carries the recognized connect options from spec §4.1.
type ConnectConfig struct {
	// EndpointURL may be a WebSocket URL, an HTTP discovery URL, or a
	// legacy endpoint auto-classified below.
	EndpointURL string
	// AutoDiscover reads DevToolsActivePort from UserDataDir when true.
	AutoDiscover bool
	UserDataDir  string
	Timeout      time.Duration
}

// HealthStatus is the outcome of get_connection_health.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailed   HealthStatus = "failed"
)

// StorageState is the interface contract for save_storage_state; the
// concrete cookie/localStorage collection is an external collaborator per
// spec §4.1, so this type only fixes the wire shape.
type StorageState struct {
	Cookies []Cookie         `json:"cookies"`
	Origins []OriginStorage  `json:"origins"`
}

type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

type OriginStorage struct {
	Origin       string             `json:"origin"`
	LocalStorage []LocalStorageItem `json:"localStorage"`
}

type LocalStorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Manager owns the browser connection, the page registry, and the
// per-page network trackers.
type Manager struct {
	cfg        config.SessionConfig
	networkCfg config.NetworkConfig

	sm *stateMachine

	mu         sync.Mutex
	browser    *rod.Browser
	isExternal bool
	registry   *PageRegistry
	trackers   map[PageID]*networkTracker
	disconnect func()

	nextID atomicCounter
}

// NewManager constructs an idle Manager.
func NewManager(cfg config.SessionConfig, networkCfg config.NetworkConfig) *Manager {
	return &Manager{
		cfg:        cfg,
		networkCfg: networkCfg,
		sm:         newStateMachine(),
		registry:   newPageRegistry(),
		trackers:   make(map[PageID]*networkTracker),
	}
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState { return m.sm.Current() }

// OnStateChange registers a listener for connection state transitions.
func (m *Manager) OnStateChange(fn func(ChangeEvent)) (cancel func()) { return m.sm.OnChange(fn) }

// Launch spawns a new Chromium instance per LaunchConfig.
func (m *Manager) Launch(ctx context.Context, cfg LaunchConfig) error {
	if err := m.sm.transition(StateConnecting, "launch"); err != nil {
		return err
	}

	l := launcher.New()
	headless := true
	if cfg.Headless != nil {
		headless = *cfg.Headless
	}
	l = l.Headless(headless).NoSandbox(m.cfg.NoSandbox)

	if cfg.ExecutablePath != "" {
		l = l.Bin(cfg.ExecutablePath)
	} else if m.cfg.BrowserBin != "" {
		l = l.Bin(m.cfg.BrowserBin)
	}
	userDataDir := cfg.UserDataDir
	if userDataDir == "" && cfg.Isolated {
		if dir, err := os.MkdirTemp("", "browserbridge-profile-*"); err == nil {
			userDataDir = dir
		}
	}
	if userDataDir != "" {
		l = l.UserDataDir(userDataDir)
	}
	if cfg.Viewport != nil {
		l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height))
	}
	for _, extra := range cfg.ExtraArgs {
		l.Set(flags.Flag(strings.TrimPrefix(extra, "--")))
	}

	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("hide-crash-restore-bubble"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))

	controlURL, err := l.Launch()
	if err != nil {
		_ = m.sm.transition(StateFailed, "launch")
		return apperrors.ConnectionFailure(controlURL, "launch", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Context(ctx).Connect(); err != nil {
		_ = m.sm.transition(StateFailed, "launch")
		return apperrors.ConnectionFailure(controlURL, "launch", err)
	}

	m.mu.Lock()
	m.browser = browser
	m.isExternal = false
	m.mu.Unlock()

	m.installDisconnectHandler()

	if err := m.sm.transition(StateConnected, "launch"); err != nil {
		return err
	}

	_, _, err = m.CreatePage(ctx, "", cfg.Stealth)
	return err
}

// Connect attaches to an existing debugger endpoint per spec §4.1's
// priority order of accepted specifications.
func (m *Manager) Connect(ctx context.Context, cfg ConnectConfig) error {
	if err := m.sm.transition(StateConnecting, "connect"); err != nil {
		return err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = m.cfg.ConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint, err := resolveEndpoint(cfg)
	if err != nil {
		_ = m.sm.transition(StateFailed, "connect")
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid connect endpoint", err)
	}

	type connectResult struct {
		browser *rod.Browser
		err     error
	}
	done := make(chan connectResult, 1)
	go func() {
		b := rod.New().ControlURL(endpoint)
		err := b.Connect()
		done <- connectResult{browser: b, err: err}
	}()

	var browser *rod.Browser
	select {
	case <-connectCtx.Done():
		_ = m.sm.transition(StateFailed, "connect")
		return apperrors.New(apperrors.CodeConnectionTimeout, "connect timed out").WithDetail("endpoint", endpoint)
	case res := <-done:
		if res.err != nil {
			_ = m.sm.transition(StateFailed, "connect")
			return apperrors.ConnectionFailure(endpoint, "connect", res.err)
		}
		browser = res.browser
	}

	m.mu.Lock()
	m.browser = browser
	m.isExternal = true
	m.mu.Unlock()

	m.installDisconnectHandler()

	return m.sm.transition(StateConnected, "connect")
}

// resolveEndpoint classifies cfg into a WebSocket control URL, in priority
// order: direct ws URL, http discovery URL, sentinel-file auto-discovery,
// host/port default. The default is the HTTP discovery URL built from
// CEF_BRIDGE_HOST and CEF_BRIDGE_PORT (127.0.0.1 and 9222 when unset).
func resolveEndpoint(cfg ConnectConfig) (string, error) {
	if cfg.EndpointURL == "" {
		if cfg.AutoDiscover && cfg.UserDataDir != "" {
			return readSentinelFile(cfg.UserDataDir)
		}
		host, port := os.Getenv("CEF_BRIDGE_HOST"), os.Getenv("CEF_BRIDGE_PORT")
		if host == "" {
			host = "127.0.0.1"
		}
		if port == "" {
			port = "9222"
		}
		return discoverWebSocketURL(fmt.Sprintf("http://%s:%s", host, port))
	}
	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return "", fmt.Errorf("malformed endpoint url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return cfg.EndpointURL, nil
	case "http", "https":
		return discoverWebSocketURL(cfg.EndpointURL)
	default:
		// Legacy bare "host:port" style endpoint, auto-classified as an
		// HTTP discovery URL.
		return discoverWebSocketURL("http://" + cfg.EndpointURL)
	}
}

// discoverWebSocketURL issues GET {endpoint}/json/version and returns the
// browser-wide webSocketDebuggerUrl, per spec §6's debugger-discovery wire
// contract.
func discoverWebSocketURL(endpoint string) (string, error) {
	resp, err := http.Get(strings.TrimRight(endpoint, "/") + "/json/version")
	if err != nil {
		return "", fmt.Errorf("discovering debugger endpoint: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding /json/version response: %w", err)
	}
	if payload.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("/json/version response missing webSocketDebuggerUrl")
	}
	return payload.WebSocketDebuggerURL, nil
}

// readSentinelFile parses a Chromium DevToolsActivePort file: first line
// decimal port, second line browser-wide WebSocket path.
func readSentinelFile(userDataDir string) (string, error) {
	data, err := os.ReadFile(userDataDir + "/DevToolsActivePort")
	if err != nil {
		return "", fmt.Errorf("reading DevToolsActivePort: %w", err)
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) != 2 {
		return "", fmt.Errorf("malformed DevToolsActivePort sentinel")
	}
	port, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return "", fmt.Errorf("malformed sentinel port: %w", err)
	}
	return fmt.Sprintf("ws://127.0.0.1:%d%s", port, strings.TrimSpace(lines[1])), nil
}

// installDisconnectHandler transitions connected→failed on an unexpected
// browser disconnect (the Inspector.detached CDP event, fired when the
// remote debugging connection is lost from the browser side), but only
// when the current state is connected, to avoid racing a deliberate
// shutdown.
func (m *Manager) installDisconnectHandler() {
	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()

	onDisconnect := func() {
		if m.sm.Current() == StateConnected {
			m.mu.Lock()
			m.registry.clear()
			m.browser = nil
			m.mu.Unlock()
			_ = m.sm.transition(StateFailed, "disconnected")
		}
	}

	go browser.EachEvent(func(e *proto.InspectorDetached) {
		onDisconnect()
	})()

	m.mu.Lock()
	m.disconnect = onDisconnect
	m.mu.Unlock()
}

// CreatePage opens a new page, optionally navigating it, per spec §4.1.
func (m *Manager) CreatePage(ctx context.Context, navURL string, injectStealth bool) (PageID, *PageHandle, error) {
	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()
	if browser == nil {
		return "", nil, apperrors.InvalidState(string(m.sm.Current()), "create_page")
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", nil, apperrors.ConnectionFailure("", "create_page", err)
	}

	if injectStealth || m.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Debug("stealth injection failed, continuing without it", "error", err)
		}
	}

	client := cdp.NewClient(page)
	id := PageID(m.nextID.next("pg"))
	handle := &PageHandle{
		PageID:    id,
		Page:      page,
		CreatedAt: time.Now(),
	}
	handle.setClient(client)
	handle.touch()
	if router := setupHijack(page, m.cfg.BlockedResourceTypes); router != nil {
		handle.setHijack(router)
	}
	m.registry.put(handle)

	tracker := newNetworkTracker(client, m.networkCfg.QuietWindow, m.cfg.BlockedResourceTypes)
	m.mu.Lock()
	m.trackers[id] = tracker
	m.mu.Unlock()

	if navURL != "" {
		if err := m.NavigateTo(ctx, id, navURL); err != nil {
			return id, handle, err
		}
	}
	return id, handle, nil
}

// AdoptPage idempotently registers an existing browser page by index;
// repeat adoption of the same index returns the same handle.
func (m *Manager) AdoptPage(ctx context.Context, index int) (PageID, *PageHandle, error) {
	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()
	if browser == nil {
		return "", nil, apperrors.InvalidState(string(m.sm.Current()), "adopt_page")
	}

	pages, err := browser.Context(ctx).Pages()
	if err != nil {
		return "", nil, apperrors.ConnectionFailure("", "adopt_page", err)
	}
	if index < 0 || index >= len(pages) {
		return "", nil, apperrors.New(apperrors.CodePageNotFound, "no page at index").WithDetail("index", index)
	}
	target := pages[index]

	m.registry.mu.RLock()
	for id, h := range m.registry.pages {
		if cdp.UnwrapPage(h.Client()) == target {
			m.registry.mu.RUnlock()
			h.touch()
			return id, h, nil
		}
	}
	m.registry.mu.RUnlock()

	client := cdp.NewClient(target)
	id := PageID(m.nextID.next("pg"))
	handle := &PageHandle{PageID: id, Page: target, CreatedAt: time.Now()}
	handle.setClient(client)
	handle.touch()
	m.registry.put(handle)

	// Adopted pages are not hijacked: they may belong to an external
	// controller that already has requests in flight, and installing an
	// interceptor mid-flight can strand those requests unresolved.
	tracker := newNetworkTracker(client, m.networkCfg.QuietWindow, m.cfg.BlockedResourceTypes)
	m.mu.Lock()
	m.trackers[id] = tracker
	m.mu.Unlock()

	return id, handle, nil
}

// ClosePage detaches the tracker, closes the CDP session and page
// best-effort, and removes the handle from the registry.
func (m *Manager) ClosePage(id PageID) error {
	handle, ok := m.registry.get(id)
	if !ok {
		return apperrors.New(apperrors.CodePageNotFound, "page_id not registered").WithDetail("page_id", string(id))
	}

	m.mu.Lock()
	tracker := m.trackers[id]
	delete(m.trackers, id)
	m.mu.Unlock()
	if tracker != nil {
		tracker.Detach()
	}
	handle.stopHijack()

	handle.Client().Close()
	func() {
		defer func() { recover() }()
		_ = cdp.UnwrapPage(handle.Client()).Close()
	}()

	m.registry.remove(id)
	return nil
}

// NavigateTo navigates a page, marks a navigation on its tracker, and
// waits for network quiet with a cap that never throws.
func (m *Manager) NavigateTo(ctx context.Context, id PageID, navURL string) error {
	handle, err := m.registry.resolve(id)
	if err != nil {
		return err
	}

	page := cdp.UnwrapPage(handle.Client())
	if err := page.Context(ctx).Navigate(navURL); err != nil {
		return apperrors.ConnectionFailure(navURL, "navigate", err)
	}

	m.mu.Lock()
	tracker := m.trackers[handle.PageID]
	m.mu.Unlock()
	if tracker != nil {
		tracker.MarkNavigation(handle.Client())
		waitCap := m.networkCfg.PostNavigationCap
		if waitCap == 0 {
			waitCap = 5 * time.Second
		}
		<-tracker.WaitQuiet(waitCap)
	}

	title := evalStringBestEffort(page, `() => document.title`)
	handle.setMetadata(Metadata{URL: navURL, Title: title})
	handle.touch()
	return nil
}

func evalStringBestEffort(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// ResolvePage returns the handle for id, or the MRU handle when id is
// empty.
func (m *Manager) ResolvePage(id PageID) (*PageHandle, error) {
	h, err := m.registry.resolve(id)
	if err == nil {
		h.touch()
	}
	return h, err
}

// ResolvePageOrCreate resolves id or the MRU page; if none exists, it
// creates one.
func (m *Manager) ResolvePageOrCreate(ctx context.Context, id PageID) (*PageHandle, error) {
	h, err := m.ResolvePage(id)
	if err == nil {
		return h, nil
	}
	if apperrors.Is(err, apperrors.CodePageNotFound) {
		_, h, createErr := m.CreatePage(ctx, "", false)
		return h, createErr
	}
	return nil, err
}

// Touch updates a page's MRU timestamp.
func (m *Manager) Touch(id PageID) error {
	h, err := m.registry.resolve(id)
	if err != nil {
		return err
	}
	h.touch()
	return nil
}

// Rebind obtains a CDP session for the same underlying target as id's page,
// swaps it and the page into the existing registry handle, and only then
// closes the dead session (best-effort).
func (m *Manager) Rebind(ctx context.Context, id PageID) (*PageHandle, error) {
	handle, ok := m.registry.get(id)
	if !ok {
		return nil, apperrors.New(apperrors.CodePageNotFound, "page_id not registered").WithDetail("page_id", string(id))
	}

	oldPage := cdp.UnwrapPage(handle.Client())
	if oldPage == nil {
		return nil, apperrors.New(apperrors.CodeContextUnavailable, "no underlying page to rebind")
	}

	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()
	if browser == nil {
		return nil, apperrors.InvalidState(string(m.sm.Current()), "rebind")
	}

	// A dead session's SessionID is never revived by reusing it; the only
	// way to get a live one back is a fresh Target.attachToTarget against
	// the same underlying target.
	newPage, err := browser.Context(ctx).PageFromTarget(oldPage.TargetID)
	if err != nil {
		return nil, apperrors.ConnectionFailure("", "rebind", err)
	}

	oldClient := handle.Client()
	newClient := cdp.NewClient(newPage)
	handle.setClient(newClient)
	handle.setPage(newPage)

	// Detach the superseded session only, after the handle already points
	// at the new one — never close the target this page_id is bound to.
	func() {
		defer func() { recover() }()
		oldClient.Close()
	}()

	m.mu.Lock()
	if tracker, ok := m.trackers[id]; ok {
		tracker.attach(newClient)
	}
	m.mu.Unlock()

	return handle, nil
}

// GetConnectionHealth probes every page for a live CDP session.
func (m *Manager) GetConnectionHealth(ctx context.Context) HealthStatus {
	if m.sm.Current() != StateConnected {
		return HealthFailed
	}

	m.registry.mu.RLock()
	handles := make([]*PageHandle, 0, len(m.registry.pages))
	for _, h := range m.registry.pages {
		handles = append(handles, h)
	}
	m.registry.mu.RUnlock()

	for _, h := range handles {
		if !h.Client().IsActive() {
			return HealthDegraded
		}
		if _, err := cdp.GetFrameTree(ctx, h.Client()); err != nil {
			return HealthDegraded
		}
	}
	return HealthHealthy
}

// IsExternal reports whether the current browser was connected to, not
// launched (shutdown disconnects but does not close it).
func (m *Manager) IsExternal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isExternal
}

// PageCount reports the number of registered pages.
func (m *Manager) PageCount() int {
	m.registry.mu.RLock()
	defer m.registry.mu.RUnlock()
	return len(m.registry.pages)
}

// Shutdown tears everything down per spec §4.1: detach-only for an
// external browser, full close for a launched one; always best-effort and
// idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	state := m.sm.Current()
	if state == StateIdle {
		return nil
	}

	if err := m.sm.transition(StateDisconnecting, "shutdown"); err != nil {
		if state == StateFailed {
			return m.sm.transition(StateIdle, "shutdown")
		}
		return err
	}

	m.mu.Lock()
	browser := m.browser
	external := m.isExternal
	m.mu.Unlock()

	handles := m.registry.clear()
	for _, h := range handles {
		h.stopHijack()
		func() {
			defer func() { recover() }()
			h.Client().Close()
		}()
	}
	m.mu.Lock()
	for id, t := range m.trackers {
		t.Detach()
		delete(m.trackers, id)
	}
	m.mu.Unlock()

	// Browser.Close sends Browser.close, which ends the browser process
	// whoever started it, so it is issued only for a launched browser. An
	// external browser keeps running: its page sessions were detached
	// above and the manager drops its reference below.
	if browser != nil && !external {
		func() {
			defer func() { recover() }()
			_ = browser.Close()
		}()
	}

	m.mu.Lock()
	m.browser = nil
	m.mu.Unlock()

	return m.sm.transition(StateIdle, "shutdown")
}

// atomicCounter is a tiny process-unique id generator; it never reuses a
// value within the process lifetime.
type atomicCounter struct {
	mu sync.Mutex
	n  uint64
}

func (c *atomicCounter) next(prefix string) string {
	c.mu.Lock()
	c.n++
	n := c.n
	c.mu.Unlock()
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), n)
}
