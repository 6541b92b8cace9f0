package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Session  SessionConfig
	Network  NetworkConfig
	Snapshot SnapshotConfig
	Overlay  OverlayConfig
	Fleet    FleetConfig
	Admin    AdminConfig
	Log      LogConfig
	Tools    ToolSurfaceConfig
}

// SessionConfig controls browser launch/connect behaviour.
type SessionConfig struct {
	// Headless controls whether a launched browser runs headless.
	Headless bool // default: true

	// ConnectTimeout bounds a connect() attempt before connection_timeout.
	ConnectTimeout time.Duration // default: 30s

	// NoSandbox disables Chrome's sandbox (needed in containers).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth injects anti-detection JS before first navigation on new pages.
	Stealth bool // default: false

	// BlockedResourceTypes lists CDP resource types to fail during hijacking.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string

	// RejectedTargetPatterns lists URL prefixes and target kinds
	// (chrome-extension://, service workers, background pages) to keep out
	// of attachment. The session manager does not read it: Connect installs
	// no target filter and AdoptPage indexes every page the browser reports.
	RejectedTargetPatterns []string // default: ["chrome-extension://", "service_worker", "background_page"]
}

// NetworkConfig controls the Page Network Tracker's quiet-window behaviour.
type NetworkConfig struct {
	// QuietWindow is how long the in-flight count must stay at zero.
	QuietWindow time.Duration // default: 500ms

	// PostNavigationCap bounds the wait_for_network_quiet call issued after
	// every navigate_to.
	PostNavigationCap time.Duration // default: 5s
}

// SnapshotConfig controls the Snapshot Health & Recovery envelope.
type SnapshotConfig struct {
	// StabilizerTimeout bounds the DOM stabilizer's wait for quiescence.
	StabilizerTimeout time.Duration // default: 2s

	// RetryCount is how many additional capture attempts follow an invalid
	// classification.
	RetryCount int // default: 3

	// RetryBackoff is the delay between retries.
	RetryBackoff time.Duration // default: 200ms

	// StabilizeAfterActionTimeout bounds the DOM-content-loaded fallback.
	StabilizeAfterActionTimeout time.Duration // default: 3s
}

// OverlayConfig controls the delta/overlay state machine's thresholds.
type OverlayConfig struct {
	// ZIndexThreshold is the minimum z-index for the class-pattern overlay rule.
	ZIndexThreshold int // default: 1000

	// MaxReliableChangeRatio bounds change volume relative to the fresh
	// snapshot's node count before a delta is discarded as unreliable.
	MaxReliableChangeRatio float64 // default: 0.8

	// EidStaleAfterTurns is how many turns an eid may be absent before
	// becoming stale.
	EidStaleAfterTurns int // default: 3
}

// FleetConfig controls the Worker Fleet & Lease Manager.
type FleetConfig struct {
	// PortRangeMin/PortRangeMax bound the port allocator.
	PortRangeMin int // default: 9222
	PortRangeMax int // default: 9322

	// MaxWorkers caps concurrently running Chrome worker processes.
	MaxWorkers int // default: 20

	// LeaseTTL is the default lease duration on acquire/refresh.
	LeaseTTL time.Duration // default: 5m

	// IdleTimeout stops a worker whose lease has been released for this long.
	IdleTimeout time.Duration // default: 5m

	// HardTTL force-stops a worker regardless of activity.
	HardTTL time.Duration // default: 2h

	// HealthProbeInterval is how often /json/version is polled per worker.
	HealthProbeInterval time.Duration // default: 30s

	// HealthProbeTimeout bounds a single probe.
	HealthProbeTimeout time.Duration // default: 2s

	// HealthFailureThreshold is the consecutive-failure count before a
	// worker is flagged unhealthy.
	HealthFailureThreshold int // default: 3

	// WorkerStartTimeout bounds a worker's start() poll loop.
	WorkerStartTimeout time.Duration // default: 10s

	// WorkerStopGrace bounds the SIGTERM-then-SIGKILL window.
	WorkerStopGrace time.Duration // default: 5s

	// ProfileDirRoot is where per-worker user-data directories are created.
	ProfileDirRoot string // default: os.TempDir()/browserbridge-profiles

	// ChromeBin is the Chromium executable used by spawned workers.
	ChromeBin string
}

// AdminConfig controls the ops HTTP surface.
type AdminConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8090
	Mode string // "debug", "release", "test"; default: "release"

	// AuthEnabled toggles API-key auth on the admin surface.
	AuthEnabled bool // default: true

	// APIKeys is the list of valid admin API keys.
	APIKeys []string

	// RateLimitRPS/RateLimitBurst bound per-key request rate.
	RateLimitRPS   float64 // default: 5
	RateLimitBurst int     // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// ToolSurfaceConfig controls the agent-facing MCP tool surface: how much
// of a snapshot is handed back in one state response.
type ToolSurfaceConfig struct {
	// MaxActionableElements caps the actionable-elements list included in
	// a state response; the rest are dropped and counted, not truncated
	// silently.
	MaxActionableElements int // default: 40

	// IncludeReadableNodes controls whether non-interactive ("rd-"
	// prefixed) nodes are eligible for eid assignment and inclusion.
	IncludeReadableNodes bool // default: false

	// CharsPerToken is the divisor used to estimate a response's token
	// cost when no real tokenizer is wired in.
	CharsPerToken int // default: 4

	// StaleRetryEnabled toggles the retry-once-after-recapture behaviour
	// for stale-element errors during an action.
	StaleRetryEnabled bool // default: true
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Session: SessionConfig{
			Headless:       envBoolOr("BRIDGE_HEADLESS", true),
			ConnectTimeout: envDurationOr("BRIDGE_CONNECT_TIMEOUT", 30*time.Second),
			NoSandbox:      envBoolOr("BRIDGE_NO_SANDBOX", false),
			BrowserBin:     os.Getenv("BRIDGE_BROWSER_BIN"),
			Stealth:        envBoolOr("BRIDGE_STEALTH", false),
			BlockedResourceTypes: envSliceOr("BRIDGE_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			RejectedTargetPatterns: envSliceOr("BRIDGE_REJECTED_TARGETS", []string{
				"chrome-extension://", "service_worker", "background_page",
			}),
		},
		Network: NetworkConfig{
			QuietWindow:       envDurationOr("BRIDGE_NETWORK_QUIET_WINDOW", 500*time.Millisecond),
			PostNavigationCap: envDurationOr("BRIDGE_NETWORK_POST_NAV_CAP", 5*time.Second),
		},
		Snapshot: SnapshotConfig{
			StabilizerTimeout:           envDurationOr("BRIDGE_STABILIZER_TIMEOUT", 2*time.Second),
			RetryCount:                  envIntOr("BRIDGE_SNAPSHOT_RETRY_COUNT", 3),
			RetryBackoff:                envDurationOr("BRIDGE_SNAPSHOT_RETRY_BACKOFF", 200*time.Millisecond),
			StabilizeAfterActionTimeout: envDurationOr("BRIDGE_STABILIZE_AFTER_ACTION_TIMEOUT", 3*time.Second),
		},
		Overlay: OverlayConfig{
			ZIndexThreshold:        envIntOr("BRIDGE_OVERLAY_ZINDEX_THRESHOLD", 1000),
			MaxReliableChangeRatio: envFloatOr("BRIDGE_OVERLAY_MAX_CHANGE_RATIO", 0.8),
			EidStaleAfterTurns:     envIntOr("BRIDGE_EID_STALE_AFTER_TURNS", 3),
		},
		Fleet: FleetConfig{
			PortRangeMin:           envIntOr("BRIDGE_PORT_RANGE_MIN", 9222),
			PortRangeMax:           envIntOr("BRIDGE_PORT_RANGE_MAX", 9322),
			MaxWorkers:             envIntOr("BRIDGE_MAX_WORKERS", 20),
			LeaseTTL:               envDurationOr("BRIDGE_LEASE_TTL", 5*time.Minute),
			IdleTimeout:            envDurationOr("BRIDGE_IDLE_TIMEOUT", 5*time.Minute),
			HardTTL:                envDurationOr("BRIDGE_HARD_TTL", 2*time.Hour),
			HealthProbeInterval:    envDurationOr("BRIDGE_HEALTH_PROBE_INTERVAL", 30*time.Second),
			HealthProbeTimeout:     envDurationOr("BRIDGE_HEALTH_PROBE_TIMEOUT", 2*time.Second),
			HealthFailureThreshold: envIntOr("BRIDGE_HEALTH_FAILURE_THRESHOLD", 3),
			WorkerStartTimeout:     envDurationOr("BRIDGE_WORKER_START_TIMEOUT", 10*time.Second),
			WorkerStopGrace:        envDurationOr("BRIDGE_WORKER_STOP_GRACE", 5*time.Second),
			ProfileDirRoot:         envOr("BRIDGE_PROFILE_DIR_ROOT", os.TempDir()+"/browserbridge-profiles"),
			ChromeBin:              os.Getenv("BRIDGE_CHROME_BIN"),
		},
		Admin: AdminConfig{
			Host:           envOr("BRIDGE_ADMIN_HOST", "0.0.0.0"),
			Port:           envIntOr("BRIDGE_ADMIN_PORT", 8090),
			Mode:           envOr("BRIDGE_ADMIN_MODE", "release"),
			AuthEnabled:    envBoolOr("BRIDGE_ADMIN_AUTH_ENABLED", true),
			APIKeys:        envSliceOr("BRIDGE_ADMIN_API_KEYS", nil),
			RateLimitRPS:   envFloatOr("BRIDGE_ADMIN_RATE_RPS", 5.0),
			RateLimitBurst: envIntOr("BRIDGE_ADMIN_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("BRIDGE_LOG_LEVEL", "info"),
			Format: envOr("BRIDGE_LOG_FORMAT", "json"),
		},
		Tools: ToolSurfaceConfig{
			MaxActionableElements: envIntOr("BRIDGE_MAX_ACTIONABLE_ELEMENTS", 40),
			IncludeReadableNodes:  envBoolOr("BRIDGE_INCLUDE_READABLE_NODES", false),
			CharsPerToken:         envIntOr("BRIDGE_CHARS_PER_TOKEN", 4),
			StaleRetryEnabled:     envBoolOr("BRIDGE_STALE_RETRY_ENABLED", true),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
