package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/browserbridge/adminapi"
	"github.com/use-agent/browserbridge/config"
	"github.com/use-agent/browserbridge/fleet"
	"github.com/use-agent/browserbridge/session"
	"github.com/use-agent/browserbridge/snapshot"
	"github.com/use-agent/browserbridge/toolsurface"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("browserbridge starting",
		"adminHost", cfg.Admin.Host,
		"adminPort", cfg.Admin.Port,
		"adminMode", cfg.Admin.Mode,
		"maxWorkers", cfg.Fleet.MaxWorkers,
	)

	// ── 3. Initialise the browser session this bridge process drives ──
	mgr := session.NewManager(cfg.Session, cfg.Network)
	mgr.OnStateChange(func(ev session.ChangeEvent) {
		slog.Info("connection state changed", "from", ev.Previous, "to", ev.Current)
	})

	// ── 4. Initialise the snapshot capturer ────────────────────────
	compiler := snapshot.NewReferenceCompiler(nil)
	capturer := snapshot.NewCapturer(compiler, snapshot.RodStabilizer{}, cfg.Snapshot)

	// ── 5. Initialise the worker fleet (multi-tenant port/lease pool) ─
	wm, err := fleet.NewWorkerManager(cfg.Fleet, fleet.HTTPProber)
	if err != nil {
		slog.Error("failed to initialise worker fleet", "error", err)
		os.Exit(1)
	}
	defer wm.Shutdown()

	// ── 6. Initialise the agent-facing MCP tool surface ─────────────
	ts := toolsurface.NewServer(mgr, capturer, cfg.Tools, cfg.Overlay)

	// ── 7. Setup the admin HTTP router ──────────────────────────────
	startTime := time.Now()
	router := adminapi.NewRouter(adminapi.FleetAdapter{WM: wm}, cfg.Admin, startTime)

	adminAddr := fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port)
	adminSrv := &http.Server{Addr: adminAddr, Handler: router}

	go func() {
		slog.Info("admin HTTP server listening", "addr", adminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Serve the MCP tool surface over stdio ────────────────────
	mcpDone := make(chan error, 1)
	go func() {
		mcpDone <- toolsurface.Serve(ts, "1.0.0")
	}()

	// ── 9. Graceful shutdown ─────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-mcpDone:
		if err != nil {
			slog.Error("MCP stdio server exited", "error", err)
		} else {
			slog.Info("MCP stdio server closed (stdin reached EOF)")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := adminSrv.Shutdown(ctx); err != nil {
		slog.Error("admin HTTP server forced shutdown", "error", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		slog.Error("session shutdown error", "error", err)
	}

	slog.Info("browserbridge stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
