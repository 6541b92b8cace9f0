// Package adminapi exposes the operator-facing HTTP surface for the
// fleet: liveness, worker inventory, and manual tenant revocation. It
// is deliberately separate from the MCP tool surface — this is the
// plane an operator's monitoring and runbooks talk to, not the plane
// an agent drives browsers from.
package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/browserbridge/adminapi/middleware"
	"github.com/use-agent/browserbridge/config"
)

// ErrorDetail mirrors the taxonomy code/message pair used across the
// bridge's error responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the envelope every admin endpoint replies with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// HealthStatus is the liveness payload returned by GET /healthz.
type HealthStatus struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// WorkerSummary is the per-worker row returned by GET /fleet/workers.
type WorkerSummary struct {
	WorkerID string `json:"worker_id"`
	Port     int    `json:"port"`
	State    string `json:"state"`
	Healthy  bool   `json:"healthy"`
}

// FleetInspector is the read surface the admin API needs from the
// fleet, kept narrow so the HTTP layer does not depend on fleet
// internals beyond what it renders.
type FleetInspector interface {
	Workers() []WorkerSummary
	RevokeTenant(tenantID, reason string) error
}

// NewRouter builds the configured Gin engine: Recovery → Logger
// globally, then Auth (if enabled) → RateLimit on the /fleet routes.
// GET /healthz sits outside that group and needs no API key.
func NewRouter(fi FleetInspector, cfg config.AdminConfig, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	protected := r.Group("")
	if cfg.AuthEnabled {
		protected.Use(middleware.Auth(cfg.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	r.GET("/healthz", healthzHandler(startTime))
	protected.GET("/fleet/workers", listWorkersHandler(fi))
	protected.POST("/fleet/tenants/:id/revoke", revokeTenantHandler(fi))

	return r
}

func healthzHandler(startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, Response{Success: true, Data: HealthStatus{
			Status:  "healthy",
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: "0.1.0",
		}})
	}
}

func listWorkersHandler(fi FleetInspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, Response{Success: true, Data: fi.Workers()})
	}
}

func revokeTenantHandler(fi FleetInspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("id")
		reason := c.DefaultQuery("reason", "operator revoke")
		if err := fi.RevokeTenant(tenantID, reason); err != nil {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: &ErrorDetail{
				Code:    "LEASE_NOT_FOUND",
				Message: err.Error(),
			}})
			return
		}
		c.JSON(http.StatusOK, Response{Success: true})
	}
}
