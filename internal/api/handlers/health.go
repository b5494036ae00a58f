package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wonny/marketcache/internal/api/response"
	"github.com/wonny/marketcache/internal/infra/database/postgres"
)

// DBHealthChecker reports database health. *postgres.Pool implements it.
type DBHealthChecker interface {
	Health(ctx context.Context) *postgres.HealthStatus
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db        DBHealthChecker // nil when run history is disabled
	loader    PriceLoader
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler. db may be nil.
func NewHealthHandler(loader PriceLoader, db DBHealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		loader:    loader,
		startTime: time.Now(),
		version:   version,
	}
}

// SimpleHealthResponse represents a simple health check response
type SimpleHealthResponse struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// ReadyResponse represents a readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health returns simple liveness check
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, SimpleHealthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now(),
	})
}

// Ready returns readiness check with dependency checks
// GET /health/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	// Cache: a cold cache is still servable
	if st, err := h.loader.Status(r.Context()); err != nil {
		checks["cache"] = "error: " + err.Error()
		ready = false
	} else {
		checks["cache"] = string(st.State)
	}

	// Database (optional)
	if h.db != nil {
		dbHealth := h.db.Health(r.Context())
		checks["database"] = dbHealth.Status
		if dbHealth.Status == "unhealthy" {
			ready = false
		}
	}

	resp := ReadyResponse{Status: "ready", Timestamp: time.Now(), Checks: checks}
	status := http.StatusOK
	if !ready {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}
