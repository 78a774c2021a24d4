package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/auth0-gateway/auth0"
	"github.com/upb/auth0-gateway/services/audit"
	"github.com/upb/auth0-gateway/utils"
	"go.uber.org/zap"
)

const (
	checkHealthy   = "healthy"
	checkUnhealthy = "unhealthy"
	checkPending   = "pending"
)

// KeyStatsProvider exposes the state of the signing key cache
type KeyStatsProvider interface {
	Stats() auth0.KeySourceStats
}

// AuditStatsProvider exposes audit pipeline counters
type AuditStatsProvider interface {
	GetStats() audit.Stats
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the payload of GET /status
type StatusResponse struct {
	Status      string               `json:"status"`
	Timestamp   string               `json:"timestamp"`
	Environment string               `json:"environment"`
	SigningKeys auth0.KeySourceStats `json:"signing_keys"`
	Audit       *audit.Stats         `json:"audit,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db          *sql.DB
	keys        KeyStatsProvider
	audit       AuditStatsProvider
	environment string
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and auditStats may be nil.
func NewHealthHandler(db *sql.DB, keys KeyStatsProvider, auditStats AuditStatsProvider, environment string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		keys:        keys,
		audit:       auditStats,
		environment: environment,
		logger:      logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    checkHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates the database and the signing key cache
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.checkDatabase(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = checkUnhealthy
			allHealthy = false
		} else {
			checks["database"] = checkHealthy
		}
	}

	if h.keys != nil {
		checks["signing_keys"] = signingKeyStatus(h.keys.Stats())
		if checks["signing_keys"] == checkUnhealthy {
			allHealthy = false
		}
	}

	status := checkHealthy
	httpStatus := http.StatusOK
	if !allHealthy {
		status = checkUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Status:      "running",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: h.environment,
	}
	if h.keys != nil {
		response.SigningKeys = h.keys.Stats()
	}
	if h.audit != nil {
		stats := h.audit.GetStats()
		response.Audit = &stats
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}

// A cache that has never loaded is pending until a fetch fails.
func signingKeyStatus(stats auth0.KeySourceStats) string {
	switch {
	case stats.HasConfig:
		return checkHealthy
	case stats.LastError != "":
		return checkUnhealthy
	default:
		return checkPending
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
