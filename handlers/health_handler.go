package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/market-routes/utils"
	"go.uber.org/zap"
)

// HealthChecker is implemented by dependencies that can report their health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db            HealthChecker
	providerCount func() int
	logger        *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
// db may be nil when the resolution log is disabled.
func NewHealthHandler(db HealthChecker, providerCount func() int, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:            db,
		providerCount: providerCount,
		logger:        logger,
	}
}

// HandleHealth handles GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz.
// Providers never gate readiness: with none configured every route falls back.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db == nil {
		checks["database"] = "disabled"
	} else if err := h.db.HealthCheck(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.providerCount != nil {
		if n := h.providerCount(); n > 0 {
			checks["providers"] = strconv.Itoa(n) + " configured"
		} else {
			checks["providers"] = "none_configured"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Success: allHealthy, Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
