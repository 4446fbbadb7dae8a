package adminhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/i2y/apicomposer/internal/usecase"
)

// DriftChecker runs an immediate drift check. *usecase.DriftWatcher satisfies it.
type DriftChecker interface {
	CheckNow(ctx context.Context) (bool, error)
}

// HealthChecker probes the upstreams. *usecase.HealthUseCase satisfies it.
type HealthChecker interface {
	Execute(ctx context.Context) usecase.HealthReport
}

// Handlers struct holds dependencies for the admin HTTP handlers.
type Handlers struct {
	drift   DriftChecker
	health  HealthChecker
	metrics http.Handler
	logger  *slog.Logger
}

// NewHandlers creates a new Handlers struct. metrics may be nil to leave /metrics unregistered.
func NewHandlers(drift DriftChecker, health HealthChecker, metrics http.Handler, logger *slog.Logger) *Handlers {
	return &Handlers{
		drift:   drift,
		health:  health,
		metrics: metrics,
		logger:  logger.With("component", "admin_handler"),
	}
}

// RegisterAdminRoutes sets up the admin endpoints.
func (h *Handlers) RegisterAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /admin/refresh", h.handleRefresh)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

// RefreshResponse is the body of POST /admin/refresh.
type RefreshResponse struct {
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// handleRefresh implements POST /admin/refresh
func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Received refresh request")
	changed, err := h.drift.CheckNow(r.Context())
	if err != nil {
		h.logger.Error("Drift check failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, RefreshResponse{Error: err.Error()})
		return
	}
	status := http.StatusOK
	if changed {
		// the process is about to restart
		status = http.StatusAccepted
	}
	writeJSON(w, status, RefreshResponse{Changed: changed})
}

// handleHealth implements GET /health
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.health.Execute(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
