package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/scam-honeypot/internal/store"
)

// Pinger is an optional dependency checked by the health endpoint.
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo      store.Repository
	evaluator Pinger
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler. evaluator may be nil.
func NewHealthHandler(repo store.Repository, evaluator Pinger) *HealthHandler {
	return &HealthHandler{repo: repo, evaluator: evaluator, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// The evaluator is only needed at finalization; an outage degrades
	// the report but keeps the service up.
	if h.evaluator != nil {
		if err := h.evaluator.Health(ctx); err != nil {
			slog.Warn("Evaluator health check failed", "error", err)
			status["status"] = "degraded"
			checks["evaluator"] = "unreachable"
		} else {
			checks["evaluator"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
