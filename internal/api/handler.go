// Package api provides HTTP handlers for the honeypot API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/scam-honeypot/internal/agent"
	"github.com/ashureev/scam-honeypot/internal/domain"
	"github.com/ashureev/scam-honeypot/internal/engine"
)

const defaultMaxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	eng          *engine.Engine
	limiter      *agent.RateLimiter
	detector     Verdicter
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHandler creates a new Handler. limiter and detector may be nil.
func NewHandler(eng *engine.Engine, limiter *agent.RateLimiter, detector Verdicter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		eng:          eng,
		limiter:      limiter,
		detector:     detector,
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a bounded JSON body into v. An empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrInvalidInput
	}
	return nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthMissing):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAuthInvalid):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionCompleted),
		errors.Is(err, domain.ErrFinalizationInProgress),
		errors.Is(err, domain.ErrAlreadyFinalized),
		errors.Is(err, domain.ErrSessionGone),
		errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSubmissionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error. Internal errors are logged and masked.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}
