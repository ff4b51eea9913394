package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/scam-honeypot/internal/domain"
	"github.com/ashureev/scam-honeypot/internal/evaluation"
	"github.com/ashureev/scam-honeypot/internal/identity"
	"github.com/ashureev/scam-honeypot/internal/store"
)

const maxListLimit = 500

// EndResponse is returned when an engagement is finalized.
type EndResponse struct {
	Session *domain.Session `json:"session"`
	Ack     *evaluation.Ack `json:"ack,omitempty"`
}

// RegisterRoutes mounts the session routes. Callers wrap r with auth.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/honeypot/message", h.Message)
	r.Post("/api/sessions", h.CreateSession)
	r.Get("/api/sessions", h.ListSessions)
	r.Get("/api/sessions/{id}", h.GetSession)
	r.Post("/api/sessions/{id}/end", h.EndSession)
	r.Post("/api/sessions/{id}/reset", h.ResetSession)
	r.Post("/api/detect", h.Detect)
}

// Message handles one inbound turn from the channel.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var in domain.IncomingMessage
	if err := h.decode(w, r, &in); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := in.SessionID
	if key == "" {
		key = "ip:" + identity.IPFromRequest(r)
	}
	if h.limiter != nil && !h.limiter.Allow(key) {
		h.logger.Warn("rate limit exceeded", "session_id", in.SessionID, "ip", identity.IPFromRequest(r))
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	resp, err := h.eng.HandleMessage(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// CreateSession starts a new, empty session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.eng.CreateSession(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, session)
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.eng.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// ListSessions returns sessions, newest first. Accepts ?status= and ?limit=.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := h.eng.ListSessions(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// EndSession finalizes the engagement and submits the report.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ack, err := h.eng.EndEngagement(r.Context(), id)
	if err != nil {
		h.logger.Warn("end engagement failed", "session_id", id, "error", err)
		h.fail(w, r, err)
		return
	}
	if h.limiter != nil {
		h.limiter.Forget(id)
	}
	JSON(w, http.StatusOK, EndResponse{Session: session, Ack: ack})
}

// ResetSession discards a session and returns its replacement.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := h.eng.ResetSession(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.limiter != nil {
		h.limiter.Forget(id)
	}
	JSON(w, http.StatusOK, session)
}

func listOptions(r *http.Request) (store.ListOptions, error) {
	var opts store.ListOptions
	q := r.URL.Query()

	switch status := domain.Status(q.Get("status")); status {
	case "", domain.StatusActive, domain.StatusFinalizing, domain.StatusCompleted:
		opts.Status = status
	default:
		return opts, domain.ErrInvalidInput
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, domain.ErrInvalidInput
		}
		opts.Limit = min(n, maxListLimit)
	}
	return opts, nil
}
