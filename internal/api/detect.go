package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/scam-honeypot/internal/agent"
)

const noModelResponse = "No response from AI"

// Verdicter gives a free-form model opinion on a single message.
type Verdicter interface {
	Verdict(ctx context.Context, text string) (string, error)
}

// DetectRequest is the body of a one-shot detection.
type DetectRequest struct {
	Text string `json:"text"`
}

// DetectResponse reports a one-shot detection.
type DetectResponse struct {
	Input      string `json:"input"`
	Scam       bool   `json:"scam"`
	AIResponse string `json:"aiResponse"`
}

// RegisterDetectStatus mounts the unauthenticated liveness check of the
// detection endpoint.
func RegisterDetectStatus(r chi.Router) {
	r.Get("/api/detect", func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "Honeypot Scam Detector API is running",
		})
	})
}

// Detect classifies one message without touching any session. The scam flag
// is the model verdict OR the keyword heuristic.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := h.decode(w, r, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	aiText := ""
	if h.detector != nil {
		verdict, err := h.detector.Verdict(r.Context(), req.Text)
		if err != nil {
			h.logger.Error("detection model call failed", "error", err)
			Error(w, http.StatusInternalServerError, "failed to analyze text")
			return
		}
		aiText = verdict
	}

	resp := DetectResponse{
		Input:      req.Text,
		Scam:       strings.Contains(strings.ToLower(aiText), "true") || agent.MatchesScamSignal(req.Text),
		AIResponse: aiText,
	}
	if resp.AIResponse == "" {
		resp.AIResponse = noModelResponse
	}
	JSON(w, http.StatusOK, resp)
}

var _ Verdicter = (*agent.GeminiClient)(nil)
