//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTeapot, "short and stout")

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrAuthMissing, http.StatusUnauthorized},
		{domain.ErrAuthInvalid, http.StatusForbidden},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrSessionCompleted, http.StatusConflict},
		{domain.ErrFinalizationInProgress, http.StatusConflict},
		{domain.ErrAlreadyFinalized, http.StatusConflict},
		{domain.ErrSessionGone, http.StatusConflict},
		{fmt.Errorf("upsert session s1: %w", domain.ErrVersionConflict), http.StatusConflict},
		{fmt.Errorf("wrapped: %w", domain.ErrSubmissionFailed), http.StatusBadGateway},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
