package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// maxAckBody bounds how much of the evaluator's reply is kept.
const maxAckBody = 4 << 10

// HTTPSubmitter posts reports as JSON.
type HTTPSubmitter struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPSubmitter creates a submitter for endpoint with the given timeout.
func NewHTTPSubmitter(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSubmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Submit posts the payload. Any non-2xx status is a failure.
func (s *HTTPSubmitter) Submit(ctx context.Context, payload domain.FinalResultPayload) (*Ack, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", domain.ErrSubmissionFailed, err)
	}

	attemptID := newAttemptID()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrSubmissionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.SessionID)
	req.Header.Set("X-Attempt-Id", attemptID)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("final result submission failed", "session_id", payload.SessionID, "attempt_id", attemptID, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxAckBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("final result rejected",
			"session_id", payload.SessionID,
			"attempt_id", attemptID,
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf("%w: evaluator returned %d", domain.ErrSubmissionFailed, resp.StatusCode)
	}

	s.logger.Info("final result submitted", "session_id", payload.SessionID, "attempt_id", attemptID, "status", resp.StatusCode)
	return &Ack{
		AttemptID:  attemptID,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		AcceptedAt: time.Now(),
	}, nil
}
