package evaluation

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// LogSubmitter records reports in the log instead of delivering them. It is
// used when no evaluator is configured.
type LogSubmitter struct {
	logger *slog.Logger
}

// NewLogSubmitter creates a submitter that only logs.
func NewLogSubmitter(logger *slog.Logger) *LogSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSubmitter{logger: logger}
}

// Submit logs the payload and always succeeds.
func (s *LogSubmitter) Submit(_ context.Context, payload domain.FinalResultPayload) (*Ack, error) {
	attemptID := newAttemptID()
	s.logger.Info("final result (no evaluator configured)",
		"session_id", payload.SessionID,
		"attempt_id", attemptID,
		"scam_detected", payload.ScamDetected,
		"total_messages", payload.TotalMessagesExchanged,
		"artifacts", payload.ExtractedIntelligence.Count(),
	)
	return &Ack{AttemptID: attemptID, AcceptedAt: time.Now()}, nil
}
