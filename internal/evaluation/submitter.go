// Package evaluation delivers final engagement reports to the external
// scoring service.
package evaluation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// Submitter sends a final report. Implementations wrap every failure in
// domain.ErrSubmissionFailed.
type Submitter interface {
	Submit(ctx context.Context, payload domain.FinalResultPayload) (*Ack, error)
}

// Ack is the evaluator's acknowledgement of a report.
type Ack struct {
	AttemptID  string    `json:"attemptId"`
	StatusCode int       `json:"statusCode,omitempty"`
	Body       string    `json:"body,omitempty"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// newAttemptID returns a sortable id that identifies one delivery attempt.
func newAttemptID() string {
	return ulid.Make().String()
}

var (
	_ Submitter = (*HTTPSubmitter)(nil)
	_ Submitter = (*GrpcSubmitter)(nil)
	_ Submitter = (*LogSubmitter)(nil)
)
