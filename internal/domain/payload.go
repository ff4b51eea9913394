// Package domain contains the core types of the honeypot engagement service.
package domain

// ScamDetectionResult is the classifier's verdict for a not-yet-flagged session.
type ScamDetectionResult struct {
	IsScam       bool    `json:"isScam"`
	ScamType     *string `json:"scamType"`
	InitialReply string  `json:"initialReply"`
}

// AgentResponse is a generated engagement reply.
type AgentResponse struct {
	Reply string `json:"reply"`
}

// AgentNotes is the analyst summary written at finalization.
type AgentNotes struct {
	Notes string `json:"notes"`
}

// FinalResultPayload is the report sent to the external evaluator.
type FinalResultPayload struct {
	SessionID              string                `json:"sessionId"`
	ScamDetected           bool                  `json:"scamDetected"`
	TotalMessagesExchanged int                   `json:"totalMessagesExchanged"`
	ExtractedIntelligence  ExtractedIntelligence `json:"extractedIntelligence"`
	AgentNotes             string                `json:"agentNotes"`
	Metadata               *Metadata             `json:"metadata,omitempty"`
}

// NewFinalResultPayload snapshots a session into a report.
func NewFinalResultPayload(s *Session) FinalResultPayload {
	p := FinalResultPayload{
		SessionID:              s.SessionID,
		ScamDetected:           s.ScamDetected,
		TotalMessagesExchanged: s.TotalMessagesExchanged,
		ExtractedIntelligence:  s.ExtractedIntelligence.Normalize(),
		AgentNotes:             s.AgentNotes,
	}
	if !s.Metadata.IsZero() {
		md := s.Metadata
		p.Metadata = &md
	}
	return p
}

// IncomingMessage is the inbound turn submitted by the channel collaborator.
type IncomingMessage struct {
	SessionID           string    `json:"sessionId"`
	Message             Message   `json:"message"`
	ConversationHistory []Message `json:"conversationHistory"`
	Metadata            Metadata  `json:"metadata"`
}

// ResponseStatus is the outcome flag on a turn response.
type ResponseStatus string

const (
	ResponseSuccess ResponseStatus = "success"
	ResponseError   ResponseStatus = "error"
)

// OutgoingResponse is returned to the channel for each inbound turn.
type OutgoingResponse struct {
	Status       ResponseStatus `json:"status"`
	Reply        string         `json:"reply"`
	ScamDetected *bool          `json:"scamDetected,omitempty"`
}
