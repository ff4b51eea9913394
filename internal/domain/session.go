package domain

import (
	"fmt"
	"time"
)

// Sender identifies which party authored a message.
type Sender string

const (
	// SenderScammer marks inbound messages from the counterparty.
	SenderScammer Sender = "scammer"
	// SenderHoneypot marks replies produced by the engagement agent.
	SenderHoneypot Sender = "honeypot"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "active"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
)

// Message is a single entry in a session's conversation history.
// Timestamp is in Unix milliseconds.
type Message struct {
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage builds a message stamped with the given time.
func NewMessage(sender Sender, text string, at time.Time) Message {
	return Message{Sender: sender, Text: text, Timestamp: at.UnixMilli()}
}

// Metadata is opaque channel information forwarded into the final report.
type Metadata struct {
	Channel  string `json:"channel,omitempty"`
	Language string `json:"language,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

// IsZero reports whether no metadata field is set.
func (m Metadata) IsZero() bool {
	return m.Channel == "" && m.Language == "" && m.Locale == ""
}

// Session holds the engagement state for one counterparty.
type Session struct {
	SessionID              string                `json:"sessionId"`
	ConversationHistory    []Message             `json:"conversationHistory"`
	ScamDetected           bool                  `json:"scamDetected"`
	ScamType               *string               `json:"scamType"`
	TotalMessagesExchanged int                   `json:"totalMessagesExchanged"`
	ExtractedIntelligence  ExtractedIntelligence `json:"extractedIntelligence"`
	AgentNotes             string                `json:"agentNotes"`
	Status                 Status                `json:"status"`
	Metadata               Metadata              `json:"metadata"`

	// IntelligenceRevision is the history length the stored intelligence was
	// extracted from. NotesRevision is the same for AgentNotes.
	IntelligenceRevision int `json:"intelligenceRevision"`
	NotesRevision        int `json:"notesRevision"`

	// Version is the store's write counter for this record. Writes made
	// from a stale read are rejected.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	FinalizedAt *time.Time `json:"finalizedAt,omitempty"`
}

// NewSession returns an empty active session.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		SessionID:             id,
		ConversationHistory:   []Message{},
		ExtractedIntelligence: NewExtractedIntelligence(),
		Status:                StatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Clone returns a deep copy so callers never share slices with the store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ConversationHistory = append([]Message{}, s.ConversationHistory...)
	c.ExtractedIntelligence = s.ExtractedIntelligence.Clone()
	if s.ScamType != nil {
		t := *s.ScamType
		c.ScamType = &t
	}
	if s.FinalizedAt != nil {
		f := *s.FinalizedAt
		c.FinalizedAt = &f
	}
	return &c
}

// RecordTurn appends an inbound message and its reply.
func (s *Session) RecordTurn(inbound, reply Message) {
	s.ConversationHistory = append(s.ConversationHistory, inbound, reply)
	s.TotalMessagesExchanged += 2
}

// RecordInbound appends an inbound message that received no recorded reply.
func (s *Session) RecordInbound(inbound Message) {
	s.ConversationHistory = append(s.ConversationHistory, inbound)
	s.TotalMessagesExchanged++
}

// MarkScam flags the session. The flag is never cleared; the first non-empty
// scam type wins.
func (s *Session) MarkScam(scamType *string) {
	s.ScamDetected = true
	if s.ScamType == nil && scamType != nil && *scamType != "" {
		t := *scamType
		s.ScamType = &t
	}
}

// IsTerminal reports whether the session accepts no further turns.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted
}

// BeginFinalization moves an active session into finalizing.
func (s *Session) BeginFinalization() error {
	switch s.Status {
	case StatusActive:
		s.Status = StatusFinalizing
		return nil
	case StatusFinalizing:
		return ErrFinalizationInProgress
	case StatusCompleted:
		return ErrAlreadyFinalized
	default:
		return fmt.Errorf("unknown session status %q", s.Status)
	}
}

// CompleteFinalization marks a finalizing session as completed.
func (s *Session) CompleteFinalization(at time.Time) {
	s.Status = StatusCompleted
	s.FinalizedAt = &at
}

// RollbackFinalization returns a finalizing session to active.
func (s *Session) RollbackFinalization() {
	if s.Status == StatusFinalizing {
		s.Status = StatusActive
	}
}

// HistorySnapshot returns a copy of the conversation history.
func (s *Session) HistorySnapshot() []Message {
	return append([]Message{}, s.ConversationHistory...)
}
