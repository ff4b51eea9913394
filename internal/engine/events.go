package engine

import (
	"time"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// EventType names a session change.
type EventType string

const (
	EventCreated   EventType = "session.created"
	EventUpdated   EventType = "session.updated"
	EventFinalized EventType = "session.finalized"
	EventReset     EventType = "session.reset"
	EventEvicted   EventType = "session.evicted"
)

// Event describes a change to one session. Session is a snapshot taken after
// the change and is nil for removals.
type Event struct {
	Type       EventType       `json:"type"`
	SessionID  string          `json:"sessionId"`
	ReplacedBy string          `json:"replacedBy,omitempty"`
	Session    *domain.Session `json:"session,omitempty"`
	At         time.Time       `json:"at"`
}

// Publisher receives session events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
