// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// ListOptions filters ListSessions.
type ListOptions struct {
	Status domain.Status // empty matches every status
	Limit  int           // 0 means no limit
}

// Repository defines the interface for persisting honeypot sessions.
// Implementations must serialize writes for the same session id and must
// never hand out records that alias their internal state.
type Repository interface {
	// CreateSession inserts a new session. It fails if the id already exists.
	// On success session.Version is set to the stored version.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by id. It returns nil, nil when missing.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpsertSession writes session if the stored record is still at
	// session.Version, or inserts it when Version is 0 and no record exists.
	// Otherwise it returns domain.ErrVersionConflict and writes nothing. On
	// success session.Version is advanced to the stored version.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes a session. It reports whether a record existed.
	DeleteSession(ctx context.Context, sessionID string) (bool, error)

	// ListSessions returns sessions ordered by most recent update.
	ListSessions(ctx context.Context, opts ListOptions) ([]*domain.Session, error)

	// GetIdleSessions returns ids of sessions not updated within ttl.
	GetIdleSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}
