package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// MemoryStore implements Repository in process memory. Records are cloned on
// the way in and out so callers never alias stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.Session)}
}

// CreateSession inserts a new session record.
func (m *MemoryStore) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.SessionID]; exists {
		return fmt.Errorf("insert session: %s already exists", session.SessionID)
	}
	c := session.Clone()
	c.Version = 1
	m.sessions[session.SessionID] = c
	session.Version = c.Version
	return nil
}

// GetSession retrieves a session by id.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID].Clone(), nil
}

// UpsertSession writes session when its version matches the stored record.
func (m *MemoryStore) UpsertSession(_ context.Context, session *domain.Session) error {
	c := session.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.sessions[session.SessionID]
	switch {
	case exists && stored.Version != session.Version:
		return fmt.Errorf("upsert session %s: %w", session.SessionID, domain.ErrVersionConflict)
	case !exists && session.Version != 0:
		return fmt.Errorf("upsert session %s: record removed: %w", session.SessionID, domain.ErrVersionConflict)
	}
	c.Version = session.Version + 1
	m.sessions[session.SessionID] = c
	session.Version = c.Version
	return nil
}

// DeleteSession removes a session record.
func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	return existed, nil
}

// ListSessions returns sessions ordered by most recent update.
func (m *MemoryStore) ListSessions(_ context.Context, opts ListOptions) ([]*domain.Session, error) {
	m.mu.RLock()
	out := make([]*domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// GetIdleSessions returns ids of sessions not updated within ttl.
func (m *MemoryStore) GetIdleSessions(_ context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(threshold) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var (
	_ Repository = (*MemoryStore)(nil)
	_ Repository = (*SQLiteStore)(nil)
)
