// Package engine orchestrates honeypot sessions: it gates each inbound turn
// through classification or engagement, accumulates extracted intelligence
// and drives the one-time finalization handoff.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/scam-honeypot/internal/agent"
	"github.com/ashureev/scam-honeypot/internal/domain"
	"github.com/ashureev/scam-honeypot/internal/evaluation"
	"github.com/ashureev/scam-honeypot/internal/store"
)

// Options tune an Engine. Zero values select defaults.
type Options struct {
	// AutoFinalizeTurns finalizes a flagged session once it has exchanged
	// this many turns (two messages each). 0 disables.
	AutoFinalizeTurns   int
	CollaboratorTimeout time.Duration
	SubmitTimeout       time.Duration
	// StallAfter is how long a session may sit in finalizing without a
	// write before RecoverStalledFinalizations returns it to active.
	// Defaults to twice the finalization budget.
	StallAfter time.Duration

	Logger      *slog.Logger
	Publisher   Publisher
	Transcripts agent.ConversationLogger

	Now   func() time.Time
	NewID func() string
}

// Engine owns the session lifecycle.
type Engine struct {
	repo      store.Repository
	collab    agent.Collaborators
	submitter evaluation.Submitter

	autoFinalize        int
	collaboratorTimeout time.Duration
	submitTimeout       time.Duration
	stallAfter          time.Duration

	logger      *slog.Logger
	publisher   Publisher
	transcripts agent.ConversationLogger
	now         func() time.Time
	newID       func() string

	locks *keyedLocks

	flightMu sync.Mutex
	inFlight map[string]struct{} // sessions this engine is finalizing

	bgMu   sync.Mutex
	bg     sync.WaitGroup
	closed bool
}

// New creates an engine. Every collaborator in collab must be non-nil.
func New(repo store.Repository, collab agent.Collaborators, submitter evaluation.Submitter, opts Options) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if collab.Classifier == nil || collab.Responder == nil || collab.Extractor == nil || collab.NotesWriter == nil {
		return nil, fmt.Errorf("all collaborators are required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if opts.StallAfter < 0 {
		return nil, fmt.Errorf("stall after must be >= 0")
	}
	if opts.AutoFinalizeTurns < 0 {
		return nil, fmt.Errorf("auto finalize turns must be >= 0")
	}
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = 20 * time.Second
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Publisher == nil {
		opts.Publisher = noopPublisher{}
	}
	if opts.Transcripts == nil {
		opts.Transcripts = agent.NoopConversationLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if collab.Persona.Name == "" {
		collab.Persona = agent.DefaultPersona()
	}

	e := &Engine{
		repo:                repo,
		collab:              collab,
		submitter:           submitter,
		autoFinalize:        opts.AutoFinalizeTurns,
		collaboratorTimeout: opts.CollaboratorTimeout,
		submitTimeout:       opts.SubmitTimeout,
		logger:              opts.Logger,
		publisher:           opts.Publisher,
		transcripts:         opts.Transcripts,
		now:                 opts.Now,
		newID:               opts.NewID,
		locks:               newKeyedLocks(),
		inFlight:            make(map[string]struct{}),
	}
	e.stallAfter = opts.StallAfter
	if e.stallAfter <= 0 {
		e.stallAfter = 2 * e.finalizationBudget()
	}
	return e, nil
}

// CreateSession starts a fresh, empty session under a new id.
func (e *Engine) CreateSession(ctx context.Context) (*domain.Session, error) {
	session := domain.NewSession(e.newID(), e.now())
	if err := e.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	e.logger.Info("session created", "session_id", session.SessionID)
	e.publish(EventCreated, session)
	return session, nil
}

// GetSession returns the current record for id.
func (e *Engine) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	session, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns sessions ordered by most recent activity.
func (e *Engine) ListSessions(ctx context.Context, opts store.ListOptions) ([]*domain.Session, error) {
	sessions, err := e.repo.ListSessions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ResetSession discards id and returns a replacement under a new id. Any
// collaborator result or finalization still in flight for id is dropped
// when it tries to merge.
func (e *Engine) ResetSession(ctx context.Context, id string) (*domain.Session, error) {
	unlock := e.locks.lock(id)
	existed, err := e.repo.DeleteSession(ctx, id)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("reset session: %w", err)
	}

	fresh := domain.NewSession(e.newID(), e.now())
	if err := e.repo.CreateSession(ctx, fresh); err != nil {
		return nil, fmt.Errorf("reset session: %w", err)
	}

	e.logger.Info("session reset", "session_id", id, "existed", existed, "new_session_id", fresh.SessionID)
	e.publisher.Publish(Event{Type: EventReset, SessionID: id, ReplacedBy: fresh.SessionID, At: e.now()})
	e.publish(EventCreated, fresh)
	return fresh, nil
}

// EvictIdle removes sessions not updated within ttl. Sessions in the middle
// of finalization are left alone.
func (e *Engine) EvictIdle(ctx context.Context, ttl time.Duration) (int, error) {
	ids, err := e.repo.GetIdleSessions(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("find idle sessions: %w", err)
	}

	evicted := 0
	for _, id := range ids {
		ok, err := e.evictOne(ctx, id, ttl)
		if err != nil {
			e.logger.Warn("failed to evict session", "session_id", id, "error", err)
			continue
		}
		if ok {
			evicted++
		}
	}
	return evicted, nil
}

func (e *Engine) evictOne(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	// Re-check under the lock; the session may have been touched since the scan.
	cur, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	if cur == nil || cur.Status == domain.StatusFinalizing || e.now().Sub(cur.UpdatedAt) < ttl {
		return false, nil
	}
	existed, err := e.repo.DeleteSession(ctx, id)
	if err != nil {
		return false, err
	}
	if existed {
		e.logger.Info("session evicted", "session_id", id, "idle", e.now().Sub(cur.UpdatedAt))
		e.publisher.Publish(Event{Type: EventEvicted, SessionID: id, At: e.now()})
	}
	return existed, nil
}

// Close waits for background finalizations to finish. Later turns no longer
// schedule automatic finalization.
func (e *Engine) Close() {
	e.bgMu.Lock()
	e.closed = true
	e.bgMu.Unlock()
	e.bg.Wait()
}

// goBackground runs fn on a tracked goroutine unless the engine is closed.
func (e *Engine) goBackground(fn func()) bool {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.closed {
		return false
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn()
	}()
	return true
}

// getOrCreate must be called with the session lock held.
func (e *Engine) getOrCreate(ctx context.Context, id string) (*domain.Session, error) {
	cur, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		return cur, nil
	}
	cur = domain.NewSession(id, e.now())
	if err := e.repo.CreateSession(ctx, cur); err != nil {
		return nil, err
	}
	e.logger.Info("session created for unseen id", "session_id", id)
	e.publish(EventCreated, cur)
	return cur, nil
}

// save stamps and persists session. The caller holds the session lock.
func (e *Engine) save(ctx context.Context, session *domain.Session) error {
	session.UpdatedAt = e.now()
	return e.repo.UpsertSession(ctx, session)
}

func (e *Engine) publish(t EventType, session *domain.Session) {
	e.publisher.Publish(Event{Type: t, SessionID: session.SessionID, Session: session.Clone(), At: e.now()})
}

// lifecycleError maps a non-active status to the error refusing new turns.
func lifecycleError(s *domain.Session) error {
	switch s.Status {
	case domain.StatusCompleted:
		return domain.ErrSessionCompleted
	case domain.StatusFinalizing:
		return domain.ErrFinalizationInProgress
	}
	return nil
}

