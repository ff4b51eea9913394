package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/scam-honeypot/internal/agent"
	"github.com/ashureev/scam-honeypot/internal/domain"
)

// accumulate extracts intelligence from history and merges it into the
// stored session. It returns the updated record, or nil when the result was
// stale and discarded.
func (e *Engine) accumulate(ctx context.Context, id string, history []domain.Message) (*domain.Session, error) {
	intel, partial, err := e.extract(ctx, history)
	if err != nil {
		return nil, err
	}
	if partial {
		e.logger.Warn("extraction incomplete, adding to previous intelligence", "session_id", id, "revision", len(history))
	}

	unlock := e.locks.lock(id)
	defer unlock()

	cur, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if cur == nil {
		return nil, domain.ErrSessionGone
	}
	if cur.Status != domain.StatusActive {
		return nil, nil
	}
	if !mergeIntelligence(cur, intel, len(history), partial) {
		e.logger.Debug("discarding stale extraction", "session_id", id, "revision", len(history), "stored_revision", cur.IntelligenceRevision)
		return nil, nil
	}
	if err := e.save(ctx, cur); err != nil {
		return nil, fmt.Errorf("save intelligence: %w", err)
	}
	e.logger.Debug("intelligence updated", "session_id", id, "artifacts", cur.ExtractedIntelligence.Count(), "revision", cur.IntelligenceRevision)
	return cur, nil
}

// extract runs the extractor under the collaborator timeout. partial reports
// a usable result from an extractor that lost some of its strategies.
func (e *Engine) extract(ctx context.Context, history []domain.Message) (intel domain.ExtractedIntelligence, partial bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.collaboratorTimeout)
	defer cancel()

	intel, err = e.collab.Extractor.Extract(ctx, history)
	switch {
	case errors.Is(err, agent.ErrPartialExtraction):
		return intel.Normalize(), true, nil
	case err != nil:
		return domain.ExtractedIntelligence{}, false, fmt.Errorf("%w: extract: %w", domain.ErrCollaboratorFailure, err)
	}
	return intel.Normalize(), false, nil
}

// mergeIntelligence replaces the stored snapshot with intel when intel was
// derived from a transcript at least as long as the one behind the stored
// snapshot. A partial result is added to the stored snapshot instead, so a
// failed strategy never erases what it found on an earlier turn. It reports
// whether the session changed.
func mergeIntelligence(s *domain.Session, intel domain.ExtractedIntelligence, revision int, partial bool) bool {
	if revision < s.IntelligenceRevision {
		return false
	}
	if partial {
		intel = s.ExtractedIntelligence.Union(intel)
	}
	intel = intel.Normalize()
	if revision == s.IntelligenceRevision && intel.Equal(s.ExtractedIntelligence) {
		return false
	}
	s.ExtractedIntelligence = intel
	s.IntelligenceRevision = revision
	return true
}
