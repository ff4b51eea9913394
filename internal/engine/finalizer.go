package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/scam-honeypot/internal/agent"
	"github.com/ashureev/scam-honeypot/internal/domain"
	"github.com/ashureev/scam-honeypot/internal/evaluation"
	"github.com/ashureev/scam-honeypot/internal/store"
)

type finalizeTrigger string

const (
	triggerExplicit finalizeTrigger = "explicit"
	triggerAuto     finalizeTrigger = "auto"
)

// persistTimeout bounds each store round trip of the finalization state
// machine. Those writes run detached from the caller's context so a
// disconnected client cannot strand a session in finalizing.
const persistTimeout = 5 * time.Second

// completeAttempts bounds re-reads when another writer races the outcome
// write.
const completeAttempts = 3

// EndEngagement finalizes the session: it writes analyst notes, submits the
// report and marks the session completed. It runs at most once per session.
// On submission failure the session returns to active and the call can be
// retried.
func (e *Engine) EndEngagement(ctx context.Context, id string) (*domain.Session, *evaluation.Ack, error) {
	return e.finalize(ctx, id, triggerExplicit)
}

func (e *Engine) finalize(ctx context.Context, id string, trigger finalizeTrigger) (*domain.Session, *evaluation.Ack, error) {
	snapshot, err := e.beginFinalization(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	e.markFinalizing(id)
	defer e.unmarkFinalizing(id)

	log := e.logger.With("session_id", id, "trigger", string(trigger))
	log.Info("finalization started", "turns", snapshot.TotalMessagesExchanged)

	history := snapshot.HistorySnapshot()

	// Intelligence may lag the transcript if the last extraction failed or
	// raced with this call.
	if snapshot.ScamDetected && snapshot.IntelligenceRevision < len(history) {
		if intel, partial, err := e.extract(ctx, history); err != nil {
			log.Warn("final extraction failed, reporting previous intelligence", "error", err)
		} else {
			if partial {
				log.Warn("final extraction incomplete, adding to previous intelligence")
			}
			mergeIntelligence(snapshot, intel, len(history), partial)
		}
	}

	notesFresh := snapshot.NotesRevision == len(history) && snapshot.AgentNotes != ""
	if !notesFresh {
		if notes, err := e.generateNotes(ctx, history); err != nil {
			log.Warn("notes generation failed", "error", err)
			if snapshot.AgentNotes == "" {
				snapshot.AgentNotes = agent.NotesFailureText
			}
		} else {
			snapshot.AgentNotes = notes
			snapshot.NotesRevision = len(history)
		}
	}

	payload := domain.NewFinalResultPayload(snapshot)
	submitCtx, cancel := context.WithTimeout(ctx, e.submitTimeout)
	ack, submitErr := e.submitter.Submit(submitCtx, payload)
	cancel()

	final, err := e.completeFinalization(ctx, id, snapshot, submitErr)
	if err != nil {
		return nil, nil, err
	}
	if submitErr != nil {
		log.Warn("finalization rolled back", "error", submitErr)
		e.publish(EventUpdated, final)
		if !errors.Is(submitErr, domain.ErrSubmissionFailed) {
			submitErr = fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, submitErr)
		}
		return final, nil, submitErr
	}

	log.Info("finalization completed", "attempt_id", ack.AttemptID, "artifacts", final.ExtractedIntelligence.Count())
	e.publish(EventFinalized, final)
	return final, ack, nil
}

// persistContext detaches ctx from cancellation and gives it its own
// deadline.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// beginFinalization performs the guarded active -> finalizing transition.
func (e *Engine) beginFinalization(ctx context.Context, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := persistContext(ctx)
	defer cancel()

	unlock := e.locks.lock(id)
	defer unlock()

	cur, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if cur == nil {
		return nil, domain.ErrSessionNotFound
	}
	if err := cur.BeginFinalization(); err != nil {
		return nil, err
	}
	if err := e.save(ctx, cur); err != nil {
		return nil, fmt.Errorf("save finalizing state: %w", err)
	}
	return cur.Clone(), nil
}

// completeFinalization records the outcome of a submission: completed on
// success, back to active on failure. Notes and intelligence computed for
// the report are kept either way. It runs on a detached context so the
// outcome is written even after the caller has gone away.
func (e *Engine) completeFinalization(ctx context.Context, id string, snapshot *domain.Session, submitErr error) (*domain.Session, error) {
	ctx, cancel := persistContext(ctx)
	defer cancel()

	unlock := e.locks.lock(id)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < completeAttempts; attempt++ {
		cur, err := e.repo.GetSession(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if cur == nil || cur.Status != domain.StatusFinalizing {
			e.logger.Info("session removed during finalization, discarding outcome", "session_id", id, "submitted", submitErr == nil)
			return nil, domain.ErrSessionGone
		}

		cur.AgentNotes = snapshot.AgentNotes
		cur.NotesRevision = snapshot.NotesRevision
		mergeIntelligence(cur, snapshot.ExtractedIntelligence, snapshot.IntelligenceRevision, false)

		if submitErr != nil {
			cur.RollbackFinalization()
		} else {
			cur.CompleteFinalization(e.now())
		}
		lastErr = e.save(ctx, cur)
		if lastErr == nil {
			return cur, nil
		}
		if !errors.Is(lastErr, domain.ErrVersionConflict) {
			break
		}
		e.logger.Debug("finalization outcome raced another writer, retrying", "session_id", id, "attempt", attempt+1)
	}
	if submitErr == nil {
		e.logger.Error("report submitted but completion was not recorded", "session_id", id, "error", lastErr)
	}
	return nil, fmt.Errorf("save finalization outcome: %w", lastErr)
}

// RecoverStalledFinalizations returns sessions stuck in finalizing to active.
// A session qualifies when this engine is not finalizing it and it has not
// been written for longer than any finalization may take, which is the
// state a crashed or killed process leaves behind.
func (e *Engine) RecoverStalledFinalizations(ctx context.Context) (int, error) {
	sessions, err := e.repo.ListSessions(ctx, store.ListOptions{Status: domain.StatusFinalizing})
	if err != nil {
		return 0, fmt.Errorf("find finalizing sessions: %w", err)
	}

	recovered := 0
	for _, s := range sessions {
		ok, err := e.recoverOne(ctx, s.SessionID)
		if err != nil {
			e.logger.Warn("failed to recover stalled finalization", "session_id", s.SessionID, "error", err)
			continue
		}
		if ok {
			recovered++
		}
	}
	return recovered, nil
}

func (e *Engine) recoverOne(ctx context.Context, id string) (bool, error) {
	if e.isFinalizing(id) {
		return false, nil
	}
	unlock := e.locks.lock(id)
	defer unlock()

	cur, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	if cur == nil || cur.Status != domain.StatusFinalizing || e.now().Sub(cur.UpdatedAt) < e.stallAfter {
		return false, nil
	}
	cur.RollbackFinalization()
	if err := e.save(ctx, cur); err != nil {
		return false, err
	}
	e.logger.Warn("stalled finalization rolled back", "session_id", id, "stalled_for", e.now().Sub(cur.UpdatedAt))
	e.publish(EventUpdated, cur)
	return true, nil
}

// finalizationBudget is the longest a single finalization may legitimately
// take: a final extraction, notes, the submission and its two store writes.
func (e *Engine) finalizationBudget() time.Duration {
	return 2*e.collaboratorTimeout + e.submitTimeout + 2*persistTimeout
}

func (e *Engine) markFinalizing(id string) {
	e.flightMu.Lock()
	e.inFlight[id] = struct{}{}
	e.flightMu.Unlock()
}

func (e *Engine) unmarkFinalizing(id string) {
	e.flightMu.Lock()
	delete(e.inFlight, id)
	e.flightMu.Unlock()
}

func (e *Engine) isFinalizing(id string) bool {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	_, ok := e.inFlight[id]
	return ok
}

func (e *Engine) generateNotes(ctx context.Context, history []domain.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.collaboratorTimeout)
	defer cancel()

	notes, err := e.collab.NotesWriter.GenerateNotes(ctx, history)
	if err != nil {
		return "", fmt.Errorf("%w: generate notes: %w", domain.ErrCollaboratorFailure, err)
	}
	text := strings.TrimSpace(notes.Notes)
	if text == "" {
		return "", fmt.Errorf("%w: empty notes", domain.ErrCollaboratorFailure)
	}
	return text, nil
}
