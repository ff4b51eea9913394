package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/scam-honeypot/internal/agent"
	"github.com/ashureev/scam-honeypot/internal/domain"
)

// gateOutcome is the result of one classifier or responder call.
type gateOutcome struct {
	reply    string
	isScam   bool
	scamType *string
	err      error
}

// HandleMessage processes one inbound turn. Collaborator failures do not
// return an error: the inbound message is recorded and the response carries
// status "error". Lifecycle errors (completed, finalizing, gone) and store
// failures are returned.
func (e *Engine) HandleMessage(ctx context.Context, in domain.IncomingMessage) (domain.OutgoingResponse, error) {
	text := strings.TrimSpace(in.Message.Text)
	if in.SessionID == "" || text == "" {
		return domain.OutgoingResponse{Status: domain.ResponseSuccess, Reply: agent.ClarificationReply}, nil
	}
	id := in.SessionID

	snapshot, err := e.snapshotForTurn(ctx, id)
	if err != nil {
		return domain.OutgoingResponse{}, err
	}

	inbound := domain.NewMessage(domain.SenderScammer, text, e.now())
	if in.Message.Timestamp > 0 {
		inbound.Timestamp = in.Message.Timestamp
	}
	convo := snapshot.ConversationHistory
	if len(in.ConversationHistory) > 0 {
		convo = in.ConversationHistory
	}

	e.transcripts.Log(agent.ConversationLogEvent{
		SessionID:  id,
		Channel:    in.Metadata.Channel,
		Direction:  agent.DirectionInbound,
		EventType:  "scammer_message",
		Sender:     string(domain.SenderScammer),
		ContentRaw: text,
	})

	outcome := e.runGate(ctx, snapshot.ScamDetected, inbound, convo)

	merged, err := e.mergeTurn(ctx, id, inbound, outcome, in.Metadata)
	if err != nil {
		return domain.OutgoingResponse{}, err
	}

	if outcome.err != nil {
		e.logger.Warn("turn collaborator failed", "session_id", id, "flagged", snapshot.ScamDetected, "error", outcome.err)
		e.publish(EventUpdated, merged)
		return domain.OutgoingResponse{Status: domain.ResponseError, Reply: agent.FailureReply}, nil
	}

	e.transcripts.Log(agent.ConversationLogEvent{
		SessionID:  id,
		Channel:    in.Metadata.Channel,
		Direction:  agent.DirectionOutbound,
		EventType:  "honeypot_reply",
		Sender:     string(domain.SenderHoneypot),
		ContentRaw: outcome.reply,
		Meta:       map[string]any{"scam_detected": merged.ScamDetected},
	})

	if merged.ScamDetected {
		if updated, err := e.accumulate(ctx, id, merged.HistorySnapshot()); err != nil {
			e.logger.Warn("intelligence not updated", "session_id", id, "error", err)
		} else if updated != nil {
			merged = updated
		}
	}
	e.publish(EventUpdated, merged)
	e.maybeAutoFinalize(merged)

	scam := merged.ScamDetected
	return domain.OutgoingResponse{Status: domain.ResponseSuccess, Reply: outcome.reply, ScamDetected: &scam}, nil
}

// snapshotForTurn loads (or creates) the session and checks it accepts turns.
func (e *Engine) snapshotForTurn(ctx context.Context, id string) (*domain.Session, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	cur, err := e.getOrCreate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := lifecycleError(cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// runGate classifies not-yet-flagged sessions and generates engagement
// replies for flagged ones. It runs without holding the session lock.
func (e *Engine) runGate(ctx context.Context, flagged bool, inbound domain.Message, history []domain.Message) gateOutcome {
	ctx, cancel := context.WithTimeout(ctx, e.collaboratorTimeout)
	defer cancel()

	if !flagged {
		res, err := e.collab.Classifier.DetectScam(ctx, inbound.Text, history)
		if err != nil {
			return gateOutcome{err: fmt.Errorf("%w: detect scam: %w", domain.ErrCollaboratorFailure, err)}
		}
		if !res.IsScam {
			return gateOutcome{reply: agent.DefaultNonScamReply}
		}
		reply := strings.TrimSpace(res.InitialReply)
		if reply == "" {
			reply = agent.RephraseReply
		}
		return gateOutcome{reply: reply, isScam: true, scamType: res.ScamType}
	}

	withInbound := append(append([]domain.Message{}, history...), inbound)
	resp, err := e.collab.Responder.GenerateReply(ctx, withInbound, e.collab.Persona)
	if err != nil {
		return gateOutcome{err: fmt.Errorf("%w: generate reply: %w", domain.ErrCollaboratorFailure, err)}
	}
	reply := strings.TrimSpace(resp.Reply)
	if reply == "" {
		reply = agent.RephraseReply
	}
	return gateOutcome{reply: reply, isScam: true}
}

// mergeTurn applies the gate outcome to the current record: it appends the
// inbound message (and the reply on success), bumps the counter and ORs the
// scam flag.
func (e *Engine) mergeTurn(ctx context.Context, id string, inbound domain.Message, outcome gateOutcome, md domain.Metadata) (*domain.Session, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	cur, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if cur == nil {
		e.logger.Info("discarding turn for removed session", "session_id", id)
		return nil, domain.ErrSessionGone
	}
	if err := lifecycleError(cur); err != nil {
		e.logger.Info("discarding turn, session no longer active", "session_id", id, "status", cur.Status)
		return nil, err
	}

	if outcome.err != nil {
		cur.RecordInbound(inbound)
	} else {
		cur.RecordTurn(inbound, domain.NewMessage(domain.SenderHoneypot, outcome.reply, e.now()))
		if outcome.isScam {
			wasFlagged := cur.ScamDetected
			cur.MarkScam(outcome.scamType)
			if !wasFlagged {
				e.logger.Info("scam detected", "session_id", id, "scam_type", derefOr(cur.ScamType, ""))
			}
		}
	}
	if !md.IsZero() {
		cur.Metadata = md
	}

	if err := e.save(ctx, cur); err != nil {
		return nil, fmt.Errorf("save turn: %w", err)
	}
	return cur, nil
}

// maybeAutoFinalize schedules finalization once a flagged session reaches
// the configured number of turns.
func (e *Engine) maybeAutoFinalize(s *domain.Session) {
	if e.autoFinalize == 0 || !s.ScamDetected || s.Status != domain.StatusActive {
		return
	}
	if s.TotalMessagesExchanged < 2*e.autoFinalize {
		return
	}
	id := s.SessionID
	scheduled := e.goBackground(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.finalizationBudget())
		defer cancel()
		if _, _, err := e.finalize(ctx, id, triggerAuto); err != nil {
			e.logger.Info("automatic finalization did not complete", "session_id", id, "error", err)
		}
	})
	if !scheduled {
		e.logger.Debug("engine closed, skipping automatic finalization", "session_id", id)
	}
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
