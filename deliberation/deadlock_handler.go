package deliberation

import (
	"context"
	"fmt"
	"time"
)

// DeadlockHandler detects 1-1-1 vote splits and either re-enters
// CROSS_EXAMINE with an incremented round or, at the round ceiling, drives
// the session to ESCALATE (C5). It must be consulted only after a VOTE
// phase has produced a 1-1-1 split; 2-1 and 3-0 splits resolve via
// Session.ResolveConsensus and never reach this handler.
type DeadlockHandler struct {
	sink   EventSink
	logger Logger
}

// NewDeadlockHandler constructs a DeadlockHandler. sink may be nil; events
// are simply not published in that case.
func NewDeadlockHandler(sink EventSink) *DeadlockHandler {
	return &DeadlockHandler{sink: sink, logger: NoOpLogger{}}
}

// SetLogger wires a structured logger.
func (h *DeadlockHandler) SetLogger(logger Logger) { h.logger = logger }

// IsOneOneOne reports whether distribution is a genuine three-way tie:
// sum 3, exactly three distinct dispositions, each with count 1.
func IsOneOneOne(distribution map[Disposition]int) bool {
	sum := 0
	for _, count := range distribution {
		sum += count
		if count != 1 {
			return false
		}
	}
	return sum == 3 && len(distribution) == 3
}

// CanRetry reports whether another cross-examine/vote round is permitted.
func (h *DeadlockHandler) CanRetry(session Session, maxRounds int) bool {
	return session.CanRetryCrossExamine(maxRounds)
}

// HandleNoConsensusResult is the sum type HandleNoConsensus returns: exactly
// one of RoundTriggered or Deadlock is non-nil.
type HandleNoConsensusResult struct {
	Session        Session
	RoundTriggered *CrossExamineRoundTriggeredEvent
	Deadlock       *DeadlockDetectedEvent
}

// HandleNoConsensus refuses if session is terminal or distribution is not
// 1-1-1 (a 2-1/3-0 split must never reach this method). Otherwise it
// either begins a new round or forces a deadlock escalation depending on
// CanRetry.
func (h *DeadlockHandler) HandleNoConsensus(ctx context.Context, session Session, distribution map[Disposition]int, maxRounds int, now time.Time) (HandleNoConsensusResult, error) {
	if session.Phase.IsTerminal() {
		return HandleNoConsensusResult{}, &SessionAlreadyCompleteError{SessionID: session.SessionID}
	}
	if !IsOneOneOne(distribution) {
		return HandleNoConsensusResult{}, fmt.Errorf("deliberation: deadlock handler invoked with non-1-1-1 distribution %v", distribution)
	}

	if h.CanRetry(session, maxRounds) {
		return h.triggerNewRound(ctx, session, distribution)
	}
	return h.triggerDeadlockEscalation(ctx, session, distribution, now)
}

// TriggerNewRound is the atomic primitive behind the "can retry" branch of
// HandleNoConsensus, exposed for direct testing.
func (h *DeadlockHandler) TriggerNewRound(ctx context.Context, session Session, distribution map[Disposition]int) (HandleNoConsensusResult, error) {
	return h.triggerNewRound(ctx, session, distribution)
}

func (h *DeadlockHandler) triggerNewRound(ctx context.Context, session Session, distribution map[Disposition]int) (HandleNoConsensusResult, error) {
	updated, err := session.BeginNewRound(distribution)
	if err != nil {
		return HandleNoConsensusResult{}, err
	}
	event := CrossExamineRoundTriggeredEvent{
		eventEnvelope: eventEnvelope{
			EventID:       newID(),
			SessionID:     session.SessionID,
			PetitionID:    session.PetitionID,
			SchemaVersion: 1,
		},
		RoundNumber:              updated.RoundCount,
		PreviousVoteDistribution: copyDistribution(distribution),
		ParticipatingArchons:     session.AssignedArchons,
	}
	h.publish(ctx, event)
	if h.logger != nil {
		h.logger.InfoWithContext(ctx, "deliberation_cross_examine_round_triggered", map[string]interface{}{
			"session_id":   session.SessionID,
			"round_number": updated.RoundCount,
		})
	}
	return HandleNoConsensusResult{Session: updated, RoundTriggered: &event}, nil
}

// TriggerDeadlockEscalation is the atomic primitive behind the "round
// ceiling hit" branch of HandleNoConsensus, exposed for direct testing.
func (h *DeadlockHandler) TriggerDeadlockEscalation(ctx context.Context, session Session, distribution map[Disposition]int, now time.Time) (HandleNoConsensusResult, error) {
	return h.triggerDeadlockEscalation(ctx, session, distribution, now)
}

func (h *DeadlockHandler) triggerDeadlockEscalation(ctx context.Context, session Session, distribution map[Disposition]int, now time.Time) (HandleNoConsensusResult, error) {
	phaseAtDeadlock := session.Phase
	roundCountBeforeUpdate := session.RoundCount
	updated, err := session.ForceDeadlock(distribution, now)
	if err != nil {
		return HandleNoConsensusResult{}, err
	}
	event := DeadlockDetectedEvent{
		eventEnvelope: eventEnvelope{
			EventID:       newID(),
			SessionID:     session.SessionID,
			PetitionID:    session.PetitionID,
			SchemaVersion: 1,
			CreatedAt:     now,
		},
		RoundCount:            roundCountBeforeUpdate,
		VotesByRound:          updated.VotesByRound,
		FinalVoteDistribution: copyDistribution(distribution),
		PhaseAtDeadlock:       phaseAtDeadlock,
		ParticipatingArchons:  session.AssignedArchons,
	}
	h.publish(ctx, event)
	if h.logger != nil {
		h.logger.InfoWithContext(ctx, "deliberation_deadlock_detected", map[string]interface{}{
			"session_id":  session.SessionID,
			"round_count": roundCountBeforeUpdate,
		})
	}
	return HandleNoConsensusResult{Session: updated, Deadlock: &event}, nil
}

func (h *DeadlockHandler) publish(ctx context.Context, event Event) {
	if h.sink == nil {
		return
	}
	if err := h.sink.Publish(ctx, event); err != nil && h.logger != nil {
		h.logger.ErrorWithContext(ctx, "deliberation_event_publish_failed", map[string]interface{}{
			"event_type": event.EventType(),
			"error":      err.Error(),
		})
	}
}
