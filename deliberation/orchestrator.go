package deliberation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Orchestrator drives a single deliberation start-to-finish (C7): it
// sequences the phase executor (C3) through the failure-handling
// collaborators (C4-C6), updates the session aggregate (C1) between
// phases, records phase transcript hashes, and emits the final
// disposition. Like the framework's AIOrchestrator, every optional
// collaborator defaults to a safe no-op and is wired post-construction via
// Set* methods.
type Orchestrator struct {
	executor     PhaseExecutor
	timeout      *TimeoutHandler
	deadlock     *DeadlockHandler
	substitution *SubstitutionHandler
	witness      TranscriptWitnessStore
	sink         EventSink
	config       *Config

	logger    Logger
	telemetry Telemetry
	now       func() time.Time
}

// NewOrchestrator constructs an Orchestrator. executor and witness are
// required; timeout/deadlock/substitution handlers and sink are optional
// collaborators wired via the Set* methods below. A nil deadlock handler
// means ConsensusNotReachedError always propagates on a 1-1-1 split; a nil
// substitution handler means a PhaseExecutionFailure with an archon
// identifier always propagates instead of being retried.
func NewOrchestrator(executor PhaseExecutor, witness TranscriptWitnessStore, config *Config) *Orchestrator {
	if config == nil {
		config = &Config{TimeoutSeconds: 300, MaxRounds: DefaultMaxRounds, ContextSchemaVersion: ContextPackageSchemaVersion}
	}
	return &Orchestrator{
		executor:  executor,
		witness:   witness,
		config:    config,
		logger:    NoOpLogger{},
		telemetry: NoOpTelemetry{},
		now:       time.Now,
	}
}

// SetTimeoutHandler wires C4.
func (o *Orchestrator) SetTimeoutHandler(h *TimeoutHandler) { o.timeout = h }

// SetDeadlockHandler wires C5.
func (o *Orchestrator) SetDeadlockHandler(h *DeadlockHandler) { o.deadlock = h }

// SetSubstitutionHandler wires C6.
func (o *Orchestrator) SetSubstitutionHandler(h *SubstitutionHandler) { o.substitution = h }

// SetEventSink wires the sink the orchestrator publishes
// DeliberationCompletedEvent and PhaseWitnessEvent through.
func (o *Orchestrator) SetEventSink(sink EventSink) { o.sink = sink }

// SetLogger wires a structured logger.
func (o *Orchestrator) SetLogger(logger Logger) { o.logger = logger }

// SetTelemetry wires a telemetry sink.
func (o *Orchestrator) SetTelemetry(telemetry Telemetry) { o.telemetry = telemetry }

// Orchestrate runs one deliberation to completion or to a partial, aborted
// result. It never returns a silently-swallowed error: every forced
// termination reaches COMPLETE through one of Session's force_* methods
// before Orchestrate returns.
func (o *Orchestrator) Orchestrate(ctx context.Context, session Session, pkg ContextPackage) (Session, DeliberationResult, error) {
	if pkg.PetitionID != session.PetitionID {
		return Session{}, DeliberationResult{}, &PetitionSessionMismatchError{
			PetitionID:        pkg.PetitionID,
			SessionPetitionID: session.PetitionID,
		}
	}

	ctx, span := o.telemetry.StartSpan(ctx, "deliberation.orchestrate")
	defer span.End()

	startedAt := o.now()

	if o.timeout != nil {
		scheduled, err := o.timeout.Schedule(ctx, session, startedAt)
		if err != nil {
			span.RecordError(err)
			return Session{}, DeliberationResult{}, fmt.Errorf("deliberation: scheduling timeout: %w", err)
		}
		session = scheduled
	}

	var results []PhaseResult

	session, assessResult, aborted, err := o.runPhaseWithSubstitution(ctx, session, pkg, PhaseAssess, func(s Session) (PhaseResult, error) {
		return o.executor.ExecuteAssess(ctx, s, pkg)
	})
	if err != nil {
		return Session{}, DeliberationResult{}, err
	}
	if aborted {
		return session, o.buildAbortedResult(session, results, startedAt), nil
	}
	session, err = o.witnessAndAdvance(ctx, session, assessResult, PhasePosition)
	if err != nil {
		return Session{}, DeliberationResult{}, err
	}
	results = append(results, assessResult)

	session, positionResult, aborted, err := o.runPhaseWithSubstitution(ctx, session, pkg, PhasePosition, func(s Session) (PhaseResult, error) {
		return o.executor.ExecutePosition(ctx, s, pkg, assessResult)
	})
	if err != nil {
		return Session{}, DeliberationResult{}, err
	}
	if aborted {
		return session, o.buildAbortedResult(session, results, startedAt), nil
	}
	session, err = o.witnessAndAdvance(ctx, session, positionResult, PhaseCrossExamine)
	if err != nil {
		return Session{}, DeliberationResult{}, err
	}
	results = append(results, positionResult)

	session, results, err = o.crossExamineVoteLoop(ctx, session, pkg, positionResult, results)
	if err != nil {
		return Session{}, DeliberationResult{}, err
	}
	if session.IsAborted {
		return session, o.buildAbortedResult(session, results, startedAt), nil
	}

	if o.timeout != nil {
		cancelled, err := o.timeout.Cancel(ctx, session)
		if err != nil {
			span.RecordError(err)
			return Session{}, DeliberationResult{}, fmt.Errorf("deliberation: cancelling timeout: %w", err)
		}
		session = cancelled
	}

	completedAt := o.now()
	if session.CompletedAt != nil {
		completedAt = *session.CompletedAt
	}
	result := DeliberationResult{
		SessionID:       session.SessionID,
		PetitionID:      session.PetitionID,
		Outcome:         session.Outcome,
		Votes:           session.Votes,
		DissentArchonID: session.DissentArchonID,
		PhaseResults:    results,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
	}

	o.publishCompletion(ctx, session)
	return session, result, nil
}

// crossExamineVoteLoop runs one or more CROSS_EXAMINE/VOTE rounds until
// consensus resolves or the deadlock handler escalates.
func (o *Orchestrator) crossExamineVoteLoop(ctx context.Context, session Session, pkg ContextPackage, previousResult PhaseResult, results []PhaseResult) (Session, []PhaseResult, error) {
	for {
		var crossExamineResult PhaseResult
		var aborted bool
		var err error

		session, crossExamineResult, aborted, err = o.runPhaseWithSubstitution(ctx, session, pkg, PhaseCrossExamine, func(s Session) (PhaseResult, error) {
			return o.executor.ExecuteCrossExamine(ctx, s, pkg, previousResult)
		})
		if err != nil {
			return session, results, err
		}
		if aborted {
			return session, results, nil
		}
		session, err = o.witnessAndAdvance(ctx, session, crossExamineResult, PhaseVote)
		if err != nil {
			return session, results, err
		}
		results = append(results, crossExamineResult)

		var voteResult PhaseResult
		session, voteResult, aborted, err = o.runPhaseWithSubstitution(ctx, session, pkg, PhaseVote, func(s Session) (PhaseResult, error) {
			return o.executor.ExecuteVote(ctx, s, pkg, crossExamineResult)
		})
		if err != nil {
			return session, results, err
		}
		if aborted {
			return session, results, nil
		}
		session, err = o.witnessPhase(ctx, session, voteResult)
		if err != nil {
			return session, results, err
		}
		results = append(results, voteResult)

		votes, ok := voteResult.Votes()
		if !ok {
			return session, results, fmt.Errorf("deliberation: VOTE phase result missing votes metadata")
		}
		session, err = session.RecordVotes(votes)
		if err != nil {
			return session, results, err
		}

		resolved, err := session.ResolveConsensus(o.now())
		if err == nil {
			return resolved, results, nil
		}

		var consensusErr *ConsensusNotReachedError
		if !errors.As(err, &consensusErr) {
			return session, results, err
		}
		if o.deadlock == nil {
			return session, results, err
		}

		distribution := voteDistribution(votes)
		outcome, err := o.deadlock.HandleNoConsensus(ctx, session, distribution, o.config.MaxRounds, o.now())
		if err != nil {
			return session, results, err
		}
		session = outcome.Session
		if outcome.Deadlock != nil {
			return session, results, nil
		}
		// RoundTriggered: loop again, using the just-completed
		// cross-examine result as the next iteration's prior-phase input.
		previousResult = crossExamineResult
	}
}

// runPhaseWithSubstitution is execute_phase_with_substitution from §4.8:
// two attempts maximum (the original call and one post-substitution
// retry). aborted reports that the session is now terminal via the
// substitution handler's abort path and the caller should stop
// orchestrating.
func (o *Orchestrator) runPhaseWithSubstitution(ctx context.Context, session Session, pkg ContextPackage, phase Phase, execute func(Session) (PhaseResult, error)) (Session, PhaseResult, bool, error) {
	const maxAttempts = 2
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := execute(session)
		if err == nil {
			return session, result, false, nil
		}

		var execErr *PhaseExecutionError
		if !errors.As(err, &execErr) || !execErr.HasArchon() {
			return session, PhaseResult{}, false, err
		}

		updated, aborted, handleErr := o.handleArchonFailure(ctx, session, execErr)
		if handleErr != nil {
			return session, PhaseResult{}, false, handleErr
		}
		session = updated
		if aborted {
			return session, PhaseResult{}, true, nil
		}
		if attempt == maxAttempts {
			return session, PhaseResult{}, false, execErr
		}
	}
	return session, PhaseResult{}, false, fmt.Errorf("deliberation: unreachable retry exhaustion for phase %s", phase)
}

// handleArchonFailure consults the substitution handler. When aborted is
// false and err is nil, the caller re-attempts the phase with the
// returned (substituted) session; when aborted is true, the returned
// session is the aborted one.
func (o *Orchestrator) handleArchonFailure(ctx context.Context, session Session, execErr *PhaseExecutionError) (updated Session, aborted bool, err error) {
	if o.substitution == nil {
		return Session{}, false, execErr
	}
	reason := ClassifyFailureReason(execErr.Reason)
	result, err := o.substitution.Execute(ctx, session, execErr.ArchonID, reason)
	if err != nil {
		return Session{}, false, err
	}
	if !result.Success {
		return result.Session, true, nil
	}
	return result.Session, false, nil
}

// witnessAndAdvance witnesses a completed phase and advances to next.
func (o *Orchestrator) witnessAndAdvance(ctx context.Context, session Session, result PhaseResult, next Phase) (Session, error) {
	session, err := o.witnessPhase(ctx, session, result)
	if err != nil {
		return Session{}, err
	}
	return session.AdvancePhase(next)
}

// witnessPhase appends the transcript to the witness store and records
// the store-computed hash on the session — the session is never updated
// with the executor's self-reported hash directly (§4.7).
func (o *Orchestrator) witnessPhase(ctx context.Context, session Session, result PhaseResult) (Session, error) {
	event, err := o.witness.Append(ctx, session.SessionID, result.Phase, []byte(result.Transcript), result.Participants, result.PhaseMetadata, result.StartedAt, result.CompletedAt)
	if err != nil {
		return Session{}, fmt.Errorf("deliberation: witnessing phase %s: %w", result.Phase, err)
	}
	if o.sink != nil {
		if pubErr := o.sink.Publish(ctx, event); pubErr != nil && o.logger != nil {
			o.logger.ErrorWithContext(ctx, "deliberation_event_publish_failed", map[string]interface{}{
				"event_type": event.EventType(),
				"error":      pubErr.Error(),
			})
		}
	}
	return session.RecordTranscript(result.Phase, event.TranscriptHash)
}

func (o *Orchestrator) buildAbortedResult(session Session, results []PhaseResult, startedAt time.Time) DeliberationResult {
	completedAt := o.now()
	if session.CompletedAt != nil {
		completedAt = *session.CompletedAt
	}
	return DeliberationResult{
		SessionID:       session.SessionID,
		PetitionID:      session.PetitionID,
		Outcome:         session.Outcome,
		Votes:           session.Votes,
		DissentArchonID: session.DissentArchonID,
		PhaseResults:    results,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		IsAborted:       true,
		AbortReason:     session.AbortReason,
	}
}

func (o *Orchestrator) publishCompletion(ctx context.Context, session Session) {
	if o.sink == nil || session.Outcome == nil {
		return
	}
	if session.TimedOut || session.IsDeadlocked || session.IsAborted {
		return // those paths already published their own terminal event
	}
	event := DeliberationCompletedEvent{
		eventEnvelope: eventEnvelope{
			EventID:       newID(),
			SessionID:     session.SessionID,
			PetitionID:    session.PetitionID,
			SchemaVersion: 1,
			CreatedAt:     o.now(),
		},
		Outcome:          *session.Outcome,
		VoteDistribution: voteDistribution(session.Votes),
		DissentArchonID:  session.DissentArchonID,
	}
	if err := o.sink.Publish(ctx, event); err != nil && o.logger != nil {
		o.logger.ErrorWithContext(ctx, "deliberation_event_publish_failed", map[string]interface{}{
			"event_type": event.EventType(),
			"error":      err.Error(),
		})
	}
}
