package deliberation

import (
	"context"
	"fmt"
	"time"
)

// TimeoutHandler schedules and cancels the single deliberation-wide
// deadline, and drives a session to ESCALATE when that deadline fires
// (C4). Exactly one of Cancel or Handle completes successfully for any
// scheduled timeout; the job queue is the source of truth for deadline
// firing.
type TimeoutHandler struct {
	scheduler  JobScheduler
	repository SessionRepository
	sink       EventSink
	config     *Config
	logger     Logger
	telemetry  Telemetry
}

// NewTimeoutHandler constructs a TimeoutHandler. sink may be nil, in
// which case Handle publishes no event. repository may be nil only if the
// caller never invokes Handle (the worker path); a nil repository passed
// to Handle is a programming error and panics on first use, matching the
// framework's expectation that handlers are fully wired before serving
// worker traffic.
func NewTimeoutHandler(scheduler JobScheduler, repository SessionRepository, sink EventSink, config *Config) *TimeoutHandler {
	if config == nil {
		config = &Config{TimeoutSeconds: 300, MaxRounds: DefaultMaxRounds, ContextSchemaVersion: ContextPackageSchemaVersion}
	}
	return &TimeoutHandler{
		scheduler:  scheduler,
		repository: repository,
		sink:       sink,
		config:     config,
		logger:     NoOpLogger{},
		telemetry:  NoOpTelemetry{},
	}
}

// SetLogger wires a structured logger.
func (h *TimeoutHandler) SetLogger(logger Logger) { h.logger = logger }

// SetTelemetry wires a telemetry sink.
func (h *TimeoutHandler) SetTelemetry(telemetry Telemetry) { h.telemetry = telemetry }

// Schedule computes fires_at = now + configured duration, submits a
// deliberation_timeout job, and attaches the returned handle to session.
// It is a no-op pass-through of Session.ScheduleTimeout's refusal when the
// session already has a timeout scheduled or is terminal. If
// config.TimeoutSeconds is 0, scheduling is skipped and session is
// returned unchanged (timeouts are disabled).
func (h *TimeoutHandler) Schedule(ctx context.Context, session Session, now time.Time) (Session, error) {
	if !h.config.Enabled() {
		return session, nil
	}
	if err := session.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	if session.HasTimeoutScheduled() {
		return Session{}, fmt.Errorf("deliberation: timeout already scheduled for session %s", session.SessionID)
	}
	ctx, span := h.telemetry.StartSpan(ctx, "deliberation.handler.timeout.schedule")
	defer span.End()

	firesAt := now.Add(time.Duration(h.config.TimeoutSeconds) * time.Second)
	jobID, err := h.scheduler.Schedule(ctx, DeliberationTimeoutJobKind, map[string]interface{}{
		"session_id":      session.SessionID,
		"petition_id":     session.PetitionID,
		"timeout_seconds": h.config.TimeoutSeconds,
	}, firesAt)
	if err != nil {
		span.RecordError(err)
		return Session{}, fmt.Errorf("deliberation: scheduling timeout job: %w", err)
	}

	next, err := session.ScheduleTimeout(jobID, firesAt)
	if err != nil {
		span.RecordError(err)
		return Session{}, err
	}
	if h.logger != nil {
		h.logger.InfoWithContext(ctx, "deliberation_timeout_scheduled", map[string]interface{}{
			"session_id": session.SessionID,
			"job_id":     jobID,
			"fires_at":   firesAt,
		})
	}
	return next, nil
}

// Cancel invokes the job queue's cancel if a handle is attached; on any
// outcome of the cancel (success, not-found, already-fired) the session's
// handle is cleared. Calling Cancel when no handle is attached is a
// no-op.
func (h *TimeoutHandler) Cancel(ctx context.Context, session Session) (Session, error) {
	if !session.HasTimeoutScheduled() {
		return session, nil
	}
	ctx, span := h.telemetry.StartSpan(ctx, "deliberation.handler.timeout.cancel")
	defer span.End()

	if err := h.scheduler.Cancel(ctx, session.TimeoutJobID); err != nil {
		if h.logger != nil {
			h.logger.WarnWithContext(ctx, "deliberation_timeout_cancel_race", map[string]interface{}{
				"session_id": session.SessionID,
				"job_id":     session.TimeoutJobID,
				"error":      err.Error(),
			})
		}
	}
	next, err := session.CancelTimeout()
	if err != nil {
		span.RecordError(err)
		return Session{}, err
	}
	return next, nil
}

// Handle is the worker-path entry point (also reachable directly from C8):
// loads the session, transitions it via ForceTimeout, and emits a
// DeliberationTimeoutExpiredEvent capturing the pre-timeout phase. It
// refuses with SessionNotFoundError / SessionAlreadyCompleteError if
// invariants are violated — the latter is the expected shape of the
// normal-completion-won-the-race case and is treated as success by C8.
func (h *TimeoutHandler) Handle(ctx context.Context, sessionID string, now time.Time) (Session, DeliberationTimeoutExpiredEvent, error) {
	ctx, span := h.telemetry.StartSpan(ctx, "deliberation.handler.timeout.handle")
	defer span.End()

	session, err := h.repository.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return Session{}, DeliberationTimeoutExpiredEvent{}, fmt.Errorf("deliberation: loading session %s: %w", sessionID, err)
	}

	phaseAtTimeout := session.Phase
	updated, err := session.ForceTimeout(now)
	if err != nil {
		span.RecordError(err)
		return Session{}, DeliberationTimeoutExpiredEvent{}, err
	}

	if err := h.repository.CompareAndSwap(ctx, session.Version, updated); err != nil {
		span.RecordError(err)
		return Session{}, DeliberationTimeoutExpiredEvent{}, fmt.Errorf("deliberation: persisting forced timeout for session %s: %w", sessionID, err)
	}

	event := DeliberationTimeoutExpiredEvent{
		eventEnvelope: eventEnvelope{
			EventID:       newID(),
			SessionID:     session.SessionID,
			PetitionID:    session.PetitionID,
			SchemaVersion: 1,
			CreatedAt:     now,
		},
		PhaseAtTimeout:           phaseAtTimeout,
		StartedAt:                session.CreatedAt,
		TimeoutAt:                now,
		ConfiguredTimeoutSeconds: h.config.TimeoutSeconds,
		ParticipatingArchons:     session.AssignedArchons,
	}
	if h.sink != nil {
		if err := h.sink.Publish(ctx, event); err != nil && h.logger != nil {
			h.logger.ErrorWithContext(ctx, "deliberation_timeout_event_publish_failed", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
	if h.logger != nil {
		h.logger.InfoWithContext(ctx, "deliberation_timeout_handled", map[string]interface{}{
			"session_id":       sessionID,
			"phase_at_timeout": string(phaseAtTimeout),
		})
	}
	return updated, event, nil
}
