package deliberation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutJob is the payload shape the job dispatcher expects to receive
// for a deliberation_timeout job.
type TimeoutJob struct {
	ID      string
	Kind    string
	Payload map[string]interface{}
}

// JobDispatcher is the job-queue-facing adapter (C8): it parses the
// session_id out of a fired job's payload and delegates to the timeout
// handler. A missing or malformed session_id is a permanent failure
// distinguishable from a transient queue error, so the caller's retry/DLQ
// policy does not keep re-delivering something that can never succeed.
// Under the assumed at-least-once delivery, a session that already
// completed normally (the common race with the timeout firing late) is
// treated as a successful no-op rather than an error.
type JobDispatcher struct {
	timeout *TimeoutHandler
	logger  Logger
}

// NewJobDispatcher constructs a JobDispatcher around an already-wired
// TimeoutHandler.
func NewJobDispatcher(timeout *TimeoutHandler) *JobDispatcher {
	return &JobDispatcher{timeout: timeout, logger: NoOpLogger{}}
}

// SetLogger wires a structured logger.
func (d *JobDispatcher) SetLogger(logger Logger) { d.logger = logger }

// ErrMalformedJobPayload is returned (wrapped with context) when a job's
// session_id is missing or not a string — a permanent failure, not a
// transient one.
var ErrMalformedJobPayload = errors.New("deliberation: job payload missing or invalid session_id")

// Dispatch executes one deliberation_timeout job. It returns a nil error
// both on a genuine timeout enforcement and on the expected
// already-complete race, since both are "handled" from the queue's
// perspective; only ErrMalformedJobPayload and errors bubbling up from
// persistence are real failures warranting retry/DLQ.
func (d *JobDispatcher) Dispatch(ctx context.Context, job TimeoutJob, now time.Time) error {
	if job.Kind != "" && job.Kind != DeliberationTimeoutJobKind {
		return fmt.Errorf("deliberation: job dispatcher received unrecognized kind %q", job.Kind)
	}

	raw, ok := job.Payload["session_id"]
	if !ok {
		d.logger.ErrorWithContext(ctx, "deliberation_timeout_handler_missing_session_id", map[string]interface{}{
			"job_id": job.ID,
		})
		return fmt.Errorf("%w: job %s", ErrMalformedJobPayload, job.ID)
	}
	sessionID, ok := raw.(string)
	if !ok || sessionID == "" {
		d.logger.ErrorWithContext(ctx, "deliberation_timeout_handler_invalid_session_id", map[string]interface{}{
			"job_id":     job.ID,
			"session_id": raw,
		})
		return fmt.Errorf("%w: job %s", ErrMalformedJobPayload, job.ID)
	}

	d.logger.InfoWithContext(ctx, "deliberation_timeout_handler_executing", map[string]interface{}{
		"job_id":     job.ID,
		"session_id": sessionID,
	})

	session, event, err := d.timeout.Handle(ctx, sessionID, now)
	if err != nil {
		var alreadyComplete *SessionAlreadyCompleteError
		if errors.As(err, &alreadyComplete) {
			d.logger.InfoWithContext(ctx, "deliberation_timeout_handler_race_lost_to_completion", map[string]interface{}{
				"job_id":     job.ID,
				"session_id": sessionID,
			})
			return nil
		}
		var notFound *SessionNotFoundError
		if errors.As(err, &notFound) {
			d.logger.ErrorWithContext(ctx, "deliberation_timeout_handler_session_not_found", map[string]interface{}{
				"job_id":     job.ID,
				"session_id": sessionID,
			})
			return err
		}
		d.logger.ErrorWithContext(ctx, "deliberation_timeout_handler_failed", map[string]interface{}{
			"job_id":     job.ID,
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return err
	}

	d.logger.InfoWithContext(ctx, "deliberation_timeout_handler_completed", map[string]interface{}{
		"job_id":           job.ID,
		"session_id":        sessionID,
		"session_timed_out": session.TimedOut,
		"phase_at_timeout":  string(event.PhaseAtTimeout),
		"elapsed_seconds":   event.ElapsedSeconds(),
	})
	return nil
}
