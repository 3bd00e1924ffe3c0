package deliberation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per named failure kind in the error taxonomy.
// Every typed error below unwraps to exactly one of these so callers can
// use errors.Is against a stable value even when they don't care about the
// typed details, mirroring the framework's FrameworkError/sentinel split.
var (
	ErrInvalidPhaseTransition  = errors.New("invalid phase transition")
	ErrConsensusNotReached     = errors.New("consensus not reached")
	ErrSessionAlreadyComplete  = errors.New("session already complete")
	ErrSessionNotFound         = errors.New("session not found")
	ErrInvalidArchonAssignment = errors.New("invalid archon assignment")
	ErrPetitionSessionMismatch = errors.New("petition session mismatch")
	ErrPhaseExecutionFailure   = errors.New("phase execution failure")
	ErrDeliberationPending     = errors.New("deliberation pending")
)

// InvalidPhaseTransitionError is always a programming error in the
// orchestrator: it means a caller asked for a phase move other than the
// single legal successor.
type InvalidPhaseTransitionError struct {
	From, To, Expected Phase
}

func (e *InvalidPhaseTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition: from %s to %s (expected %s)", e.From, e.To, e.Expected)
}

func (e *InvalidPhaseTransitionError) Unwrap() error { return ErrInvalidPhaseTransition }

// ConsensusNotReachedError is raised by Session.ResolveConsensus when no
// disposition received the supermajority. It is recovered by the deadlock
// handler and propagated only when no handler is configured.
type ConsensusNotReachedError struct {
	VotesReceived  int
	VotesRequired  int
	Distribution   map[Disposition]int
}

func (e *ConsensusNotReachedError) Error() string {
	return fmt.Sprintf("consensus not reached: %d/%d votes, distribution %v", e.VotesReceived, e.VotesRequired, e.Distribution)
}

func (e *ConsensusNotReachedError) Unwrap() error { return ErrConsensusNotReached }

// SessionAlreadyCompleteError is expected on the loser of the normal
// completion / timeout race; the worker path converts this into success.
type SessionAlreadyCompleteError struct {
	SessionID string
}

func (e *SessionAlreadyCompleteError) Error() string {
	return fmt.Sprintf("session %s already complete", e.SessionID)
}

func (e *SessionAlreadyCompleteError) Unwrap() error { return ErrSessionAlreadyComplete }

// SessionNotFoundError is fatal in the worker path.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

func (e *SessionNotFoundError) Unwrap() error { return ErrSessionNotFound }

// InvalidArchonAssignmentError is a programming error: wrong panel size or
// duplicate archon identifiers.
type InvalidArchonAssignmentError struct {
	Message     string
	ArchonCount int
}

func (e *InvalidArchonAssignmentError) Error() string {
	return fmt.Sprintf("invalid archon assignment (count=%d): %s", e.ArchonCount, e.Message)
}

func (e *InvalidArchonAssignmentError) Unwrap() error { return ErrInvalidArchonAssignment }

// PetitionSessionMismatchError is a programming error: a context package
// and a session were crossed.
type PetitionSessionMismatchError struct {
	PetitionID        string
	SessionPetitionID string
}

func (e *PetitionSessionMismatchError) Error() string {
	return fmt.Sprintf("petition %s does not match session's petition %s", e.PetitionID, e.SessionPetitionID)
}

func (e *PetitionSessionMismatchError) Unwrap() error { return ErrPetitionSessionMismatch }

// PhaseExecutionError carries the free-form reason a phase executor
// reported along with the optional archon identifier. When ArchonID is
// non-empty, the failure is a candidate for substitution handling.
type PhaseExecutionError struct {
	Phase    Phase
	Reason   string
	ArchonID ArchonID
}

func (e *PhaseExecutionError) Error() string {
	if e.ArchonID != "" {
		return fmt.Sprintf("phase %s execution failed (archon %s): %s", e.Phase, e.ArchonID, e.Reason)
	}
	return fmt.Sprintf("phase %s execution failed: %s", e.Phase, e.Reason)
}

func (e *PhaseExecutionError) Unwrap() error { return ErrPhaseExecutionFailure }

// HasArchon reports whether the failure is attributable to a single agent
// and therefore a candidate for substitution.
func (e *PhaseExecutionError) HasArchon() bool { return e.ArchonID != "" }

// ClassifyFailureReason maps a phase executor's free-form reason string
// into the fixed set of failure-reason codes the substitution handler
// understands (§4.3).
func ClassifyFailureReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return FailureResponseTimeout
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "parse"):
		return FailureInvalidResponse
	default:
		return FailureAPIError
	}
}

// DeliberationPendingError is surfaced to upstream observers requesting a
// summary of a deliberation that has not yet reached COMPLETE.
type DeliberationPendingError struct {
	SessionID string
}

func (e *DeliberationPendingError) Error() string {
	return fmt.Sprintf("deliberation %s is still pending", e.SessionID)
}

func (e *DeliberationPendingError) Unwrap() error { return ErrDeliberationPending }

// IsRecoverable reports whether err is one of the two kinds the
// orchestrator can consume internally: consensus failure (when a deadlock
// handler is configured) and phase execution failure (when it names an
// archon and a substitution handler is configured). It checks only the
// error kind, not the archon identifier or the handler wiring.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrConsensusNotReached) || errors.Is(err, ErrPhaseExecutionFailure)
}

// IsTerminal reports whether err reflects an attempted transition on an
// already-complete session.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrSessionAlreadyComplete)
}

// IsProgrammingError reports whether err can only arise from a caller bug
// (bad phase sequencing, malformed archon assignment, crossed identifiers).
func IsProgrammingError(err error) bool {
	return errors.Is(err, ErrInvalidPhaseTransition) ||
		errors.Is(err, ErrInvalidArchonAssignment) ||
		errors.Is(err, ErrPetitionSessionMismatch)
}
