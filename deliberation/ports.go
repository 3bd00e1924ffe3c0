package deliberation

import (
	"context"
	"time"
)

// PhaseExecutor is the agent-invocation backend port (C3). Implementations
// call out to the actual LLM archons; prompt engineering and model
// selection are explicitly out of scope here — this package only defines
// the four suspension points the orchestrator drives.
type PhaseExecutor interface {
	ExecuteAssess(ctx context.Context, session Session, pkg ContextPackage) (PhaseResult, error)
	ExecutePosition(ctx context.Context, session Session, pkg ContextPackage, prior PhaseResult) (PhaseResult, error)
	ExecuteCrossExamine(ctx context.Context, session Session, pkg ContextPackage, prior PhaseResult) (PhaseResult, error)
	ExecuteVote(ctx context.Context, session Session, pkg ContextPackage, prior PhaseResult) (PhaseResult, error)
}

// JobScheduler is the durable job-queue port (§6.1). At-least-once
// delivery is assumed; the cancellation race with firing is defined to be
// safe (§5) and is arbitrated by Session's force_* refusal on terminal
// state, not by the scheduler.
type JobScheduler interface {
	Schedule(ctx context.Context, kind string, payload map[string]interface{}, runAt time.Time) (jobID string, err error)
	Cancel(ctx context.Context, jobID string) error
}

// DeliberationTimeoutJobKind is the fixed job kind the timeout handler
// schedules and the job dispatcher (C8) recognizes.
const DeliberationTimeoutJobKind = "deliberation_timeout"

// ArchonDescriptor is one entry in the archon pool.
type ArchonDescriptor struct {
	ID ArchonID
}

// ArchonPool is the substitution candidate source (§6.1). No availability
// tracking is required by this spec — selection is purely
// first-not-in-session.
type ArchonPool interface {
	ListAll(ctx context.Context) ([]ArchonDescriptor, error)
}

// TranscriptWitnessStore is the content-addressed append-only transcript
// port (§4.7). The store computes and verifies the transcript hash on
// ingest; the session is updated with the hash only after Append
// acknowledges.
type TranscriptWitnessStore interface {
	Append(ctx context.Context, sessionID string, phase Phase, transcript []byte, participants []ArchonID, metadata map[string]interface{}, startedAt, completedAt time.Time) (PhaseWitnessEvent, error)
}

// EventSink is the optional append-only domain-event receiver each
// handler may publish through.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// SessionRepository is the session persistence port (§5). Implementations
// MUST provide either optimistic concurrency (compare-and-swap on
// Version) or serialized access per session_id; this package always calls
// CompareAndSwap so the choice of enforcement mechanism is the adapter's.
type SessionRepository interface {
	Get(ctx context.Context, sessionID string) (Session, error)
	CompareAndSwap(ctx context.Context, expectedVersion int, next Session) error
}

// PetitionState is the external petition's routing state tag, per §6.1.
type PetitionState string

const (
	PetitionStateDeliberating PetitionState = "DELIBERATING"
	PetitionStateAcknowledged PetitionState = "ACKNOWLEDGED"
	PetitionStateReferred     PetitionState = "REFERRED"
	PetitionStateEscalated    PetitionState = "ESCALATED"
	PetitionStateDeferred     PetitionState = "DEFERRED"
	PetitionStateNoResponse   PetitionState = "NO_RESPONSE"
)

// dispositionToPetitionState is the fixed mapping table §6.1 references.
// Timeout/deadlock/substitution-abort dispositions are always ESCALATE, so
// this table is consulted only with the three Disposition values; the two
// states with no Disposition counterpart (DEFERRED, NO_RESPONSE) are
// reachable only through adapter-specific logic outside this core.
var dispositionToPetitionState = map[Disposition]PetitionState{
	DispositionAcknowledge: PetitionStateAcknowledged,
	DispositionRefer:       PetitionStateReferred,
	DispositionEscalate:    PetitionStateEscalated,
}

// PetitionStateFor maps a resolved Disposition to the petition state the
// petition repository's CAS write should target.
func PetitionStateFor(d Disposition) (PetitionState, bool) {
	s, ok := dispositionToPetitionState[d]
	return s, ok
}

// PetitionRepository is the petition CRUD port (§6.1). It is exercised
// only through the CAS primitive per the Open Question decision recorded
// in DESIGN.md — no plain update_state fallback is exposed at this layer.
type PetitionRepository interface {
	Get(ctx context.Context, petitionID string) (PetitionSnapshot, error)
	AssignFateCAS(ctx context.Context, petitionID string, expectedState, newState PetitionState, escalationSource, escalatedToRealm string) error
}
