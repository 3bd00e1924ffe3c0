package deliberation

import (
	"encoding/hex"
	"time"
)

// Event is implemented by every domain event. Each carries the fields
// common to all events in §6.2 plus its own key fields, and renders itself
// explicitly via ToMap rather than relying on reflection-based
// marshaling — the same choice the source system makes by hand-writing
// to_dict() instead of using its language's generic object-to-dict
// conversion, so that enums, byte hashes, and durations always serialize
// the same way regardless of how a downstream sink encodes the result.
type Event interface {
	EventType() string
	ToMap() map[string]interface{}
}

type eventEnvelope struct {
	EventID       string
	SessionID     string
	PetitionID    string
	SchemaVersion int
	CreatedAt     time.Time
}

func (e eventEnvelope) baseMap() map[string]interface{} {
	return map[string]interface{}{
		"event_id":       e.EventID,
		"session_id":     e.SessionID,
		"petition_id":    e.PetitionID,
		"schema_version": e.SchemaVersion,
		"created_at":     e.CreatedAt.Format(time.RFC3339Nano),
	}
}

// PhaseWitnessEvent is emitted on every completed phase.
type PhaseWitnessEvent struct {
	eventEnvelope
	Phase          Phase
	TranscriptHash [32]byte
	StartedAt      time.Time
	CompletedAt    time.Time
	Participants   []ArchonID
	Metadata       map[string]interface{}
}

func (e PhaseWitnessEvent) EventType() string { return "deliberation.phase.witnessed" }

func (e PhaseWitnessEvent) ToMap() map[string]interface{} {
	m := e.baseMap()
	m["phase"] = string(e.Phase)
	m["transcript_hash"] = hashHex(e.TranscriptHash)
	m["started_at"] = e.StartedAt.Format(time.RFC3339Nano)
	m["completed_at"] = e.CompletedAt.Format(time.RFC3339Nano)
	m["participants"] = archonIDsToStrings(e.Participants)
	m["metadata"] = e.Metadata
	return m
}

// CrossExamineRoundTriggeredEvent is emitted when the deadlock handler
// re-enters CROSS_EXAMINE with an incremented round.
type CrossExamineRoundTriggeredEvent struct {
	eventEnvelope
	RoundNumber              int
	PreviousVoteDistribution map[Disposition]int
	ParticipatingArchons     [RequiredArchonCount]ArchonID
}

func (e CrossExamineRoundTriggeredEvent) EventType() string {
	return "deliberation.cross_examine.round_triggered"
}

func (e CrossExamineRoundTriggeredEvent) ToMap() map[string]interface{} {
	m := e.baseMap()
	m["round_number"] = e.RoundNumber
	m["previous_vote_distribution"] = distributionToMap(e.PreviousVoteDistribution)
	m["participating_archons"] = archonArrayToStrings(e.ParticipatingArchons)
	return m
}

// DeadlockDetectedEvent is emitted when the round ceiling is hit on a
// 1-1-1 split.
type DeadlockDetectedEvent struct {
	eventEnvelope
	RoundCount           int
	VotesByRound         []map[Disposition]int
	FinalVoteDistribution map[Disposition]int
	PhaseAtDeadlock       Phase
	ParticipatingArchons  [RequiredArchonCount]ArchonID
}

func (e DeadlockDetectedEvent) EventType() string { return "deliberation.deadlock.detected" }

func (e DeadlockDetectedEvent) ToMap() map[string]interface{} {
	m := e.baseMap()
	m["round_count"] = e.RoundCount
	rounds := make([]map[string]int, len(e.VotesByRound))
	for i, d := range e.VotesByRound {
		rounds[i] = distributionToMap(d)
	}
	m["votes_by_round"] = rounds
	m["final_vote_distribution"] = distributionToMap(e.FinalVoteDistribution)
	m["phase_at_deadlock"] = string(e.PhaseAtDeadlock)
	m["participating_archons"] = archonArrayToStrings(e.ParticipatingArchons)
	return m
}

// DeliberationTimeoutExpiredEvent is emitted when the configured deadline
// fires. Schema version is fixed at 1 per spec §6.2.
type DeliberationTimeoutExpiredEvent struct {
	eventEnvelope
	PhaseAtTimeout         Phase
	StartedAt              time.Time
	TimeoutAt              time.Time
	ConfiguredTimeoutSeconds int
	ParticipatingArchons     [RequiredArchonCount]ArchonID
}

func (e DeliberationTimeoutExpiredEvent) EventType() string {
	return "deliberation.timeout.expired"
}

func (e DeliberationTimeoutExpiredEvent) ElapsedSeconds() float64 {
	return e.TimeoutAt.Sub(e.StartedAt).Seconds()
}

func (e DeliberationTimeoutExpiredEvent) WasPhaseInProgress() bool {
	return !e.PhaseAtTimeout.IsTerminal()
}

func (e DeliberationTimeoutExpiredEvent) ToMap() map[string]interface{} {
	m := e.baseMap()
	m["phase_at_timeout"] = string(e.PhaseAtTimeout)
	m["started_at"] = e.StartedAt.Format(time.RFC3339Nano)
	m["timeout_at"] = e.TimeoutAt.Format(time.RFC3339Nano)
	m["configured_timeout_seconds"] = e.ConfiguredTimeoutSeconds
	m["participating_archons"] = archonArrayToStrings(e.ParticipatingArchons)
	return m
}

// ArchonSubstitutedEvent is emitted on a successful substitution.
type ArchonSubstitutedEvent struct {
	eventEnvelope
	FailedArchonID          ArchonID
	SubstituteArchonID      ArchonID
	PhaseAtFailure          Phase
	FailureReason           string
	SubstitutionLatencyMS   int64
	TranscriptPagesProvided int
}

func (e ArchonSubstitutedEvent) EventType() string { return "deliberation.archon.substituted" }

func (e ArchonSubstitutedEvent) MetSLA() bool {
	return e.SubstitutionLatencyMS <= MaxSubstitutionLatencyMS
}

func (e ArchonSubstitutedEvent) ToMap() map[string]interface{} {
	m := e.baseMap()
	m["failed_archon_id"] = string(e.FailedArchonID)
	m["substitute_archon_id"] = string(e.SubstituteArchonID)
	m["phase_at_failure"] = string(e.PhaseAtFailure)
	m["failure_reason"] = e.FailureReason
	m["substitution_latency_ms"] = e.SubstitutionLatencyMS
	m["met_sla"] = e.MetSLA()
	m["transcript_pages_provided"] = e.TranscriptPagesProvided
	return m
}

// FailedArchon describes one archon whose failure contributed to an abort.
type FailedArchon struct {
	ArchonID      ArchonID
	FailureReason string
	Phase         Phase
}

// DeliberationAbortedEvent is emitted when substitution is no longer
// possible and the deliberation is force-aborted.
type DeliberationAbortedEvent struct {
	eventEnvelope
	Reason             string
	FailedArchons      []FailedArchon
	PhaseAtAbort       Phase
	SurvivingArchonID  *ArchonID
}

func (e DeliberationAbortedEvent) EventType() string { return "deliberation.aborted" }

func (e DeliberationAbortedEvent) ToMap() map[string]interface{} {
	m := e.baseMap()
	m["reason"] = e.Reason
	failed := make([]map[string]string, len(e.FailedArchons))
	for i, f := range e.FailedArchons {
		failed[i] = map[string]string{
			"archon_id":      string(f.ArchonID),
			"failure_reason": f.FailureReason,
			"phase":          string(f.Phase),
		}
	}
	m["failed_archons"] = failed
	m["phase_at_abort"] = string(e.PhaseAtAbort)
	if e.SurvivingArchonID != nil {
		m["surviving_archon_id"] = string(*e.SurvivingArchonID)
	} else {
		m["surviving_archon_id"] = nil
	}
	return m
}

// DeliberationCompletedEvent is emitted on normal (non-forced) completion.
type DeliberationCompletedEvent struct {
	eventEnvelope
	Outcome         Disposition
	VoteDistribution map[Disposition]int
	DissentArchonID *ArchonID
}

func (e DeliberationCompletedEvent) EventType() string { return "deliberation.completed" }

func (e DeliberationCompletedEvent) ToMap() map[string]interface{} {
	m := e.baseMap()
	m["outcome"] = string(e.Outcome)
	m["vote_distribution"] = distributionToMap(e.VoteDistribution)
	if e.DissentArchonID != nil {
		m["dissent_archon_id"] = string(*e.DissentArchonID)
	} else {
		m["dissent_archon_id"] = nil
	}
	return m
}

func distributionToMap(d map[Disposition]int) map[string]int {
	out := make(map[string]int, len(d))
	for k, v := range d {
		out[string(k)] = v
	}
	return out
}

func archonIDsToStrings(ids []ArchonID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func archonArrayToStrings(ids [RequiredArchonCount]ArchonID) []string {
	return archonIDsToStrings(ids[:])
}

func hashHex(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}
