package deliberation

import (
	"fmt"
	"time"
)

// Substitution is an immutable record of one archon replacement.
type Substitution struct {
	FailedArchonID     ArchonID
	SubstituteArchonID ArchonID
	PhaseAtFailure     Phase
	FailureReason      string
	SubstitutedAt      time.Time
}

// Session is the immutable aggregate root for one deliberation. Every
// transition method returns a brand-new Session value with Version
// incremented by one; the receiver is never mutated. Session is the Go
// counterpart of the source system's frozen DeliberationSession dataclass:
// where the original raises an exception from a `with_*` method, the Go
// methods here return a non-nil error and the zero Session value.
type Session struct {
	SessionID       string
	PetitionID      string
	AssignedArchons [RequiredArchonCount]ArchonID

	Phase            Phase
	PhaseTranscripts map[Phase][32]byte
	Votes            map[ArchonID]Disposition
	Outcome          *Disposition
	DissentArchonID  *ArchonID

	RoundCount   int
	VotesByRound []map[Disposition]int
	IsDeadlocked bool
	DeadlockReason string

	TimedOut     bool
	TimeoutJobID string
	TimeoutAt    *time.Time

	Substitutions []Substitution
	IsAborted     bool
	AbortReason   string

	Version     int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// NewSession constructs the initial session value: phase ASSESS, no
// transcripts, no votes, round_count 1, version 1. It enforces invariant 1
// (exactly three distinct archons).
func NewSession(sessionID, petitionID string, archons [RequiredArchonCount]ArchonID, createdAt time.Time) (Session, error) {
	if err := validateArchons(archons); err != nil {
		return Session{}, err
	}
	return Session{
		SessionID:        sessionID,
		PetitionID:       petitionID,
		AssignedArchons:  archons,
		Phase:            PhaseAssess,
		PhaseTranscripts: map[Phase][32]byte{},
		Votes:            map[ArchonID]Disposition{},
		RoundCount:       1,
		VotesByRound:     nil,
		Substitutions:    nil,
		Version:          1,
		CreatedAt:        createdAt,
	}, nil
}

func validateArchons(archons [RequiredArchonCount]ArchonID) error {
	seen := make(map[ArchonID]struct{}, RequiredArchonCount)
	for _, a := range archons {
		if a == "" {
			return &InvalidArchonAssignmentError{Message: "archon identifiers must be non-empty", ArchonCount: RequiredArchonCount}
		}
		if _, dup := seen[a]; dup {
			return &InvalidArchonAssignmentError{Message: "archon identifiers must be pairwise distinct", ArchonCount: RequiredArchonCount}
		}
		seen[a] = struct{}{}
	}
	return nil
}

// clone deep-copies every mutable field of s so transition methods can
// build the new value without aliasing maps or slices back into the
// receiver. Every field is copied unconditionally — the Go counterpart of
// the source system's with_timeout_cancelled bug (which silently dropped
// is_aborted/abort_reason/substitutions when reconstructing the session)
// cannot occur here because clone always starts from a full copy.
func (s Session) clone() Session {
	next := s
	next.PhaseTranscripts = make(map[Phase][32]byte, len(s.PhaseTranscripts))
	for k, v := range s.PhaseTranscripts {
		next.PhaseTranscripts[k] = v
	}
	next.Votes = make(map[ArchonID]Disposition, len(s.Votes))
	for k, v := range s.Votes {
		next.Votes[k] = v
	}
	if s.VotesByRound != nil {
		next.VotesByRound = make([]map[Disposition]int, len(s.VotesByRound))
		copy(next.VotesByRound, s.VotesByRound)
	}
	if s.Substitutions != nil {
		next.Substitutions = make([]Substitution, len(s.Substitutions))
		copy(next.Substitutions, s.Substitutions)
	}
	if s.Outcome != nil {
		o := *s.Outcome
		next.Outcome = &o
	}
	if s.DissentArchonID != nil {
		d := *s.DissentArchonID
		next.DissentArchonID = &d
	}
	if s.TimeoutAt != nil {
		t := *s.TimeoutAt
		next.TimeoutAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		next.CompletedAt = &t
	}
	next.Version = s.Version + 1
	return next
}

func (s Session) refuseIfTerminal() error {
	if s.Phase.IsTerminal() {
		return &SessionAlreadyCompleteError{SessionID: s.SessionID}
	}
	return nil
}

// CurrentActiveArchons is AssignedArchons with every failed archon replaced
// by its corresponding substitute, per the at-most-one-substitution cap.
func (s Session) CurrentActiveArchons() [RequiredArchonCount]ArchonID {
	active := s.AssignedArchons
	for _, sub := range s.Substitutions {
		for i, a := range active {
			if a == sub.FailedArchonID {
				active[i] = sub.SubstituteArchonID
			}
		}
	}
	return active
}

// IsArchonAssigned reports whether id is part of the original assigned
// panel (not the substituted-for panel; use CurrentActiveArchons for that).
func (s Session) IsArchonAssigned(id ArchonID) bool {
	for _, a := range s.AssignedArchons {
		if a == id {
			return true
		}
	}
	return false
}

// GetArchonVote returns the vote id cast, if any.
func (s Session) GetArchonVote(id ArchonID) (Disposition, bool) {
	v, ok := s.Votes[id]
	return v, ok
}

// HasTranscript reports whether phase p already has a recorded hash.
func (s Session) HasTranscript(phase Phase) bool {
	_, ok := s.PhaseTranscripts[phase]
	return ok
}

// HasTimeoutScheduled reports whether a timeout job handle is attached.
func (s Session) HasTimeoutScheduled() bool {
	return s.TimeoutJobID != ""
}

// CanRetryCrossExamine reports whether another cross-examine/vote round is
// permitted under maxRounds.
func (s Session) CanRetryCrossExamine(maxRounds int) bool {
	return s.RoundCount < maxRounds
}

// AdvancePhase permits only the single legal successor of s.Phase.
func (s Session) AdvancePhase(next Phase) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	expected, ok := s.Phase.Next()
	if !ok || next != expected {
		return Session{}, &InvalidPhaseTransitionError{From: s.Phase, To: next, Expected: expected}
	}
	out := s.clone()
	out.Phase = next
	return out, nil
}

// RecordTranscript attaches the 32-byte transcript hash for phase.
func (s Session) RecordTranscript(phase Phase, hash [32]byte) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	out := s.clone()
	out.PhaseTranscripts[phase] = hash
	return out, nil
}

// RecordVotes requires exactly three votes, every voter drawn from the
// current active panel (accounting for substitutions).
func (s Session) RecordVotes(votes map[ArchonID]Disposition) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	if len(votes) != RequiredArchonCount {
		return Session{}, &InvalidArchonAssignmentError{Message: "votes must contain exactly three entries", ArchonCount: len(votes)}
	}
	active := s.CurrentActiveArchons()
	for archonID, disposition := range votes {
		if !containsArchon(active, archonID) {
			return Session{}, &InvalidArchonAssignmentError{Message: fmt.Sprintf("vote from unassigned archon %s", archonID), ArchonCount: len(votes)}
		}
		if !disposition.valid() {
			return Session{}, &InvalidArchonAssignmentError{Message: fmt.Sprintf("unrecognized disposition %q", disposition)}
		}
	}
	out := s.clone()
	out.Votes = make(map[ArchonID]Disposition, len(votes))
	for k, v := range votes {
		out.Votes[k] = v
	}
	return out, nil
}

func containsArchon(set [RequiredArchonCount]ArchonID, id ArchonID) bool {
	for _, a := range set {
		if a == id {
			return true
		}
	}
	return false
}

// voteDistribution tallies s.Votes by disposition.
func voteDistribution(votes map[ArchonID]Disposition) map[Disposition]int {
	dist := make(map[Disposition]int, 3)
	for _, d := range votes {
		dist[d]++
	}
	return dist
}

// ResolveConsensus requires three votes present; finds the disposition
// with at least ConsensusThreshold votes, sets Outcome, identifies the
// single dissenter if the split is 2-1, and transitions to COMPLETE. It
// fails with *ConsensusNotReachedError on a 1-1-1 split (or any split
// without a qualifying disposition).
func (s Session) ResolveConsensus(completedAt time.Time) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	if len(s.Votes) != RequiredArchonCount {
		return Session{}, &ConsensusNotReachedError{VotesReceived: len(s.Votes), VotesRequired: RequiredArchonCount}
	}
	dist := voteDistribution(s.Votes)

	var winner Disposition
	found := false
	for d, count := range dist {
		if count >= ConsensusThreshold {
			winner = d
			found = true
			break
		}
	}
	if !found {
		return Session{}, &ConsensusNotReachedError{
			VotesReceived: len(s.Votes),
			VotesRequired: RequiredArchonCount,
			Distribution:  dist,
		}
	}

	out := s.clone()
	out.Outcome = &winner
	out.Phase = PhaseComplete
	at := completedAt
	out.CompletedAt = &at
	if dist[winner] == 2 {
		for archonID, d := range s.Votes {
			if d != winner {
				dissenter := archonID
				out.DissentArchonID = &dissenter
				break
			}
		}
	}
	return out, nil
}

// BeginNewRound appends prevDistribution to VotesByRound, increments
// RoundCount, clears Votes, and moves phase back to CROSS_EXAMINE. This is
// the one sanctioned non-adjacent phase move (VOTE -> CROSS_EXAMINE) and
// is reachable only through the deadlock handler.
func (s Session) BeginNewRound(prevDistribution map[Disposition]int) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	out := s.clone()
	out.VotesByRound = append(out.VotesByRound, copyDistribution(prevDistribution))
	out.RoundCount = s.RoundCount + 1
	out.Votes = map[ArchonID]Disposition{}
	out.Phase = PhaseCrossExamine
	return out, nil
}

// ForceDeadlock appends finalDistribution, escalates, and marks the
// session deadlocked and terminal.
func (s Session) ForceDeadlock(finalDistribution map[Disposition]int, completedAt time.Time) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	out := s.clone()
	out.VotesByRound = append(out.VotesByRound, copyDistribution(finalDistribution))
	escalate := DispositionEscalate
	out.Outcome = &escalate
	out.IsDeadlocked = true
	out.DeadlockReason = DeadlockReasonMaxRoundsExceeded
	out.Phase = PhaseComplete
	at := completedAt
	out.CompletedAt = &at
	return out, nil
}

func copyDistribution(d map[Disposition]int) map[Disposition]int {
	out := make(map[Disposition]int, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ScheduleTimeout attaches a job handle. It refuses if one is already
// scheduled or the session is terminal; firesAt must carry an explicit UTC
// offset (callers are expected to pass time.Time values with a location).
func (s Session) ScheduleTimeout(jobID string, firesAt time.Time) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	if s.HasTimeoutScheduled() {
		return Session{}, fmt.Errorf("deliberation: timeout already scheduled for session %s", s.SessionID)
	}
	out := s.clone()
	out.TimeoutJobID = jobID
	at := firesAt
	out.TimeoutAt = &at
	return out, nil
}

// CancelTimeout clears the handle. It is a no-op (returns s unchanged,
// same version) if no handle is attached, and safe to call after the
// handle has already fired.
func (s Session) CancelTimeout() (Session, error) {
	if !s.HasTimeoutScheduled() {
		return s, nil
	}
	out := s.clone()
	out.TimeoutJobID = ""
	out.TimeoutAt = nil
	return out, nil
}

// ForceTimeout drives the session to ESCALATE because the configured
// deadline fired before the deliberation completed.
func (s Session) ForceTimeout(completedAt time.Time) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	out := s.clone()
	out.TimedOut = true
	escalate := DispositionEscalate
	out.Outcome = &escalate
	out.DissentArchonID = nil
	out.Phase = PhaseComplete
	at := completedAt
	out.CompletedAt = &at
	return out, nil
}

// ApplySubstitution records a single archon replacement. It refuses once
// the substitution cap is reached, if failedID is not part of the current
// active panel, or if failedID equals substituteID.
func (s Session) ApplySubstitution(failedID, substituteID ArchonID, reason string, at time.Time) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	if len(s.Substitutions) >= MaxSubstitutionsPerSession {
		return Session{}, fmt.Errorf("deliberation: substitution cap (%d) already reached for session %s", MaxSubstitutionsPerSession, s.SessionID)
	}
	if !containsArchon(s.CurrentActiveArchons(), failedID) {
		return Session{}, &InvalidArchonAssignmentError{Message: fmt.Sprintf("archon %s is not currently active", failedID)}
	}
	if failedID == substituteID {
		return Session{}, &InvalidArchonAssignmentError{Message: "failed and substitute archon must differ"}
	}
	out := s.clone()
	out.Substitutions = append(out.Substitutions, Substitution{
		FailedArchonID:     failedID,
		SubstituteArchonID: substituteID,
		PhaseAtFailure:     s.Phase,
		FailureReason:      reason,
		SubstitutedAt:      at,
	})
	return out, nil
}

// ForceAbort terminates the deliberation because it can no longer
// continue with a full panel. reason must be AbortInsufficientArchons or
// AbortArchonPoolExhausted.
func (s Session) ForceAbort(reason string, completedAt time.Time) (Session, error) {
	if err := s.refuseIfTerminal(); err != nil {
		return Session{}, err
	}
	if reason != AbortInsufficientArchons && reason != AbortArchonPoolExhausted {
		return Session{}, fmt.Errorf("deliberation: invalid abort reason %q", reason)
	}
	out := s.clone()
	out.IsAborted = true
	out.AbortReason = reason
	escalate := DispositionEscalate
	out.Outcome = &escalate
	out.Phase = PhaseComplete
	at := completedAt
	out.CompletedAt = &at
	return out, nil
}

// Validate checks the invariants of §3 against the current value. It is
// exercised by tests and is not called on the hot path, since every
// transition method above is constructed to satisfy these invariants by
// construction.
func (s Session) Validate() error {
	if err := validateArchons(s.AssignedArchons); err != nil {
		return err
	}
	if s.RoundCount < 1 {
		return fmt.Errorf("deliberation: round_count must be >= 1, got %d", s.RoundCount)
	}
	if len(s.Substitutions) > MaxSubstitutionsPerSession {
		return fmt.Errorf("deliberation: substitutions exceed cap of %d", MaxSubstitutionsPerSession)
	}
	for phase, hash := range s.PhaseTranscripts {
		if len(hash) != 32 {
			return fmt.Errorf("deliberation: transcript hash for phase %s is not 32 bytes", phase)
		}
	}
	forcing := s.TimedOut || s.IsDeadlocked || s.IsAborted
	if boolCount(s.TimedOut, s.IsDeadlocked, s.IsAborted) > 1 {
		return fmt.Errorf("deliberation: at most one forcing flag may be set")
	}
	if s.Outcome != nil {
		if forcing {
			if *s.Outcome != DispositionEscalate {
				return fmt.Errorf("deliberation: forced outcomes must be ESCALATE")
			}
			if s.DissentArchonID != nil {
				return fmt.Errorf("deliberation: forced outcomes must not carry a dissenter")
			}
		} else {
			if len(s.Votes) != RequiredArchonCount {
				return fmt.Errorf("deliberation: resolved outcome requires exactly three votes")
			}
			dist := voteDistribution(s.Votes)
			if dist[*s.Outcome] < ConsensusThreshold {
				return fmt.Errorf("deliberation: resolved outcome must have received a supermajority")
			}
		}
	}
	if (s.Phase == PhaseComplete) != (s.Outcome != nil) {
		return fmt.Errorf("deliberation: phase is COMPLETE iff outcome is set")
	}
	return nil
}

func boolCount(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
