package deliberation

import "time"

// PhaseResult is what a Phase Executor call returns on success.
type PhaseResult struct {
	Phase          Phase
	Transcript     string
	TranscriptHash [32]byte
	Participants   []ArchonID
	StartedAt      time.Time
	CompletedAt    time.Time
	// PhaseMetadata carries phase-specific structured output. For VOTE it
	// must contain a "votes" entry (map[ArchonID]Disposition). For
	// CROSS_EXAMINE it must include "rounds_completed" (int) and
	// "challenges_raised" (StubExecutor reports it as an int count); this
	// package reads neither CROSS_EXAMINE entry.
	PhaseMetadata map[string]interface{}
}

// Votes extracts the vote map a VOTE-phase result must carry. It returns
// false if the metadata is absent or malformed.
func (r PhaseResult) Votes() (map[ArchonID]Disposition, bool) {
	raw, ok := r.PhaseMetadata["votes"]
	if !ok {
		return nil, false
	}
	votes, ok := raw.(map[ArchonID]Disposition)
	return votes, ok
}

// DeliberationResult is the final outcome of one orchestrate() call.
type DeliberationResult struct {
	SessionID       string
	PetitionID      string
	Outcome         *Disposition
	Votes           map[ArchonID]Disposition
	DissentArchonID *ArchonID
	PhaseResults    []PhaseResult
	StartedAt       time.Time
	CompletedAt     time.Time
	IsAborted       bool
	AbortReason     string
}
