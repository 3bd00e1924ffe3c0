package deliberation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StubExecutor is a deterministic default PhaseExecutor (C3): every
// transcript is built from fixed templates and every timestamp is an
// offset from a fixed base, so repeated runs against the same session
// produce byte-identical transcripts. It is meant for demos, fixtures, and
// as the default wired into cmd/deliberate when no real agent-invocation
// backend is configured — never for production deliberation.
type StubExecutor struct {
	// Votes, if non-nil, is returned verbatim by ExecuteVote. If nil, every
	// currently active archon votes Unanimous (defaulting to ACKNOWLEDGE).
	Votes map[ArchonID]Disposition
	// Unanimous is used to synthesize Votes when Votes is nil.
	Unanimous Disposition

	PhaseDurationMS         int
	CrossExamineChallenges  int
	CrossExamineRounds      int
}

// NewStubExecutor returns a StubExecutor producing a unanimous ACKNOWLEDGE
// vote, 100ms per phase, one cross-examine round with two challenges —
// the same defaults as the reference stub it is grounded on.
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{
		Unanimous:              DispositionAcknowledge,
		PhaseDurationMS:        100,
		CrossExamineChallenges: 2,
		CrossExamineRounds:     1,
	}
}

// WithVotes returns a copy of e configured to report the given votes for
// the VOTE phase.
func (e *StubExecutor) WithVotes(votes map[ArchonID]Disposition) *StubExecutor {
	next := *e
	next.Votes = votes
	return &next
}

// WithUnanimousVote returns a copy of e configured so every currently
// active archon casts the given disposition.
func (e *StubExecutor) WithUnanimousVote(d Disposition) *StubExecutor {
	next := *e
	next.Votes = nil
	next.Unanimous = d
	return &next
}

func (e *StubExecutor) votesFor(session Session) map[ArchonID]Disposition {
	if e.Votes != nil {
		return e.Votes
	}
	votes := make(map[ArchonID]Disposition, RequiredArchonCount)
	for _, a := range session.CurrentActiveArchons() {
		votes[a] = e.Unanimous
	}
	return votes
}

func stubTimestamp(offsetMS int) time.Time {
	base := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(offsetMS) * time.Millisecond)
}

// ExecuteAssess builds a fixed-template ASSESS transcript.
func (e *StubExecutor) ExecuteAssess(_ context.Context, session Session, pkg ContextPackage) (PhaseResult, error) {
	var b strings.Builder
	b.WriteString("=== ASSESS PHASE ===\n")
	fmt.Fprintf(&b, "Petition ID: %s\n", pkg.PetitionID)
	fmt.Fprintf(&b, "Petition Type: %s\n\n", pkg.PetitionType)
	for i, archon := range session.CurrentActiveArchons() {
		fmt.Fprintf(&b, "--- Archon %d (%s) Assessment ---\n", i+1, archon)
		fmt.Fprintf(&b, "I have reviewed the petition of type %s.\n", pkg.PetitionType)
		fmt.Fprintf(&b, "The petition text discusses: %s...\n", truncate(pkg.PetitionText, 50))
		fmt.Fprintf(&b, "Co-signers: %d\n\n", pkg.CoSignerCount)
	}
	return PhaseResult{
		Phase:        PhaseAssess,
		Transcript:   b.String(),
		Participants: session.CurrentActiveArchons()[:],
		StartedAt:    stubTimestamp(0),
		CompletedAt:  stubTimestamp(e.PhaseDurationMS),
		PhaseMetadata: map[string]interface{}{
			"assessments_completed": RequiredArchonCount,
			"petition_type":         pkg.PetitionType,
		},
	}, nil
}

// ExecutePosition builds a fixed-template POSITION transcript.
func (e *StubExecutor) ExecutePosition(_ context.Context, session Session, pkg ContextPackage, _ PhaseResult) (PhaseResult, error) {
	votes := e.votesFor(session)
	var b strings.Builder
	b.WriteString("=== POSITION PHASE ===\n")
	b.WriteString("Building on assessments from previous phase.\n\n")
	for i, archon := range session.CurrentActiveArchons() {
		position := votes[archon]
		fmt.Fprintf(&b, "--- Archon %d (%s) Position ---\n", i+1, archon)
		fmt.Fprintf(&b, "My preferred disposition: %s\n", position)
		fmt.Fprintf(&b, "Rationale: Based on my assessment, I believe %s is appropriate.\n\n", position)
	}
	return PhaseResult{
		Phase:        PhasePosition,
		Transcript:   b.String(),
		Participants: session.CurrentActiveArchons()[:],
		StartedAt:    stubTimestamp(e.PhaseDurationMS),
		CompletedAt:  stubTimestamp(e.PhaseDurationMS * 2),
		PhaseMetadata: map[string]interface{}{
			"positions_stated":    RequiredArchonCount,
			"positions_converged": allSame(votes),
		},
	}, nil
}

// ExecuteCrossExamine builds a fixed-template CROSS_EXAMINE transcript.
func (e *StubExecutor) ExecuteCrossExamine(_ context.Context, session Session, _ ContextPackage, _ PhaseResult) (PhaseResult, error) {
	var b strings.Builder
	b.WriteString("=== CROSS_EXAMINE PHASE ===\n")
	b.WriteString("Examining positions for consensus building.\n\n")
	for round := 0; round < e.CrossExamineRounds; round++ {
		fmt.Fprintf(&b, "--- Round %d ---\n", round+1)
		for i, archon := range session.CurrentActiveArchons() {
			if i >= e.CrossExamineChallenges {
				continue
			}
			fmt.Fprintf(&b, "Archon %d (%s): I challenge the reasoning.\n", i+1, archon)
			b.WriteString("Response: I maintain my position based on constitutional principles.\n\n")
		}
	}
	b.WriteString("No further challenges raised. Proceeding to vote.")
	return PhaseResult{
		Phase:        PhaseCrossExamine,
		Transcript:   b.String(),
		Participants: session.CurrentActiveArchons()[:],
		StartedAt:    stubTimestamp(e.PhaseDurationMS * 2),
		CompletedAt:  stubTimestamp(e.PhaseDurationMS * 3),
		PhaseMetadata: map[string]interface{}{
			"challenges_raised":  e.CrossExamineChallenges,
			"rounds_completed":   e.CrossExamineRounds,
			"consensus_emerging": true,
		},
	}, nil
}

// ExecuteVote builds a fixed-template VOTE transcript and attaches the
// configured votes to PhaseMetadata["votes"], which the orchestrator
// requires.
func (e *StubExecutor) ExecuteVote(_ context.Context, session Session, _ ContextPackage, _ PhaseResult) (PhaseResult, error) {
	votes := e.votesFor(session)
	var b strings.Builder
	b.WriteString("=== VOTE PHASE ===\n")
	b.WriteString("All archons casting simultaneous votes.\n\n")
	for i, archon := range session.CurrentActiveArchons() {
		fmt.Fprintf(&b, "--- Archon %d (%s) Vote ---\n", i+1, archon)
		fmt.Fprintf(&b, "Final vote: %s\n\n", votes[archon])
	}
	counts := voteDistribution(votes)
	b.WriteString("=== VOTE SUMMARY ===\n")
	for _, outcome := range []Disposition{DispositionAcknowledge, DispositionRefer, DispositionEscalate} {
		if count, ok := counts[outcome]; ok {
			fmt.Fprintf(&b, "%s: %d vote(s)\n", outcome, count)
		}
	}
	return PhaseResult{
		Phase:        PhaseVote,
		Transcript:   b.String(),
		Participants: session.CurrentActiveArchons()[:],
		StartedAt:    stubTimestamp(e.PhaseDurationMS * 3),
		CompletedAt:  stubTimestamp(e.PhaseDurationMS * 4),
		PhaseMetadata: map[string]interface{}{
			"votes":       votes,
			"vote_counts": distributionToMap(counts),
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func allSame(votes map[ArchonID]Disposition) bool {
	var first Disposition
	seen := false
	for _, d := range votes {
		if !seen {
			first = d
			seen = true
			continue
		}
		if d != first {
			return false
		}
	}
	return true
}
