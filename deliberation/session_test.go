package deliberation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArchons() [RequiredArchonCount]ArchonID {
	return [RequiredArchonCount]ArchonID{"archon-a", "archon-b", "archon-c"}
}

func TestNewSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("valid archons produce a version-1 ASSESS session", func(t *testing.T) {
		s, err := NewSession("session-1", "petition-1", testArchons(), now)
		require.NoError(t, err)
		assert.Equal(t, PhaseAssess, s.Phase)
		assert.Equal(t, 1, s.Version)
		assert.Equal(t, 1, s.RoundCount)
		assert.Empty(t, s.Votes)
		assert.Empty(t, s.PhaseTranscripts)
	})

	t.Run("rejects duplicate archons", func(t *testing.T) {
		archons := [RequiredArchonCount]ArchonID{"a", "a", "b"}
		_, err := NewSession("session-1", "petition-1", archons, now)
		require.Error(t, err)
		var target *InvalidArchonAssignmentError
		require.ErrorAs(t, err, &target)
	})

	t.Run("rejects empty archon id", func(t *testing.T) {
		archons := [RequiredArchonCount]ArchonID{"a", "", "b"}
		_, err := NewSession("session-1", "petition-1", archons, now)
		require.Error(t, err)
	})
}

func TestAdvancePhase(t *testing.T) {
	now := time.Now()
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)

	s, err = s.AdvancePhase(PhasePosition)
	require.NoError(t, err)
	assert.Equal(t, PhasePosition, s.Phase)
	assert.Equal(t, 2, s.Version)

	t.Run("rejects skipping a phase", func(t *testing.T) {
		_, err := s.AdvancePhase(PhaseVote)
		require.Error(t, err)
		var target *InvalidPhaseTransitionError
		require.ErrorAs(t, err, &target)
	})

	t.Run("rejects advancing a terminal session", func(t *testing.T) {
		completed, err := s.AdvancePhase(PhaseCrossExamine)
		require.NoError(t, err)
		completed, err = completed.AdvancePhase(PhaseVote)
		require.NoError(t, err)
		completed, err = completed.RecordVotes(map[ArchonID]Disposition{
			"archon-a": DispositionAcknowledge,
			"archon-b": DispositionAcknowledge,
			"archon-c": DispositionAcknowledge,
		})
		require.NoError(t, err)
		completed, err = completed.ResolveConsensus(now)
		require.NoError(t, err)

		_, err = completed.AdvancePhase(PhaseComplete)
		require.Error(t, err)
		var target *SessionAlreadyCompleteError
		require.ErrorAs(t, err, &target)
	})
}

func TestResolveConsensus(t *testing.T) {
	now := time.Now()

	t.Run("2-1 split resolves with a dissenter", func(t *testing.T) {
		s := mustVoteReadySession(t, now)
		s, err := s.RecordVotes(map[ArchonID]Disposition{
			"archon-a": DispositionAcknowledge,
			"archon-b": DispositionAcknowledge,
			"archon-c": DispositionRefer,
		})
		require.NoError(t, err)

		s, err = s.ResolveConsensus(now)
		require.NoError(t, err)
		require.NotNil(t, s.Outcome)
		assert.Equal(t, DispositionAcknowledge, *s.Outcome)
		require.NotNil(t, s.DissentArchonID)
		assert.Equal(t, ArchonID("archon-c"), *s.DissentArchonID)
		assert.Equal(t, PhaseComplete, s.Phase)
	})

	t.Run("3-0 unanimous resolves with no dissenter", func(t *testing.T) {
		s := mustVoteReadySession(t, now)
		s, err := s.RecordVotes(map[ArchonID]Disposition{
			"archon-a": DispositionEscalate,
			"archon-b": DispositionEscalate,
			"archon-c": DispositionEscalate,
		})
		require.NoError(t, err)

		s, err = s.ResolveConsensus(now)
		require.NoError(t, err)
		assert.Nil(t, s.DissentArchonID)
	})

	t.Run("1-1-1 split fails with ConsensusNotReachedError", func(t *testing.T) {
		s := mustVoteReadySession(t, now)
		s, err := s.RecordVotes(map[ArchonID]Disposition{
			"archon-a": DispositionAcknowledge,
			"archon-b": DispositionRefer,
			"archon-c": DispositionEscalate,
		})
		require.NoError(t, err)

		_, err = s.ResolveConsensus(now)
		require.Error(t, err)
		var target *ConsensusNotReachedError
		require.ErrorAs(t, err, &target)
	})

	t.Run("rejects a vote from an archon outside the active panel", func(t *testing.T) {
		s := mustVoteReadySession(t, now)
		_, err := s.RecordVotes(map[ArchonID]Disposition{
			"archon-a": DispositionAcknowledge,
			"archon-b": DispositionAcknowledge,
			"nobody":   DispositionAcknowledge,
		})
		require.Error(t, err)
	})
}

func mustVoteReadySession(t *testing.T, now time.Time) Session {
	t.Helper()
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)
	s, err = s.AdvancePhase(PhasePosition)
	require.NoError(t, err)
	s, err = s.AdvancePhase(PhaseCrossExamine)
	require.NoError(t, err)
	s, err = s.AdvancePhase(PhaseVote)
	require.NoError(t, err)
	return s
}

func TestBeginNewRoundAndForceDeadlock(t *testing.T) {
	now := time.Now()
	s := mustVoteReadySession(t, now)
	s, err := s.RecordVotes(map[ArchonID]Disposition{
		"archon-a": DispositionAcknowledge,
		"archon-b": DispositionRefer,
		"archon-c": DispositionEscalate,
	})
	require.NoError(t, err)
	dist := voteDistribution(s.Votes)

	round2, err := s.BeginNewRound(dist)
	require.NoError(t, err)
	assert.Equal(t, PhaseCrossExamine, round2.Phase)
	assert.Equal(t, 2, round2.RoundCount)
	assert.Empty(t, round2.Votes)
	assert.Len(t, round2.VotesByRound, 1)

	deadlocked, err := s.ForceDeadlock(dist, now)
	require.NoError(t, err)
	assert.True(t, deadlocked.IsDeadlocked)
	assert.Equal(t, DeadlockReasonMaxRoundsExceeded, deadlocked.DeadlockReason)
	require.NotNil(t, deadlocked.Outcome)
	assert.Equal(t, DispositionEscalate, *deadlocked.Outcome)
	assert.Equal(t, PhaseComplete, deadlocked.Phase)
}

func TestForceTimeout(t *testing.T) {
	now := time.Now()
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)

	s, err = s.ForceTimeout(now)
	require.NoError(t, err)
	assert.True(t, s.TimedOut)
	require.NotNil(t, s.Outcome)
	assert.Equal(t, DispositionEscalate, *s.Outcome)
	assert.Nil(t, s.DissentArchonID)

	_, err = s.ForceTimeout(now)
	require.Error(t, err)
	var target *SessionAlreadyCompleteError
	require.ErrorAs(t, err, &target)
}

func TestApplySubstitution(t *testing.T) {
	now := time.Now()
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)

	s, err = s.ApplySubstitution("archon-a", "archon-d", FailureResponseTimeout, now)
	require.NoError(t, err)
	assert.Len(t, s.Substitutions, 1)
	assert.Equal(t, ArchonID("archon-d"), s.CurrentActiveArchons()[0])

	t.Run("refuses a second substitution (cap is 1)", func(t *testing.T) {
		_, err := s.ApplySubstitution("archon-b", "archon-e", FailureAPIError, now)
		require.Error(t, err)
	})

	t.Run("refuses substituting an archon that is not active", func(t *testing.T) {
		fresh, err := NewSession("s2", "p1", testArchons(), now)
		require.NoError(t, err)
		_, err = fresh.ApplySubstitution("not-assigned", "archon-d", FailureAPIError, now)
		require.Error(t, err)
	})

	t.Run("refuses a no-op substitution", func(t *testing.T) {
		fresh, err := NewSession("s2", "p1", testArchons(), now)
		require.NoError(t, err)
		_, err = fresh.ApplySubstitution("archon-a", "archon-a", FailureAPIError, now)
		require.Error(t, err)
	})
}

func TestForceAbort(t *testing.T) {
	now := time.Now()
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)

	s, err = s.ForceAbort(AbortArchonPoolExhausted, now)
	require.NoError(t, err)
	assert.True(t, s.IsAborted)
	assert.Equal(t, AbortArchonPoolExhausted, s.AbortReason)
	require.NotNil(t, s.Outcome)
	assert.Equal(t, DispositionEscalate, *s.Outcome)

	t.Run("rejects an unrecognized abort reason", func(t *testing.T) {
		fresh, err := NewSession("s2", "p1", testArchons(), now)
		require.NoError(t, err)
		_, err = fresh.ForceAbort("NOT_A_REAL_REASON", now)
		require.Error(t, err)
	})
}

func TestCancelTimeoutIsIdempotent(t *testing.T) {
	now := time.Now()
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)

	s, err = s.CancelTimeout()
	require.NoError(t, err)
	assert.False(t, s.HasTimeoutScheduled())
	assert.Equal(t, 1, s.Version)

	s, err = s.ScheduleTimeout("job-1", now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, s.HasTimeoutScheduled())

	t.Run("refuses scheduling twice", func(t *testing.T) {
		_, err := s.ScheduleTimeout("job-2", now.Add(5*time.Minute))
		require.Error(t, err)
	})

	s, err = s.CancelTimeout()
	require.NoError(t, err)
	assert.False(t, s.HasTimeoutScheduled())
}

// cloneDoesNotAliasParent is the immutability law of spec §8: mutating a
// map/slice field on a derived session must never be visible on the
// session it was derived from.
func TestCloneDoesNotAliasParent(t *testing.T) {
	now := time.Now()
	parent, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)

	child, err := parent.RecordTranscript(PhaseAssess, [32]byte{1, 2, 3})
	require.NoError(t, err)

	assert.False(t, parent.HasTranscript(PhaseAssess))
	assert.True(t, child.HasTranscript(PhaseAssess))
	assert.Equal(t, parent.Version+1, child.Version)
}

func TestValidate(t *testing.T) {
	now := time.Now()
	s := mustVoteReadySession(t, now)
	s, err := s.RecordVotes(map[ArchonID]Disposition{
		"archon-a": DispositionAcknowledge,
		"archon-b": DispositionAcknowledge,
		"archon-c": DispositionRefer,
	})
	require.NoError(t, err)
	s, err = s.ResolveConsensus(now)
	require.NoError(t, err)

	assert.NoError(t, s.Validate())
}
