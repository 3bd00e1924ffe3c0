package deliberation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubExecutorIsDeterministic(t *testing.T) {
	now := time.Now()
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)
	petition := PetitionSnapshot{ID: "p1", Text: "Repair the library roof.", CreatedAt: now}
	pkg, err := BuildContextPackage(petition, s, now)
	require.NoError(t, err)

	e1 := NewStubExecutor()
	e2 := NewStubExecutor()

	r1, err := e1.ExecuteAssess(context.Background(), s, pkg)
	require.NoError(t, err)
	r2, err := e2.ExecuteAssess(context.Background(), s, pkg)
	require.NoError(t, err)

	assert.Equal(t, r1.Transcript, r2.Transcript)
	assert.Equal(t, r1.StartedAt, r2.StartedAt)
	assert.Equal(t, r1.CompletedAt, r2.CompletedAt)
}

func TestStubExecutorExecuteVoteReportsConfiguredVotes(t *testing.T) {
	now := time.Now()
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)
	petition := PetitionSnapshot{ID: "p1", CreatedAt: now}
	pkg, err := BuildContextPackage(petition, s, now)
	require.NoError(t, err)

	votes := map[ArchonID]Disposition{
		"archon-a": DispositionAcknowledge,
		"archon-b": DispositionAcknowledge,
		"archon-c": DispositionRefer,
	}
	e := NewStubExecutor().WithVotes(votes)

	result, err := e.ExecuteVote(context.Background(), s, pkg, PhaseResult{})
	require.NoError(t, err)
	assert.Equal(t, votes, result.PhaseMetadata["votes"])
}

func TestStubExecutorWithUnanimousVote(t *testing.T) {
	now := time.Now()
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)
	petition := PetitionSnapshot{ID: "p1", CreatedAt: now}
	pkg, err := BuildContextPackage(petition, s, now)
	require.NoError(t, err)

	e := NewStubExecutor().WithUnanimousVote(DispositionEscalate)
	result, err := e.ExecuteVote(context.Background(), s, pkg, PhaseResult{})
	require.NoError(t, err)

	votes := result.PhaseMetadata["votes"].(map[ArchonID]Disposition)
	for _, archon := range s.AssignedArchons {
		assert.Equal(t, DispositionEscalate, votes[archon])
	}
}
