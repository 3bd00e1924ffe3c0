package deliberation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoyack/archon72-sub000/deliberation"
	"github.com/hoyack/archon72-sub000/deliberation/testexecutor"
)

func archons() [deliberation.RequiredArchonCount]deliberation.ArchonID {
	return [deliberation.RequiredArchonCount]deliberation.ArchonID{"archon-a", "archon-b", "archon-c"}
}

func phaseStep(phase deliberation.Phase, metadata map[string]interface{}) testexecutor.Step {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	return testexecutor.Step{
		Result: deliberation.PhaseResult{
			Phase:         phase,
			Transcript:    string(phase) + " transcript",
			Participants:  []deliberation.ArchonID{"archon-a", "archon-b", "archon-c"},
			StartedAt:     now,
			CompletedAt:   now.Add(time.Second),
			PhaseMetadata: metadata,
		},
	}
}

func votesStep(votes map[deliberation.ArchonID]deliberation.Disposition) testexecutor.Step {
	return phaseStep(deliberation.PhaseVote, map[string]interface{}{"votes": votes})
}

func newOrchestratorFixture(t *testing.T, maxRounds int) (*deliberation.Orchestrator, *testexecutor.Executor, *testexecutor.EventSink) {
	t.Helper()
	cfg, err := deliberation.NewConfig(deliberation.WithMaxRounds(maxRounds), deliberation.WithTimeoutSeconds(0))
	require.NoError(t, err)

	executor := testexecutor.New()
	witness := testexecutor.NewWitnessStore()
	events := testexecutor.NewEventSink()

	orch := deliberation.NewOrchestrator(executor, witness, cfg)
	orch.SetEventSink(events)
	orch.SetDeadlockHandler(deliberation.NewDeadlockHandler(events))
	return orch, executor, events
}

func TestOrchestrateResolvesConsensusOnFirstRound(t *testing.T) {
	orch, executor, events := newOrchestratorFixture(t, 3)
	executor.
		QueueAssess(phaseStep(deliberation.PhaseAssess, nil)).
		QueuePosition(phaseStep(deliberation.PhasePosition, nil)).
		QueueCrossExamine(phaseStep(deliberation.PhaseCrossExamine, map[string]interface{}{
			"rounds_completed":  1,
			"challenges_raised": []string{"challenge-1"},
		})).
		QueueVote(votesStep(map[deliberation.ArchonID]deliberation.Disposition{
			"archon-a": deliberation.DispositionAcknowledge,
			"archon-b": deliberation.DispositionAcknowledge,
			"archon-c": deliberation.DispositionRefer,
		}))

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	session, err := deliberation.NewSession("session-1", "petition-1", archons(), now)
	require.NoError(t, err)
	petition := deliberation.PetitionSnapshot{ID: "petition-1", CreatedAt: now}
	pkg, err := deliberation.BuildContextPackage(petition, session, now)
	require.NoError(t, err)

	finalSession, result, err := orch.Orchestrate(context.Background(), session, pkg)
	require.NoError(t, err)

	assert.Equal(t, deliberation.PhaseComplete, finalSession.Phase)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, deliberation.DispositionAcknowledge, *result.Outcome)
	require.NotNil(t, result.DissentArchonID)
	assert.Equal(t, deliberation.ArchonID("archon-c"), *result.DissentArchonID)
	assert.Equal(t, []string{"ASSESS", "POSITION", "CROSS_EXAMINE", "VOTE"}, executor.Calls())
	assert.NotEmpty(t, events.EventsOfType("deliberation.completed"))
}

func TestOrchestrateRetriesARoundOnDeadlockThenResolves(t *testing.T) {
	orch, executor, _ := newOrchestratorFixture(t, 3)
	executor.
		QueueAssess(phaseStep(deliberation.PhaseAssess, nil)).
		QueuePosition(phaseStep(deliberation.PhasePosition, nil)).
		QueueCrossExamine(phaseStep(deliberation.PhaseCrossExamine, map[string]interface{}{
			"rounds_completed": 1, "challenges_raised": []string{},
		})).
		QueueVote(votesStep(map[deliberation.ArchonID]deliberation.Disposition{
			"archon-a": deliberation.DispositionAcknowledge,
			"archon-b": deliberation.DispositionRefer,
			"archon-c": deliberation.DispositionEscalate,
		})).
		QueueCrossExamine(phaseStep(deliberation.PhaseCrossExamine, map[string]interface{}{
			"rounds_completed": 1, "challenges_raised": []string{},
		})).
		QueueVote(votesStep(map[deliberation.ArchonID]deliberation.Disposition{
			"archon-a": deliberation.DispositionAcknowledge,
			"archon-b": deliberation.DispositionAcknowledge,
			"archon-c": deliberation.DispositionEscalate,
		}))

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	session, err := deliberation.NewSession("session-2", "petition-2", archons(), now)
	require.NoError(t, err)
	petition := deliberation.PetitionSnapshot{ID: "petition-2", CreatedAt: now}
	pkg, err := deliberation.BuildContextPackage(petition, session, now)
	require.NoError(t, err)

	finalSession, result, err := orch.Orchestrate(context.Background(), session, pkg)
	require.NoError(t, err)

	assert.Equal(t, 2, finalSession.RoundCount)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, deliberation.DispositionAcknowledge, *result.Outcome)
	assert.False(t, finalSession.IsDeadlocked)
}

// flakyVoteExecutor delegates every call to an inner StubExecutor except
// the first ExecuteVote call, which fails attributably to failedArchon so
// the orchestrator's substitution-retry path is exercised end-to-end.
type flakyVoteExecutor struct {
	inner        *deliberation.StubExecutor
	failedOnce   bool
	failedArchon deliberation.ArchonID
}

func (e *flakyVoteExecutor) ExecuteAssess(ctx context.Context, s deliberation.Session, pkg deliberation.ContextPackage) (deliberation.PhaseResult, error) {
	return e.inner.ExecuteAssess(ctx, s, pkg)
}

func (e *flakyVoteExecutor) ExecutePosition(ctx context.Context, s deliberation.Session, pkg deliberation.ContextPackage, prior deliberation.PhaseResult) (deliberation.PhaseResult, error) {
	return e.inner.ExecutePosition(ctx, s, pkg, prior)
}

func (e *flakyVoteExecutor) ExecuteCrossExamine(ctx context.Context, s deliberation.Session, pkg deliberation.ContextPackage, prior deliberation.PhaseResult) (deliberation.PhaseResult, error) {
	return e.inner.ExecuteCrossExamine(ctx, s, pkg, prior)
}

func (e *flakyVoteExecutor) ExecuteVote(ctx context.Context, s deliberation.Session, pkg deliberation.ContextPackage, prior deliberation.PhaseResult) (deliberation.PhaseResult, error) {
	if !e.failedOnce {
		e.failedOnce = true
		return deliberation.PhaseResult{}, &deliberation.PhaseExecutionError{
			Phase:    deliberation.PhaseVote,
			Reason:   "request timed out",
			ArchonID: e.failedArchon,
		}
	}
	return e.inner.ExecuteVote(ctx, s, pkg, prior)
}

// TestOrchestrateSubstitutesFailedArchonThenResolvesVote covers the
// single-agent timeout / substitute-succeeds path: VOTE fails once,
// attributed to archon-c, the substitution handler swaps in archon-d, and
// the retried VOTE call must use the post-substitution panel throughout
// (transcript participants and recorded votes), not the original panel.
func TestOrchestrateSubstitutesFailedArchonThenResolvesVote(t *testing.T) {
	cfg, err := deliberation.NewConfig(deliberation.WithMaxRounds(3), deliberation.WithTimeoutSeconds(0))
	require.NoError(t, err)

	witness := testexecutor.NewWitnessStore()
	events := testexecutor.NewEventSink()
	pool := testexecutor.NewArchonPool("archon-d")

	executor := &flakyVoteExecutor{
		inner:        deliberation.NewStubExecutor().WithUnanimousVote(deliberation.DispositionAcknowledge),
		failedArchon: "archon-c",
	}

	orch := deliberation.NewOrchestrator(executor, witness, cfg)
	orch.SetEventSink(events)
	orch.SetDeadlockHandler(deliberation.NewDeadlockHandler(events))
	orch.SetSubstitutionHandler(deliberation.NewSubstitutionHandler(pool, events))

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	session, err := deliberation.NewSession("session-sub", "petition-sub", archons(), now)
	require.NoError(t, err)
	petition := deliberation.PetitionSnapshot{ID: "petition-sub", CreatedAt: now}
	pkg, err := deliberation.BuildContextPackage(petition, session, now)
	require.NoError(t, err)

	finalSession, result, err := orch.Orchestrate(context.Background(), session, pkg)
	require.NoError(t, err)

	require.NotNil(t, result.Outcome)
	assert.Equal(t, deliberation.DispositionAcknowledge, *result.Outcome)
	assert.NotContains(t, result.Votes, deliberation.ArchonID("archon-c"))
	assert.Contains(t, result.Votes, deliberation.ArchonID("archon-d"))
	assert.Contains(t, finalSession.CurrentActiveArchons(), deliberation.ArchonID("archon-d"))
	assert.NotEmpty(t, events.EventsOfType("deliberation.archon.substituted"))

	voteEvent := result.PhaseResults[len(result.PhaseResults)-1]
	assert.Equal(t, deliberation.PhaseVote, voteEvent.Phase)
	assert.Contains(t, voteEvent.Participants, deliberation.ArchonID("archon-d"))
	assert.NotContains(t, voteEvent.Participants, deliberation.ArchonID("archon-c"))
}

func TestOrchestrateEscalatesOnDeadlockAtMaxRounds(t *testing.T) {
	orch, executor, events := newOrchestratorFixture(t, 1)
	executor.
		QueueAssess(phaseStep(deliberation.PhaseAssess, nil)).
		QueuePosition(phaseStep(deliberation.PhasePosition, nil)).
		QueueCrossExamine(phaseStep(deliberation.PhaseCrossExamine, map[string]interface{}{
			"rounds_completed": 1, "challenges_raised": []string{},
		})).
		QueueVote(votesStep(map[deliberation.ArchonID]deliberation.Disposition{
			"archon-a": deliberation.DispositionAcknowledge,
			"archon-b": deliberation.DispositionRefer,
			"archon-c": deliberation.DispositionEscalate,
		}))

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	session, err := deliberation.NewSession("session-3", "petition-3", archons(), now)
	require.NoError(t, err)
	petition := deliberation.PetitionSnapshot{ID: "petition-3", CreatedAt: now}
	pkg, err := deliberation.BuildContextPackage(petition, session, now)
	require.NoError(t, err)

	finalSession, result, err := orch.Orchestrate(context.Background(), session, pkg)
	require.NoError(t, err)

	assert.True(t, finalSession.IsDeadlocked)
	assert.Equal(t, deliberation.DeadlockReasonMaxRoundsExceeded, finalSession.DeadlockReason)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, deliberation.DispositionEscalate, *result.Outcome)
	assert.NotEmpty(t, events.EventsOfType("deliberation.deadlock.detected"))
}
