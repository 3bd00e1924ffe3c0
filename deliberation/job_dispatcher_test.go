package deliberation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobDispatcherDispatchHandlesFiredTimeout(t *testing.T) {
	now := time.Now()
	cfg, err := NewConfig(WithTimeoutSeconds(300), WithMaxRounds(3))
	require.NoError(t, err)
	s, err := NewSession("s1", "p1", testArchons(), now)
	require.NoError(t, err)
	repo := newMemRepo(s)

	timeoutHandler := NewTimeoutHandler(newFakeScheduler(), repo, nil, cfg)
	dispatcher := NewJobDispatcher(timeoutHandler)

	err = dispatcher.Dispatch(context.Background(), TimeoutJob{
		ID:      "job-1",
		Kind:    DeliberationTimeoutJobKind,
		Payload: map[string]interface{}{"session_id": "s1"},
	}, now.Add(time.Hour))
	require.NoError(t, err)

	persisted, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, persisted.TimedOut)
}

func TestJobDispatcherDispatchTreatsAlreadyCompleteAsSuccess(t *testing.T) {
	now := time.Now()
	cfg, err := NewConfig(WithTimeoutSeconds(300), WithMaxRounds(3))
	require.NoError(t, err)
	s := mustVoteReadySession(t, now)
	s, err = s.RecordVotes(map[ArchonID]Disposition{
		"archon-a": DispositionAcknowledge,
		"archon-b": DispositionAcknowledge,
		"archon-c": DispositionAcknowledge,
	})
	require.NoError(t, err)
	s, err = s.ResolveConsensus(now)
	require.NoError(t, err)
	repo := newMemRepo(s)

	timeoutHandler := NewTimeoutHandler(newFakeScheduler(), repo, nil, cfg)
	dispatcher := NewJobDispatcher(timeoutHandler)

	err = dispatcher.Dispatch(context.Background(), TimeoutJob{
		Payload: map[string]interface{}{"session_id": s.SessionID},
	}, now.Add(time.Hour))
	assert.NoError(t, err)
}

func TestJobDispatcherDispatchRejectsMalformedPayload(t *testing.T) {
	cfg, err := NewConfig(WithTimeoutSeconds(300), WithMaxRounds(3))
	require.NoError(t, err)
	dispatcher := NewJobDispatcher(NewTimeoutHandler(newFakeScheduler(), newMemRepo(), nil, cfg))

	err = dispatcher.Dispatch(context.Background(), TimeoutJob{ID: "job-2", Payload: map[string]interface{}{}}, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedJobPayload))
}

func TestJobDispatcherDispatchRejectsUnrecognizedKind(t *testing.T) {
	cfg, err := NewConfig(WithTimeoutSeconds(300), WithMaxRounds(3))
	require.NoError(t, err)
	dispatcher := NewJobDispatcher(NewTimeoutHandler(newFakeScheduler(), newMemRepo(), nil, cfg))

	err = dispatcher.Dispatch(context.Background(), TimeoutJob{Kind: "other_kind", Payload: map[string]interface{}{"session_id": "s1"}}, time.Now())
	require.Error(t, err)
}
