package redisrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/hoyack/archon72-sub000/deliberation"
)

func newJobID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// jobRecord is the JSON payload stored as the sorted-set member; the score
// is the fire time as a Unix timestamp so a poller can ZRANGEBYSCORE for
// everything due.
type jobRecord struct {
	ID      string                 `json:"id"`
	Kind    string                 `json:"kind"`
	Payload map[string]interface{} `json:"payload"`
}

// JobScheduler implements deliberation.JobScheduler as a Redis sorted set
// standing in for a durable job queue (spec §6.1), grounded on
// orchestration.RedisTaskQueue's Redis-backed queue shape — a sorted set
// in place of a list, since jobs here are scheduled for a future time
// rather than processed immediately.
type JobScheduler struct {
	client *redis.Client
	key    string
	logger deliberation.Logger
}

// NewJobScheduler constructs a JobScheduler backed by the sorted set at
// key (e.g. "deliberation:jobs:due").
func NewJobScheduler(client *redis.Client, key string) *JobScheduler {
	return &JobScheduler{
		client: client,
		key:    key,
		logger: deliberation.NoOpLogger{},
	}
}

// SetLogger wires a structured logger.
func (s *JobScheduler) SetLogger(logger deliberation.Logger) { s.logger = logger }

// Schedule adds a job to the sorted set scored by runAt. The member's job
// ID is a UUIDv7 string for consistency with every other identifier this
// package mints.
func (s *JobScheduler) Schedule(ctx context.Context, kind string, payload map[string]interface{}, runAt time.Time) (string, error) {
	record := jobRecord{ID: newJobID(), Kind: kind, Payload: payload}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("deliberation: encoding job payload: %w", err)
	}
	if err := s.client.ZAdd(ctx, s.key, &redis.Z{Score: float64(runAt.Unix()), Member: data}).Err(); err != nil {
		s.logger.ErrorWithContext(ctx, "deliberation_job_schedule_failed", map[string]interface{}{
			"kind":  kind,
			"error": err.Error(),
		})
		return "", fmt.Errorf("deliberation: scheduling job: %w", err)
	}
	// Track the job ID -> serialized member mapping so Cancel can remove
	// the exact member (ZREM requires the member value, not just the ID).
	if err := s.client.Set(ctx, s.memberKey(record.ID), data, 0).Err(); err != nil {
		s.logger.WarnWithContext(ctx, "deliberation_job_index_write_failed", map[string]interface{}{
			"job_id": record.ID,
			"error":  err.Error(),
		})
	}
	return record.ID, nil
}

// Cancel removes the job's member from the sorted set. Cancelling a job
// that has already fired (and been popped by a poller) or that was never
// scheduled is a no-op, matching the at-least-once-delivery / safe-race
// contract the timeout handler relies on.
func (s *JobScheduler) Cancel(ctx context.Context, jobID string) error {
	data, err := s.client.Get(ctx, s.memberKey(jobID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("deliberation: looking up job %s: %w", jobID, err)
	}
	if err := s.client.ZRem(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("deliberation: cancelling job %s: %w", jobID, err)
	}
	s.client.Del(ctx, s.memberKey(jobID))
	return nil
}

func (s *JobScheduler) memberKey(jobID string) string {
	return fmt.Sprintf("%s:member:%s", s.key, jobID)
}

// DueJobs returns every job whose score (fire time) is <= now, for a
// poller to dispatch. It does not remove them; callers remove via Cancel
// (on success) themselves once dispatched, matching at-least-once
// delivery — a crash between DueJobs and the corresponding Cancel
// redelivers the same job on the next poll.
func (s *JobScheduler) DueJobs(ctx context.Context, now time.Time) ([]deliberation.TimeoutJob, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("deliberation: querying due jobs: %w", err)
	}
	jobs := make([]deliberation.TimeoutJob, 0, len(members))
	for _, m := range members {
		var record jobRecord
		if err := json.Unmarshal([]byte(m), &record); err != nil {
			s.logger.ErrorWithContext(ctx, "deliberation_job_decode_failed", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		jobs = append(jobs, deliberation.TimeoutJob{ID: record.ID, Kind: record.Kind, Payload: record.Payload})
	}
	return jobs, nil
}

var _ deliberation.JobScheduler = (*JobScheduler)(nil)
