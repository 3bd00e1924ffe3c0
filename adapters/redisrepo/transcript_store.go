package redisrepo

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hoyack/archon72-sub000/deliberation"
)

// TranscriptStore implements deliberation.TranscriptWitnessStore as a
// Redis stream (XADD), one stream per session: streams are Redis's
// native append-only primitive, a closer fit for "content-addressed
// append-only transcript" (spec §4.7) than the list/sorted-set
// primitives the teacher's task queue uses elsewhere. The stream entry
// carries the transcript bytes so the hash below is always recomputed
// from the same bytes a reader would see, not trusted from the caller.
type TranscriptStore struct {
	client *redis.Client
	prefix string
	logger deliberation.Logger
}

// NewTranscriptStore constructs a TranscriptStore; prefix namespaces the
// per-session stream keys (e.g. "deliberation:transcripts").
func NewTranscriptStore(client *redis.Client, prefix string) *TranscriptStore {
	return &TranscriptStore{client: client, prefix: prefix, logger: deliberation.NoOpLogger{}}
}

// SetLogger wires a structured logger.
func (t *TranscriptStore) SetLogger(logger deliberation.Logger) { t.logger = logger }

func (t *TranscriptStore) streamKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", t.prefix, sessionID)
}

// Append computes the SHA-256 of transcript, appends it to the session's
// stream, and returns the resulting PhaseWitnessEvent — the session
// aggregate is only ever updated with this store-computed hash, never
// with a hash an executor self-reports (§4.7).
func (t *TranscriptStore) Append(ctx context.Context, sessionID string, phase deliberation.Phase, transcript []byte, participants []deliberation.ArchonID, metadata map[string]interface{}, startedAt, completedAt time.Time) (deliberation.PhaseWitnessEvent, error) {
	hash := sha256.Sum256(transcript)
	hashHex := hashToHex(hash)
	participantStrs := make([]string, len(participants))
	for i, id := range participants {
		participantStrs[i] = string(id)
	}

	_, err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.streamKey(sessionID),
		Values: map[string]interface{}{
			"phase":           string(phase),
			"transcript":      string(transcript),
			"transcript_hash": hashHex,
			"participants":    strings.Join(participantStrs, ","),
			"started_at":      startedAt.Format(time.RFC3339Nano),
			"completed_at":    completedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		t.logger.ErrorWithContext(ctx, "deliberation_transcript_append_failed", map[string]interface{}{
			"session_id": sessionID,
			"phase":      string(phase),
			"error":      err.Error(),
		})
		return deliberation.PhaseWitnessEvent{}, fmt.Errorf("deliberation: appending transcript for session %s phase %s: %w", sessionID, phase, err)
	}

	return deliberation.PhaseWitnessEvent{
		Phase:          phase,
		TranscriptHash: hash,
		Participants:   participants,
		StartedAt:      startedAt,
		CompletedAt:    completedAt,
		Metadata:       metadata,
	}, nil
}

var _ deliberation.TranscriptWitnessStore = (*TranscriptStore)(nil)
