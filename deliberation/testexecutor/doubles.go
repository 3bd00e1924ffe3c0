package testexecutor

import (
	"context"
	"crypto/sha256"
	"strconv"
	"sync"
	"time"

	"github.com/hoyack/archon72-sub000/deliberation"
)

// WitnessStore is an in-memory deliberation.TranscriptWitnessStore: it
// computes the SHA-256 transcript hash itself on Append, mirroring the
// spec's requirement that the store (not the executor) is the
// hash-of-record.
type WitnessStore struct {
	mu     sync.Mutex
	events []deliberation.PhaseWitnessEvent
}

// NewWitnessStore returns an empty WitnessStore.
func NewWitnessStore() *WitnessStore { return &WitnessStore{} }

func (w *WitnessStore) Append(_ context.Context, sessionID string, phase deliberation.Phase, transcript []byte, participants []deliberation.ArchonID, metadata map[string]interface{}, startedAt, completedAt time.Time) (deliberation.PhaseWitnessEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	hash := sha256.Sum256(transcript)
	event := deliberation.PhaseWitnessEvent{
		Phase:          phase,
		TranscriptHash: hash,
		Participants:   participants,
		StartedAt:      startedAt,
		CompletedAt:    completedAt,
		Metadata:       metadata,
	}
	w.events = append(w.events, event)
	return event, nil
}

// Events returns every witnessed phase in append order.
func (w *WitnessStore) Events() []deliberation.PhaseWitnessEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]deliberation.PhaseWitnessEvent, len(w.events))
	copy(out, w.events)
	return out
}

// EventSink is an in-memory deliberation.EventSink recording every
// published event for test assertions.
type EventSink struct {
	mu     sync.Mutex
	events []deliberation.Event
}

// NewEventSink returns an empty EventSink.
func NewEventSink() *EventSink { return &EventSink{} }

func (s *EventSink) Publish(_ context.Context, event deliberation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns every published event in publish order.
func (s *EventSink) Events() []deliberation.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]deliberation.Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOfType filters Events by EventType().
func (s *EventSink) EventsOfType(eventType string) []deliberation.Event {
	var out []deliberation.Event
	for _, e := range s.Events() {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// JobScheduler is an in-memory deliberation.JobScheduler. Schedule
// allocates a sequential job ID; Cancel marks the job cancelled but keeps
// it recorded so tests can assert on cancellation without a real queue.
type JobScheduler struct {
	mu        sync.Mutex
	nextID    int
	scheduled map[string]bool // jobID -> still pending (true) / cancelled (false)
	fireAt    map[string]time.Time
	kinds     map[string]string
	payloads  map[string]map[string]interface{}
}

// NewJobScheduler returns an empty JobScheduler.
func NewJobScheduler() *JobScheduler {
	return &JobScheduler{
		scheduled: map[string]bool{},
		fireAt:    map[string]time.Time{},
		kinds:     map[string]string{},
		payloads:  map[string]map[string]interface{}{},
	}
}

func (j *JobScheduler) Schedule(_ context.Context, kind string, payload map[string]interface{}, runAt time.Time) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	id := "job-" + strconv.Itoa(j.nextID)
	j.scheduled[id] = true
	j.fireAt[id] = runAt
	j.kinds[id] = kind
	j.payloads[id] = payload
	return id, nil
}

func (j *JobScheduler) Cancel(_ context.Context, jobID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.scheduled[jobID] = false
	return nil
}

// IsPending reports whether jobID was scheduled and not yet cancelled.
func (j *JobScheduler) IsPending(jobID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.scheduled[jobID]
}

// PendingCount returns how many scheduled jobs have not been cancelled.
func (j *JobScheduler) PendingCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, pending := range j.scheduled {
		if pending {
			n++
		}
	}
	return n
}

// ArchonPool is an in-memory deliberation.ArchonPool backed by a fixed
// ordered list of candidates.
type ArchonPool struct {
	candidates []deliberation.ArchonDescriptor
}

// NewArchonPool returns an ArchonPool offering the given candidate IDs, in
// order.
func NewArchonPool(ids ...deliberation.ArchonID) *ArchonPool {
	candidates := make([]deliberation.ArchonDescriptor, len(ids))
	for i, id := range ids {
		candidates[i] = deliberation.ArchonDescriptor{ID: id}
	}
	return &ArchonPool{candidates: candidates}
}

func (p *ArchonPool) ListAll(_ context.Context) ([]deliberation.ArchonDescriptor, error) {
	return p.candidates, nil
}

var (
	_ deliberation.TranscriptWitnessStore = (*WitnessStore)(nil)
	_ deliberation.EventSink              = (*EventSink)(nil)
	_ deliberation.JobScheduler           = (*JobScheduler)(nil)
	_ deliberation.ArchonPool             = (*ArchonPool)(nil)
)
