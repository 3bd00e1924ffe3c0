// Command deliberate is the reference entrypoint: it loads a YAML
// config, wires the deliberation core to either an in-memory demo
// backend or Redis (when REDIS_URL is set), and runs one petition
// through the full ASSESS -> POSITION -> CROSS_EXAMINE -> VOTE ->
// COMPLETE protocol with the deterministic stub executor, printing the
// resulting disposition. It plays the role the teacher's examples/
// directory plays: a runnable demonstration of the wiring, not a
// production service entrypoint (there is no HTTP/gRPC surface here,
// by spec).
package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"gopkg.in/yaml.v3"

	"github.com/hoyack/archon72-sub000/adapters/oteltelemetry"
	"github.com/hoyack/archon72-sub000/adapters/redisrepo"
	"github.com/hoyack/archon72-sub000/adapters/simplelogger"
	"github.com/hoyack/archon72-sub000/deliberation"
)

type fileConfig struct {
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxRounds      int      `yaml:"max_rounds"`
	Archons        []string `yaml:"archons"`
	RedisURL       string   `yaml:"redis_url"`
	OTelEndpoint   string   `yaml:"otel_endpoint"`
	ServiceName    string   `yaml:"service_name"`
	LogLevel       string   `yaml:"log_level"`
}

func loadFileConfig(path string) (fileConfig, error) {
	cfg := fileConfig{
		TimeoutSeconds: 300,
		MaxRounds:      3,
		Archons:        []string{"archon-a", "archon-b", "archon-c", "archon-d"},
		ServiceName:    "archon72-deliberation",
		LogLevel:       "INFO",
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	fcfg, err := loadFileConfig(configPath)
	if err != nil {
		log.Fatalf("deliberate: %v", err)
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		fcfg.RedisURL = url
	}
	if endpoint := os.Getenv("OTEL_ENDPOINT"); endpoint != "" {
		fcfg.OTelEndpoint = endpoint
	}

	logger := simplelogger.New(os.Stdout, simplelogger.ParseLevel(fcfg.LogLevel))

	cfg, err := deliberation.NewConfig(
		deliberation.WithTimeoutSeconds(fcfg.TimeoutSeconds),
		deliberation.WithMaxRounds(fcfg.MaxRounds),
	)
	if err != nil {
		log.Fatalf("deliberate: building config: %v", err)
	}

	var telemetry deliberation.Telemetry = deliberation.NoOpTelemetry{}
	if fcfg.ServiceName != "" {
		t, err := oteltelemetry.New(fcfg.ServiceName, fcfg.OTelEndpoint)
		if err != nil {
			logger.Warn("telemetry_init_failed", map[string]interface{}{"error": err.Error()})
		} else {
			telemetry = t
			defer func() { _ = t.Shutdown(context.Background()) }()
		}
	}

	if len(fcfg.Archons) < deliberation.RequiredArchonCount {
		log.Fatalf("deliberate: config must list at least %d archons, got %d", deliberation.RequiredArchonCount, len(fcfg.Archons))
	}

	archons := make([]deliberation.ArchonDescriptor, 0, len(fcfg.Archons))
	for _, id := range fcfg.Archons {
		archons = append(archons, deliberation.ArchonDescriptor{ID: deliberation.ArchonID(id)})
	}
	pool := staticArchonPool(archons)

	var (
		sessions  deliberation.SessionRepository
		scheduler deliberation.JobScheduler
		witness   deliberation.TranscriptWitnessStore
		events    deliberation.EventSink
	)

	if fcfg.RedisURL != "" {
		opt, err := redis.ParseURL(fcfg.RedisURL)
		if err != nil {
			log.Fatalf("deliberate: parsing redis url: %v", err)
		}
		client := redis.NewClient(opt)

		sessionRepo := redisrepo.NewSessionRepository(client, "deliberation:sessions")
		sessionRepo.SetLogger(logger)
		sessions = sessionRepo

		jobScheduler := redisrepo.NewJobScheduler(client, "deliberation:jobs:due")
		jobScheduler.SetLogger(logger)
		scheduler = jobScheduler

		transcripts := redisrepo.NewTranscriptStore(client, "deliberation:transcripts")
		transcripts.SetLogger(logger)
		witness = transcripts

		events = logEventSink{logger: logger}
	} else {
		sessions = newMemorySessionRepository()
		scheduler = newMemoryJobScheduler()
		witness = newMemoryWitnessStore()
		events = logEventSink{logger: logger}
	}

	timeoutHandler := deliberation.NewTimeoutHandler(scheduler, sessions, events, cfg)
	timeoutHandler.SetLogger(logger)
	timeoutHandler.SetTelemetry(telemetry)

	deadlockHandler := deliberation.NewDeadlockHandler(events)
	deadlockHandler.SetLogger(logger)

	substitutionHandler := deliberation.NewSubstitutionHandler(pool, events)
	substitutionHandler.SetLogger(logger)

	executor := deliberation.NewStubExecutor()

	orchestrator := deliberation.NewOrchestrator(executor, witness, cfg)
	orchestrator.SetTimeoutHandler(timeoutHandler)
	orchestrator.SetDeadlockHandler(deadlockHandler)
	orchestrator.SetSubstitutionHandler(substitutionHandler)
	orchestrator.SetEventSink(events)
	orchestrator.SetLogger(logger)
	orchestrator.SetTelemetry(telemetry)

	now := time.Now().UTC()
	petition := deliberation.PetitionSnapshot{
		ID:            "petition-demo-0001",
		Text:          "Require the parks department to publish a quarterly maintenance schedule.",
		Type:          "policy_change",
		CoSignerCount: 412,
		Realm:         "municipal",
		CreatedAt:     now.Add(-48 * time.Hour),
		Severity:      deliberation.SeverityMedium,
		Signals:       map[string]string{"source": "web_portal"},
	}

	archonIDs := [deliberation.RequiredArchonCount]deliberation.ArchonID{
		deliberation.ArchonID(fcfg.Archons[0]),
		deliberation.ArchonID(fcfg.Archons[1]),
		deliberation.ArchonID(fcfg.Archons[2]),
	}
	session, err := deliberation.NewSession(deliberation.NewSessionID(), petition.ID, archonIDs, now)
	if err != nil {
		log.Fatalf("deliberate: constructing session: %v", err)
	}

	pkg, err := deliberation.BuildContextPackage(petition, session, now)
	if err != nil {
		log.Fatalf("deliberate: building context package: %v", err)
	}

	ctx := context.Background()
	finalSession, result, err := orchestrator.Orchestrate(ctx, session, pkg)
	if err != nil {
		log.Fatalf("deliberate: orchestrate failed: %v", err)
	}

	output := map[string]interface{}{
		"session_id":    finalSession.SessionID,
		"phase":         finalSession.Phase,
		"outcome":       result.Outcome,
		"votes":         result.Votes,
		"is_deadlocked": finalSession.IsDeadlocked,
		"is_aborted":    finalSession.IsAborted,
		"round_count":   finalSession.RoundCount,
	}
	if result.Outcome != nil {
		if state, ok := deliberation.PetitionStateFor(*result.Outcome); ok {
			output["petition_state"] = state
		}
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		log.Fatalf("deliberate: encoding result: %v", err)
	}
	fmt.Println(string(encoded))
}

// staticArchonPool implements deliberation.ArchonPool over the fixed list
// read from config — "no availability tracking required" per the
// substitution handler's port contract.
type staticArchonPool []deliberation.ArchonDescriptor

func (p staticArchonPool) ListAll(ctx context.Context) ([]deliberation.ArchonDescriptor, error) {
	return p, nil
}

// logEventSink publishes every domain event as a structured log line —
// the simplest EventSink that satisfies the port without a real message
// bus.
type logEventSink struct {
	logger deliberation.Logger
}

func (s logEventSink) Publish(ctx context.Context, event deliberation.Event) error {
	s.logger.InfoWithContext(ctx, event.EventType(), event.ToMap())
	return nil
}

// memorySessionRepository is an in-process deliberation.SessionRepository
// for the no-Redis demo path: a mutex-guarded map keyed by session ID,
// version-checked on every write exactly like redisrepo's CAS script.
type memorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]deliberation.Session
}

func newMemorySessionRepository() *memorySessionRepository {
	return &memorySessionRepository{sessions: make(map[string]deliberation.Session)}
}

func (r *memorySessionRepository) Get(ctx context.Context, sessionID string) (deliberation.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return deliberation.Session{}, &deliberation.SessionNotFoundError{SessionID: sessionID}
	}
	return s, nil
}

func (r *memorySessionRepository) CompareAndSwap(ctx context.Context, expectedVersion int, next deliberation.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.sessions[next.SessionID]
	if !exists {
		if expectedVersion != 0 {
			return &deliberation.SessionNotFoundError{SessionID: next.SessionID}
		}
	} else if current.Version != expectedVersion {
		return fmt.Errorf("deliberation: session %s version conflict (have %d, expected %d)", next.SessionID, current.Version, expectedVersion)
	}
	r.sessions[next.SessionID] = next
	return nil
}

// memoryJobScheduler is an in-process deliberation.JobScheduler. Jobs are
// tracked but never fire on their own — there is no background poller in
// this demo binary, matching the fact that timeout firing is an external
// concern this package only schedules against.
type memoryJobScheduler struct {
	mu   sync.Mutex
	jobs map[string]bool
}

func newMemoryJobScheduler() *memoryJobScheduler {
	return &memoryJobScheduler{jobs: make(map[string]bool)}
}

func (s *memoryJobScheduler) Schedule(ctx context.Context, kind string, payload map[string]interface{}, runAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := deliberation.NewSessionID()
	s.jobs[id] = true
	return id, nil
}

func (s *memoryJobScheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

// memoryWitnessStore is an in-process deliberation.TranscriptWitnessStore,
// hashing transcripts the same way redisrepo.TranscriptStore does.
type memoryWitnessStore struct {
	mu     sync.Mutex
	events []deliberation.PhaseWitnessEvent
}

func newMemoryWitnessStore() *memoryWitnessStore {
	return &memoryWitnessStore{}
}

func (w *memoryWitnessStore) Append(ctx context.Context, sessionID string, phase deliberation.Phase, transcript []byte, participants []deliberation.ArchonID, metadata map[string]interface{}, startedAt, completedAt time.Time) (deliberation.PhaseWitnessEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	event := deliberation.PhaseWitnessEvent{
		Phase:          phase,
		TranscriptHash: sha256.Sum256(transcript),
		Participants:   participants,
		StartedAt:      startedAt,
		CompletedAt:    completedAt,
		Metadata:       metadata,
	}
	w.events = append(w.events, event)
	return event, nil
}
