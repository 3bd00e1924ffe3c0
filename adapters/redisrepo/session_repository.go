package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"

	"github.com/hoyack/archon72-sub000/deliberation"
)

// casScript is the optimistic-concurrency primitive (spec §5: "repository
// MUST provide compare-and-swap on version"): it only writes the new
// session value if the stored version still matches expectedVersion,
// atomically, so a racing writer loses cleanly instead of clobbering.
const casScript = `
local current = redis.call("GET", KEYS[1])
if current == false then
  if tonumber(ARGV[1]) ~= 0 then
    return redis.error_reply("NOTFOUND")
  end
else
  local decoded = cjson.decode(current)
  if tonumber(decoded.version) ~= tonumber(ARGV[1]) then
    return redis.error_reply("CONFLICT")
  end
end
redis.call("SET", KEYS[1], ARGV[2])
return redis.status_reply("OK")
`

// SessionRepository implements deliberation.SessionRepository over a
// single Redis string key per session, JSON-encoded, with version-gated
// writes enforced by casScript. Grounded on core.RedisClient's
// DB-isolation/namespacing shape and orchestration.RedisTaskQueue's
// retry-wrapped write idiom.
type SessionRepository struct {
	client    *redis.Client
	namespace string
	logger    deliberation.Logger
	retry     backoff.BackOff
}

// NewSessionRepository constructs a SessionRepository. namespace prefixes
// every key (e.g. "deliberation:sessions"); an empty namespace is legal
// but not recommended outside tests.
func NewSessionRepository(client *redis.Client, namespace string) *SessionRepository {
	return &SessionRepository{
		client:    client,
		namespace: namespace,
		logger:    deliberation.NoOpLogger{},
		retry:     backoff.NewExponentialBackOff(),
	}
}

// SetLogger wires a structured logger.
func (r *SessionRepository) SetLogger(logger deliberation.Logger) { r.logger = logger }

func (r *SessionRepository) key(sessionID string) string {
	if r.namespace == "" {
		return sessionID
	}
	return fmt.Sprintf("%s:%s", r.namespace, sessionID)
}

// Get loads and decodes a session. It returns
// *deliberation.SessionNotFoundError if no value is stored under the key.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (deliberation.Session, error) {
	raw, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return deliberation.Session{}, &deliberation.SessionNotFoundError{SessionID: sessionID}
	}
	if err != nil {
		return deliberation.Session{}, fmt.Errorf("deliberation: redis get session %s: %w", sessionID, err)
	}
	var dto sessionDTO
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		return deliberation.Session{}, fmt.Errorf("deliberation: decoding session %s: %w", sessionID, err)
	}
	return fromDTO(dto), nil
}

// Put writes the initial version of a brand-new session (expectedVersion
// 0 means "key must not already exist"). Most callers reach CompareAndSwap
// instead; Put exists for session creation, where there is no prior
// version to compare against.
func (r *SessionRepository) Put(ctx context.Context, session deliberation.Session) error {
	return r.casWrite(ctx, session, 0)
}

// CompareAndSwap persists next only if the stored session's version still
// equals expectedVersion.
func (r *SessionRepository) CompareAndSwap(ctx context.Context, expectedVersion int, next deliberation.Session) error {
	return r.casWrite(ctx, next, expectedVersion)
}

func (r *SessionRepository) casWrite(ctx context.Context, session deliberation.Session, expectedVersion int) error {
	payload, err := json.Marshal(toDTO(session))
	if err != nil {
		return fmt.Errorf("deliberation: encoding session %s: %w", session.SessionID, err)
	}

	operation := func() (struct{}, error) {
		err := r.client.Eval(ctx, casScript, []string{r.key(session.SessionID)}, expectedVersion, payload).Err()
		if err == nil {
			return struct{}{}, nil
		}
		if isPermanentCASError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err = backoff.Retry(ctx, operation, backoff.WithBackOff(r.retry), backoff.WithMaxTries(3))
	if err != nil {
		if unwrapPermanent(err) != nil {
			return mapCASError(err, session.SessionID)
		}
		r.logger.ErrorWithContext(ctx, "deliberation_session_cas_failed", map[string]interface{}{
			"session_id": session.SessionID,
			"error":      err.Error(),
		})
		return fmt.Errorf("deliberation: redis CAS write for session %s: %w", session.SessionID, err)
	}
	return nil
}

func isPermanentCASError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NOTFOUND") || strings.Contains(msg, "CONFLICT")
}

func mapCASError(err error, sessionID string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NOTFOUND"):
		return &deliberation.SessionNotFoundError{SessionID: sessionID}
	case strings.Contains(msg, "CONFLICT"):
		return fmt.Errorf("deliberation: session %s version conflict (concurrent writer won the race)", sessionID)
	default:
		return err
	}
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return nil
}

var _ deliberation.SessionRepository = (*SessionRepository)(nil)
