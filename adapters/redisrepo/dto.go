// Package redisrepo adapts the deliberation package's persistence and
// job-queue ports onto Redis, in the same style as the teacher's
// core.RedisClient / orchestration.RedisTaskQueue: a thin, namespaced
// wrapper around github.com/go-redis/redis/v8 with JSON payloads and
// retry-wrapped session writes.
package redisrepo

import (
	"encoding/hex"
	"time"

	"github.com/hoyack/archon72-sub000/deliberation"
)

// sessionDTO is the JSON-on-the-wire shape of a deliberation.Session.
// Session's byte-array map keys and Phase-typed keys need explicit
// string/hex conversion since encoding/json cannot marshal a
// map[deliberation.Phase][32]byte or non-string map key directly into the
// form we want to keep stable across schema changes.
type sessionDTO struct {
	SessionID       string                       `json:"session_id"`
	PetitionID      string                       `json:"petition_id"`
	AssignedArchons [3]string                    `json:"assigned_archons"`
	Phase           string                       `json:"phase"`
	PhaseTranscripts map[string]string           `json:"phase_transcripts"` // phase -> hex hash
	Votes           map[string]string            `json:"votes"`             // archon_id -> disposition
	Outcome         *string                      `json:"outcome"`
	DissentArchonID *string                      `json:"dissent_archon_id"`
	RoundCount      int                          `json:"round_count"`
	VotesByRound    []map[string]int             `json:"votes_by_round"`
	IsDeadlocked    bool                         `json:"is_deadlocked"`
	DeadlockReason  string                       `json:"deadlock_reason"`
	TimedOut        bool                         `json:"timed_out"`
	TimeoutJobID    string                       `json:"timeout_job_id"`
	TimeoutAt       *time.Time                   `json:"timeout_at"`
	Substitutions   []substitutionDTO            `json:"substitutions"`
	IsAborted       bool                         `json:"is_aborted"`
	AbortReason     string                       `json:"abort_reason"`
	Version         int                          `json:"version"`
	CreatedAt       time.Time                    `json:"created_at"`
	CompletedAt     *time.Time                   `json:"completed_at"`
}

type substitutionDTO struct {
	FailedArchonID     string    `json:"failed_archon_id"`
	SubstituteArchonID string    `json:"substitute_archon_id"`
	PhaseAtFailure     string    `json:"phase_at_failure"`
	FailureReason      string    `json:"failure_reason"`
	SubstitutedAt      time.Time `json:"substituted_at"`
}

func toDTO(s deliberation.Session) sessionDTO {
	dto := sessionDTO{
		SessionID:      s.SessionID,
		PetitionID:     s.PetitionID,
		Phase:          string(s.Phase),
		RoundCount:     s.RoundCount,
		IsDeadlocked:   s.IsDeadlocked,
		DeadlockReason: s.DeadlockReason,
		TimedOut:       s.TimedOut,
		TimeoutJobID:   s.TimeoutJobID,
		TimeoutAt:      s.TimeoutAt,
		IsAborted:      s.IsAborted,
		AbortReason:    s.AbortReason,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		CompletedAt:    s.CompletedAt,
	}
	for i, a := range s.AssignedArchons {
		dto.AssignedArchons[i] = string(a)
	}
	dto.PhaseTranscripts = make(map[string]string, len(s.PhaseTranscripts))
	for phase, hash := range s.PhaseTranscripts {
		dto.PhaseTranscripts[string(phase)] = hashToHex(hash)
	}
	dto.Votes = make(map[string]string, len(s.Votes))
	for archon, d := range s.Votes {
		dto.Votes[string(archon)] = string(d)
	}
	if s.Outcome != nil {
		v := string(*s.Outcome)
		dto.Outcome = &v
	}
	if s.DissentArchonID != nil {
		v := string(*s.DissentArchonID)
		dto.DissentArchonID = &v
	}
	for _, dist := range s.VotesByRound {
		m := make(map[string]int, len(dist))
		for d, count := range dist {
			m[string(d)] = count
		}
		dto.VotesByRound = append(dto.VotesByRound, m)
	}
	for _, sub := range s.Substitutions {
		dto.Substitutions = append(dto.Substitutions, substitutionDTO{
			FailedArchonID:     string(sub.FailedArchonID),
			SubstituteArchonID: string(sub.SubstituteArchonID),
			PhaseAtFailure:     string(sub.PhaseAtFailure),
			FailureReason:      sub.FailureReason,
			SubstitutedAt:      sub.SubstitutedAt,
		})
	}
	return dto
}

func fromDTO(dto sessionDTO) deliberation.Session {
	s := deliberation.Session{
		SessionID:      dto.SessionID,
		PetitionID:     dto.PetitionID,
		Phase:          deliberation.Phase(dto.Phase),
		RoundCount:     dto.RoundCount,
		IsDeadlocked:   dto.IsDeadlocked,
		DeadlockReason: dto.DeadlockReason,
		TimedOut:       dto.TimedOut,
		TimeoutJobID:   dto.TimeoutJobID,
		TimeoutAt:      dto.TimeoutAt,
		IsAborted:      dto.IsAborted,
		AbortReason:    dto.AbortReason,
		Version:        dto.Version,
		CreatedAt:      dto.CreatedAt,
		CompletedAt:    dto.CompletedAt,
	}
	for i, a := range dto.AssignedArchons {
		s.AssignedArchons[i] = deliberation.ArchonID(a)
	}
	s.PhaseTranscripts = make(map[deliberation.Phase][32]byte, len(dto.PhaseTranscripts))
	for phase, hex := range dto.PhaseTranscripts {
		s.PhaseTranscripts[deliberation.Phase(phase)] = hashFromHex(hex)
	}
	s.Votes = make(map[deliberation.ArchonID]deliberation.Disposition, len(dto.Votes))
	for archon, d := range dto.Votes {
		s.Votes[deliberation.ArchonID(archon)] = deliberation.Disposition(d)
	}
	if dto.Outcome != nil {
		v := deliberation.Disposition(*dto.Outcome)
		s.Outcome = &v
	}
	if dto.DissentArchonID != nil {
		v := deliberation.ArchonID(*dto.DissentArchonID)
		s.DissentArchonID = &v
	}
	for _, m := range dto.VotesByRound {
		dist := make(map[deliberation.Disposition]int, len(m))
		for d, count := range m {
			dist[deliberation.Disposition(d)] = count
		}
		s.VotesByRound = append(s.VotesByRound, dist)
	}
	for _, sub := range dto.Substitutions {
		s.Substitutions = append(s.Substitutions, deliberation.Substitution{
			FailedArchonID:     deliberation.ArchonID(sub.FailedArchonID),
			SubstituteArchonID: deliberation.ArchonID(sub.SubstituteArchonID),
			PhaseAtFailure:     deliberation.Phase(sub.PhaseAtFailure),
			FailureReason:      sub.FailureReason,
			SubstitutedAt:      sub.SubstitutedAt,
		})
	}
	return s
}

func hashToHex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

func hashFromHex(s string) [32]byte {
	var out [32]byte
	decoded, err := hex.DecodeString(s)
	if err != nil || len(decoded) != 32 {
		return out
	}
	copy(out[:], decoded)
	return out
}
