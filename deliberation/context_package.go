package deliberation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ContextPackageSchemaVersion is fixed per spec §6.3.
const ContextPackageSchemaVersion = "1.1.0"

// Severity is a coarse triage tier attached to a context package.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// PetitionSnapshot is the read-only view of a petition the context package
// builder consumes. It is supplied by the (out-of-scope) petition
// repository; this package never writes it back.
type PetitionSnapshot struct {
	ID             string
	Text           string
	Type           string
	CoSignerCount  int
	SubmitterID    string // empty if anonymous
	Realm          string
	CreatedAt      time.Time
	Severity       Severity
	Signals        map[string]string
}

// ContextPackage is the immutable, content-hashed bundle the phase
// executor receives as deliberation input.
type ContextPackage struct {
	PetitionID        string
	PetitionText      string
	PetitionType      string
	CoSignerCount     int
	SubmitterID       string
	Realm             string
	SubmittedAt       time.Time
	SessionID         string
	AssignedArchons   [RequiredArchonCount]ArchonID
	SimilarPetitions  []string // always empty; similarity search is deferred (spec Non-goals)
	Ruling3Deferred   bool
	Severity          Severity
	Signals           map[string]string
	SchemaVersion     string
	BuiltAt           time.Time
	ContentHash       string // 64-char lowercase hex
}

// BuildContextPackage assembles and content-hashes a package for one
// deliberation. now supplies the single wall-clock source for BuiltAt so
// repeated calls within a test can control determinism.
func BuildContextPackage(petition PetitionSnapshot, session Session, now time.Time) (ContextPackage, error) {
	if session.PetitionID != petition.ID {
		return ContextPackage{}, &PetitionSessionMismatchError{
			PetitionID:        petition.ID,
			SessionPetitionID: session.PetitionID,
		}
	}

	builtAt := now
	hashable := map[string]interface{}{
		"petition_id":        petition.ID,
		"petition_text":      petition.Text,
		"petition_type":      petition.Type,
		"co_signer_count":    petition.CoSignerCount,
		"submitter_id":       nullableString(petition.SubmitterID),
		"realm":              petition.Realm,
		"submitted_at":       petition.CreatedAt.Format(time.RFC3339Nano),
		"session_id":         session.SessionID,
		"assigned_archons":   archonArrayToStrings(session.AssignedArchons),
		"similar_petitions":  []string{},
		"ruling_3_deferred":  true,
		"severity":           string(petition.Severity),
		"signals":            petition.Signals,
		"schema_version":     ContextPackageSchemaVersion,
		"built_at":           builtAt.Format(time.RFC3339Nano),
	}

	hash, err := canonicalHash(hashable)
	if err != nil {
		return ContextPackage{}, fmt.Errorf("deliberation: hashing context package: %w", err)
	}

	return ContextPackage{
		PetitionID:       petition.ID,
		PetitionText:     petition.Text,
		PetitionType:     petition.Type,
		CoSignerCount:    petition.CoSignerCount,
		SubmitterID:      petition.SubmitterID,
		Realm:            petition.Realm,
		SubmittedAt:      petition.CreatedAt,
		SessionID:        session.SessionID,
		AssignedArchons:  session.AssignedArchons,
		SimilarPetitions: []string{},
		Ruling3Deferred:  true,
		Severity:         petition.Severity,
		Signals:          petition.Signals,
		SchemaVersion:    ContextPackageSchemaVersion,
		BuiltAt:          builtAt,
		ContentHash:      hash,
	}, nil
}

// VerifyHash recomputes the content hash from pkg's fields and reports
// whether it equals ContentHash — the round-trip law of spec §8 (H).
func (pkg ContextPackage) VerifyHash() (bool, error) {
	hashable := map[string]interface{}{
		"petition_id":       pkg.PetitionID,
		"petition_text":     pkg.PetitionText,
		"petition_type":     pkg.PetitionType,
		"co_signer_count":   pkg.CoSignerCount,
		"submitter_id":      nullableString(pkg.SubmitterID),
		"realm":             pkg.Realm,
		"submitted_at":      pkg.SubmittedAt.Format(time.RFC3339Nano),
		"session_id":        pkg.SessionID,
		"assigned_archons":  archonArrayToStrings(pkg.AssignedArchons),
		"similar_petitions": []string{},
		"ruling_3_deferred": true,
		"severity":          string(pkg.Severity),
		"signals":           pkg.Signals,
		"schema_version":    pkg.SchemaVersion,
		"built_at":          pkg.BuiltAt.Format(time.RFC3339Nano),
	}
	hash, err := canonicalHash(hashable)
	if err != nil {
		return false, err
	}
	return hash == pkg.ContentHash, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// canonicalHash renders v as canonical JSON (UTF-8, keys sorted
// lexicographically at every depth, no insignificant whitespace) and
// returns the lowercase hex SHA-256 digest.
func canonicalHash(v interface{}) (string, error) {
	canonical, err := canonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-marshals v through a generic interface{} round-trip so
// map keys at every depth are sorted (encoding/json already sorts
// map[string]interface{} keys at the top level it is invoked on, but
// nested maps embedded as interface{} values are sorted independently by
// the same marshaler on each recursive call it makes internally).
func canonicalJSON(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalize converts v into a form encoding/json renders canonically:
// maps become map[string]interface{} (json.Marshal already sorts these by
// key), everything else passes through unchanged after a marshal/unmarshal
// round trip so custom types collapse to their JSON primitive shape.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
