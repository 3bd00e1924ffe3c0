package deliberation

import "github.com/google/uuid"

// newID returns a time-ordered unique identifier. Session, event, and job
// identifiers throughout this package use UUIDv7 so that lexicographic and
// creation-time ordering coincide, matching the source system's use of
// uuid7 for the same fields.
func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// NewSessionID returns a time-ordered unique identifier suitable for a
// session_id, exported for callers outside this package (adapters, the
// reference binary) that need to mint IDs with the same scheme this
// package uses internally for events and jobs.
func NewSessionID() string {
	return newID()
}
