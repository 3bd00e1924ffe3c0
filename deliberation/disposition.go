package deliberation

// Disposition is a terminal adjudication outcome.
type Disposition string

const (
	DispositionAcknowledge Disposition = "ACKNOWLEDGE"
	DispositionRefer       Disposition = "REFER"
	DispositionEscalate    Disposition = "ESCALATE"
)

func (d Disposition) valid() bool {
	switch d {
	case DispositionAcknowledge, DispositionRefer, DispositionEscalate:
		return true
	default:
		return false
	}
}

// ArchonID identifies one language-model agent participating in a session.
type ArchonID string

const (
	// ConsensusThreshold is the supermajority size required to resolve an outcome.
	ConsensusThreshold = 2
	// RequiredArchonCount is the fixed panel size for any deliberation.
	RequiredArchonCount = 3
	// DefaultMaxRounds is the default cross-examine/vote round ceiling.
	DefaultMaxRounds = 3
	// MaxSubstitutionsPerSession is a fixed, non-configurable cap (see
	// DESIGN.md open-question decision 1): the source system shadows its
	// configured max_substitutions with this constant, and this spec
	// adopts the constant rather than exposing it as a config field.
	MaxSubstitutionsPerSession = 1
	// MaxSubstitutionLatencyMS is the SLA threshold used only for
	// reporting met_sla on a SubstitutionResult; it never blocks a
	// substitution from completing.
	MaxSubstitutionLatencyMS = 10_000
)

// Failure-reason classification for phase-execution failures (§4.3).
const (
	FailureResponseTimeout = "RESPONSE_TIMEOUT"
	FailureAPIError        = "API_ERROR"
	FailureInvalidResponse = "INVALID_RESPONSE"
)

// Abort reasons (§4.1 force_abort).
const (
	AbortInsufficientArchons = "INSUFFICIENT_ARCHONS"
	AbortArchonPoolExhausted = "ARCHON_POOL_EXHAUSTED"
)

// DeadlockReasonMaxRoundsExceeded is the sole deadlock_reason value C5 sets.
const DeadlockReasonMaxRoundsExceeded = "DEADLOCK_MAX_ROUNDS_EXCEEDED"
