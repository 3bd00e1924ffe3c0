package deliberation

import (
	"fmt"
	"testing"
)

func TestClassifyFailureReason(t *testing.T) {
	tests := []struct {
		name     string
		reason   string
		expected string
	}{
		{"explicit timeout", "request timeout after 30s", FailureResponseTimeout},
		{"timed out phrasing", "archon timed out waiting for response", FailureResponseTimeout},
		{"invalid response", "invalid JSON in response body", FailureInvalidResponse},
		{"parse failure", "failed to parse archon output", FailureInvalidResponse},
		{"anything else", "connection reset by peer", FailureAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyFailureReason(tt.reason); got != tt.expected {
				t.Errorf("ClassifyFailureReason(%q) = %q, want %q", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"consensus not reached is recoverable", &ConsensusNotReachedError{}, true},
		{"phase execution failure is recoverable", &PhaseExecutionError{}, true},
		{"wrapped recoverable error is recoverable", fmt.Errorf("context: %w", &ConsensusNotReachedError{}), true},
		{"already complete is not recoverable", &SessionAlreadyCompleteError{}, false},
		{"session not found is not recoverable", &SessionNotFoundError{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.expected {
				t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(&SessionAlreadyCompleteError{SessionID: "s1"}) {
		t.Error("expected SessionAlreadyCompleteError to be terminal")
	}
	if IsTerminal(&SessionNotFoundError{SessionID: "s1"}) {
		t.Error("expected SessionNotFoundError not to be terminal")
	}
}

func TestIsProgrammingError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"invalid phase transition", &InvalidPhaseTransitionError{}, true},
		{"invalid archon assignment", &InvalidArchonAssignmentError{}, true},
		{"petition session mismatch", &PetitionSessionMismatchError{}, true},
		{"consensus not reached is not a programming error", &ConsensusNotReachedError{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProgrammingError(tt.err); got != tt.expected {
				t.Errorf("IsProgrammingError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestPhaseExecutionErrorHasArchon(t *testing.T) {
	withArchon := &PhaseExecutionError{Phase: PhaseAssess, Reason: "boom", ArchonID: "archon-a"}
	if !withArchon.HasArchon() {
		t.Error("expected HasArchon to be true when ArchonID is set")
	}

	withoutArchon := &PhaseExecutionError{Phase: PhaseAssess, Reason: "boom"}
	if withoutArchon.HasArchon() {
		t.Error("expected HasArchon to be false when ArchonID is empty")
	}
}
