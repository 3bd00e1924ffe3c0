package deliberation

import "testing"

func TestPhaseNext(t *testing.T) {
	tests := []struct {
		phase    Phase
		want     Phase
		wantOK   bool
	}{
		{PhaseAssess, PhasePosition, true},
		{PhasePosition, PhaseCrossExamine, true},
		{PhaseCrossExamine, PhaseVote, true},
		{PhaseVote, PhaseComplete, true},
		{PhaseComplete, "", false},
	}
	for _, tt := range tests {
		got, ok := tt.phase.Next()
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("%s.Next() = (%s, %v), want (%s, %v)", tt.phase, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestPhaseIsTerminal(t *testing.T) {
	if !PhaseComplete.IsTerminal() {
		t.Error("expected COMPLETE to be terminal")
	}
	for _, p := range []Phase{PhaseAssess, PhasePosition, PhaseCrossExamine, PhaseVote} {
		if p.IsTerminal() {
			t.Errorf("expected %s not to be terminal", p)
		}
	}
}

func TestPhaseValid(t *testing.T) {
	for _, p := range []Phase{PhaseAssess, PhasePosition, PhaseCrossExamine, PhaseVote, PhaseComplete} {
		if !p.valid() {
			t.Errorf("expected %s to be valid", p)
		}
	}
	if Phase("NOT_A_PHASE").valid() {
		t.Error("expected an unrecognized phase string to be invalid")
	}
}
