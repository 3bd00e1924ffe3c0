package deliberation

import "testing"

func TestPetitionStateFor(t *testing.T) {
	tests := []struct {
		name        string
		disposition Disposition
		want        PetitionState
		ok          bool
	}{
		{"acknowledge maps to acknowledged", DispositionAcknowledge, PetitionStateAcknowledged, true},
		{"refer maps to referred", DispositionRefer, PetitionStateReferred, true},
		{"escalate maps to escalated", DispositionEscalate, PetitionStateEscalated, true},
		{"unknown disposition has no mapping", Disposition("NOT_A_REAL_DISPOSITION"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PetitionStateFor(tt.disposition)
			if ok != tt.ok {
				t.Fatalf("PetitionStateFor(%q) ok = %v, want %v", tt.disposition, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("PetitionStateFor(%q) = %q, want %q", tt.disposition, got, tt.want)
			}
		})
	}
}
