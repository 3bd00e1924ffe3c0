package deliberation

// Phase is one step in the fixed four-phase adjudication protocol.
type Phase string

const (
	PhaseAssess       Phase = "ASSESS"
	PhasePosition     Phase = "POSITION"
	PhaseCrossExamine Phase = "CROSS_EXAMINE"
	PhaseVote         Phase = "VOTE"
	PhaseComplete     Phase = "COMPLETE"
)

// phaseTransitionMatrix is the single successor function for Phase. Only
// COMPLETE has no successor. The deadlock handler is the sole caller
// permitted to move VOTE back to CROSS_EXAMINE; that transition does not
// go through Next/AdvancePhase and is handled explicitly by
// Session.BeginNewRound.
var phaseTransitionMatrix = map[Phase]Phase{
	PhaseAssess:       PhasePosition,
	PhasePosition:     PhaseCrossExamine,
	PhaseCrossExamine: PhaseVote,
	PhaseVote:         PhaseComplete,
}

// IsTerminal reports whether no further phase transitions are legal.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete
}

// Next returns the phase that monotonically follows p, if any.
func (p Phase) Next() (Phase, bool) {
	next, ok := phaseTransitionMatrix[p]
	return next, ok
}

func (p Phase) valid() bool {
	switch p {
	case PhaseAssess, PhasePosition, PhaseCrossExamine, PhaseVote, PhaseComplete:
		return true
	default:
		return false
	}
}
