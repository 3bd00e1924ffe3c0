package deliberation

import (
	"context"
	"sort"
	"time"
)

// ContextHandoff is the bundle the substitution handler prepares when an
// archon is replaced: the transcript hashes recorded so far (ordered by
// phase), the votes recorded so far, and the current round count. Execute
// uses it only to fill ArchonSubstitutedEvent.TranscriptPagesProvided; it
// is not passed to the PhaseExecutor, whose methods take no handoff
// parameter.
type ContextHandoff struct {
	SessionID       string
	PetitionID      string
	CurrentPhase    Phase
	TranscriptPages [][32]byte
	PreviousVotes   map[ArchonID]Disposition
	RoundCount      int
}

// SubstitutionResult is what SubstitutionHandler.Execute returns.
type SubstitutionResult struct {
	Success          bool
	Session          Session
	Event            Event // ArchonSubstitutedEvent on success, DeliberationAbortedEvent on abort
	SubstituteArchon ArchonID
	LatencyMS        int64
	MetSLA           bool
}

// SubstitutionHandler wraps phase-execution failures attributable to a
// single archon (C6): it selects a replacement from the pool, hands off
// prior context, and records the substitution — or, if it cannot
// continue, aborts the deliberation to ESCALATE. It never retries by
// itself; the orchestrator retries the same phase once with the updated
// session.
type SubstitutionHandler struct {
	pool   ArchonPool
	sink   EventSink
	logger Logger
	now    func() time.Time
}

// NewSubstitutionHandler constructs a SubstitutionHandler. pool may be nil
// — Select then always reports no candidate, which is indistinguishable
// from (and handled the same as) a genuinely exhausted pool.
func NewSubstitutionHandler(pool ArchonPool, sink EventSink) *SubstitutionHandler {
	return &SubstitutionHandler{pool: pool, sink: sink, logger: NoOpLogger{}, now: time.Now}
}

// SetLogger wires a structured logger.
func (h *SubstitutionHandler) SetLogger(logger Logger) { h.logger = logger }

// Detect reports whether a failure is eligible for substitution: the
// session must be non-terminal, archonID must be part of the current
// active panel, and reasonCode must be one of the three recognized codes.
func (h *SubstitutionHandler) Detect(session Session, archonID ArchonID, reasonCode string) bool {
	if session.Phase.IsTerminal() {
		return false
	}
	if !containsArchon(session.CurrentActiveArchons(), archonID) {
		return false
	}
	switch reasonCode {
	case FailureResponseTimeout, FailureAPIError, FailureInvalidResponse:
		return true
	default:
		return false
	}
}

// CanSubstitute reports whether the session is still under the
// substitution cap.
func (h *SubstitutionHandler) CanSubstitute(session Session) bool {
	return len(session.Substitutions) < MaxSubstitutionsPerSession
}

// Select consults the archon pool and returns the first entry whose
// identifier is not currently active, not the failed archon, and not any
// prior failed archon. It returns ("", false) if the pool is nil or
// exhausted.
func (h *SubstitutionHandler) Select(ctx context.Context, session Session, failedID ArchonID) (ArchonID, bool) {
	if h.pool == nil {
		return "", false
	}
	candidates, err := h.pool.ListAll(ctx)
	if err != nil {
		return "", false
	}
	excluded := map[ArchonID]struct{}{failedID: {}}
	for _, a := range session.CurrentActiveArchons() {
		excluded[a] = struct{}{}
	}
	for _, sub := range session.Substitutions {
		excluded[sub.FailedArchonID] = struct{}{}
	}
	for _, candidate := range candidates {
		if _, skip := excluded[candidate.ID]; !skip {
			return candidate.ID, true
		}
	}
	return "", false
}

// PrepareHandoff collects the phase transcript hashes ordered by phase,
// the votes recorded so far, and the current round count.
func (h *SubstitutionHandler) PrepareHandoff(session Session, failedID ArchonID) ContextHandoff {
	phases := make([]Phase, 0, len(session.PhaseTranscripts))
	for p := range session.PhaseTranscripts {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phaseOrder(phases[i]) < phaseOrder(phases[j]) })

	pages := make([][32]byte, 0, len(phases))
	for _, p := range phases {
		pages = append(pages, session.PhaseTranscripts[p])
	}

	votes := make(map[ArchonID]Disposition, len(session.Votes))
	for k, v := range session.Votes {
		votes[k] = v
	}

	return ContextHandoff{
		SessionID:       session.SessionID,
		PetitionID:      session.PetitionID,
		CurrentPhase:    session.Phase,
		TranscriptPages: pages,
		PreviousVotes:   votes,
		RoundCount:      session.RoundCount,
	}
}

func phaseOrder(p Phase) int {
	switch p {
	case PhaseAssess:
		return 0
	case PhasePosition:
		return 1
	case PhaseCrossExamine:
		return 2
	case PhaseVote:
		return 3
	default:
		return 4
	}
}

// Execute is the composite operation the orchestrator calls on a
// phase-execution failure carrying an archon identifier: detect, select a
// substitute, apply the substitution, and emit an ArchonSubstituted event
// — or abort if substitution is not possible.
func (h *SubstitutionHandler) Execute(ctx context.Context, session Session, failedID ArchonID, reason string) (SubstitutionResult, error) {
	start := h.now()

	if session.Phase.IsTerminal() {
		return SubstitutionResult{}, &SessionAlreadyCompleteError{SessionID: session.SessionID}
	}
	if !h.Detect(session, failedID, reason) {
		return SubstitutionResult{}, &InvalidArchonAssignmentError{Message: "archon is not eligible for substitution"}
	}

	if !h.CanSubstitute(session) {
		latency := h.now().Sub(start).Milliseconds()
		return h.abort(ctx, session, AbortInsufficientArchons, []FailedArchon{{ArchonID: failedID, FailureReason: reason, Phase: session.Phase}}, latency, start)
	}

	substituteID, ok := h.Select(ctx, session, failedID)
	if !ok {
		latency := h.now().Sub(start).Milliseconds()
		failedArchons := h.priorFailures(session)
		failedArchons = append(failedArchons, FailedArchon{ArchonID: failedID, FailureReason: reason, Phase: session.Phase})
		return h.abort(ctx, session, AbortArchonPoolExhausted, failedArchons, latency, start)
	}

	handoff := h.PrepareHandoff(session, failedID)
	phaseAtFailure := session.Phase
	latencyMS := h.now().Sub(start).Milliseconds()

	updated, err := session.ApplySubstitution(failedID, substituteID, reason, h.now())
	if err != nil {
		return SubstitutionResult{}, err
	}

	event := ArchonSubstitutedEvent{
		eventEnvelope: eventEnvelope{
			EventID:       newID(),
			SessionID:     session.SessionID,
			PetitionID:    session.PetitionID,
			SchemaVersion: 1,
			CreatedAt:     h.now(),
		},
		FailedArchonID:          failedID,
		SubstituteArchonID:      substituteID,
		PhaseAtFailure:          phaseAtFailure,
		FailureReason:           reason,
		SubstitutionLatencyMS:   latencyMS,
		TranscriptPagesProvided: len(handoff.TranscriptPages),
	}
	h.publish(ctx, event)
	if h.logger != nil {
		h.logger.InfoWithContext(ctx, "deliberation_archon_substituted", map[string]interface{}{
			"session_id":   session.SessionID,
			"failed":       string(failedID),
			"substitute":   string(substituteID),
			"latency_ms":   latencyMS,
		})
	}

	return SubstitutionResult{
		Success:          true,
		Session:          updated,
		Event:            event,
		SubstituteArchon: substituteID,
		LatencyMS:        latencyMS,
		MetSLA:           latencyMS <= MaxSubstitutionLatencyMS,
	}, nil
}

func (h *SubstitutionHandler) priorFailures(session Session) []FailedArchon {
	out := make([]FailedArchon, 0, len(session.Substitutions))
	for _, sub := range session.Substitutions {
		out = append(out, FailedArchon{ArchonID: sub.FailedArchonID, FailureReason: sub.FailureReason, Phase: sub.PhaseAtFailure})
	}
	return out
}

// Abort forces the deliberation to ESCALATE because it can no longer
// continue with a full panel, exposed directly for callers (e.g. the
// orchestrator) that detect an unrecoverable condition without going
// through Execute.
func (h *SubstitutionHandler) Abort(ctx context.Context, session Session, reason string, failedArchons []FailedArchon) (Session, DeliberationAbortedEvent, error) {
	result, err := h.abort(ctx, session, reason, failedArchons, 0, h.now())
	if err != nil {
		return Session{}, DeliberationAbortedEvent{}, err
	}
	return result.Session, result.Event.(DeliberationAbortedEvent), nil
}

func (h *SubstitutionHandler) abort(ctx context.Context, session Session, reason string, failedArchons []FailedArchon, latencyMS int64, start time.Time) (SubstitutionResult, error) {
	phaseAtAbort := session.Phase
	updated, err := session.ForceAbort(reason, h.now())
	if err != nil {
		return SubstitutionResult{}, err
	}

	failedSet := map[ArchonID]struct{}{}
	for _, f := range failedArchons {
		failedSet[f.ArchonID] = struct{}{}
	}
	var surviving *ArchonID
	for _, a := range session.CurrentActiveArchons() {
		if _, failed := failedSet[a]; !failed {
			survivor := a
			surviving = &survivor
			break
		}
	}

	event := DeliberationAbortedEvent{
		eventEnvelope: eventEnvelope{
			EventID:       newID(),
			SessionID:     session.SessionID,
			PetitionID:    session.PetitionID,
			SchemaVersion: 1,
			CreatedAt:     h.now(),
		},
		Reason:            reason,
		FailedArchons:     failedArchons,
		PhaseAtAbort:      phaseAtAbort,
		SurvivingArchonID: surviving,
	}
	h.publish(ctx, event)
	if h.logger != nil {
		h.logger.WarnWithContext(ctx, "deliberation_aborted", map[string]interface{}{
			"session_id": session.SessionID,
			"reason":     reason,
		})
	}

	return SubstitutionResult{
		Success:   false,
		Session:   updated,
		Event:     event,
		LatencyMS: latencyMS,
		MetSLA:    latencyMS <= MaxSubstitutionLatencyMS,
	}, nil
}

func (h *SubstitutionHandler) publish(ctx context.Context, event Event) {
	if h.sink == nil {
		return
	}
	if err := h.sink.Publish(ctx, event); err != nil && h.logger != nil {
		h.logger.ErrorWithContext(ctx, "deliberation_event_publish_failed", map[string]interface{}{
			"event_type": event.EventType(),
			"error":      err.Error(),
		})
	}
}
