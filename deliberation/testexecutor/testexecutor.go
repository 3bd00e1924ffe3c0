// Package testexecutor provides a scripted PhaseExecutor double for tests
// that need precise control over what each phase call returns, including
// the ability to fail attributably to one archon so substitution-retry
// paths can be exercised deterministically.
package testexecutor

import (
	"context"
	"fmt"
	"sync"

	"github.com/hoyack/archon72-sub000/deliberation"
)

// Step is one queued response for a single phase call.
type Step struct {
	Result deliberation.PhaseResult
	Err    error
}

// Executor is a deliberation.PhaseExecutor backed by four independent
// FIFO queues, one per phase. Each call to the matching Execute* method
// pops the next queued Step; calling past the end of a queue panics,
// surfacing a test-authoring mistake immediately rather than returning a
// zero-value PhaseResult that could mask a bug.
type Executor struct {
	mu         sync.Mutex
	assess     []Step
	position   []Step
	crossExam  []Step
	vote       []Step
	calls      []string
}

// New returns an empty Executor. Use QueueAssess/QueuePosition/
// QueueCrossExamine/QueueVote to script responses before invoking the
// orchestrator.
func New() *Executor {
	return &Executor{}
}

// QueueAssess appends a scripted ASSESS response.
func (e *Executor) QueueAssess(step Step) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assess = append(e.assess, step)
	return e
}

// QueuePosition appends a scripted POSITION response.
func (e *Executor) QueuePosition(step Step) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = append(e.position, step)
	return e
}

// QueueCrossExamine appends a scripted CROSS_EXAMINE response.
func (e *Executor) QueueCrossExamine(step Step) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.crossExam = append(e.crossExam, step)
	return e
}

// QueueVote appends a scripted VOTE response.
func (e *Executor) QueueVote(step Step) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vote = append(e.vote, step)
	return e
}

// Calls returns the ordered list of phase names invoked so far, e.g.
// ["ASSESS", "POSITION", "CROSS_EXAMINE", "VOTE", "CROSS_EXAMINE", "VOTE"]
// for a deliberation that ran two cross-examine/vote rounds.
func (e *Executor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

func (e *Executor) pop(queue *[]Step, label string) Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, label)
	if len(*queue) == 0 {
		panic(fmt.Sprintf("testexecutor: %s queue exhausted", label))
	}
	step := (*queue)[0]
	*queue = (*queue)[1:]
	return step
}

func (e *Executor) ExecuteAssess(_ context.Context, _ deliberation.Session, _ deliberation.ContextPackage) (deliberation.PhaseResult, error) {
	step := e.pop(&e.assess, "ASSESS")
	return step.Result, step.Err
}

func (e *Executor) ExecutePosition(_ context.Context, _ deliberation.Session, _ deliberation.ContextPackage, _ deliberation.PhaseResult) (deliberation.PhaseResult, error) {
	step := e.pop(&e.position, "POSITION")
	return step.Result, step.Err
}

func (e *Executor) ExecuteCrossExamine(_ context.Context, _ deliberation.Session, _ deliberation.ContextPackage, _ deliberation.PhaseResult) (deliberation.PhaseResult, error) {
	step := e.pop(&e.crossExam, "CROSS_EXAMINE")
	return step.Result, step.Err
}

func (e *Executor) ExecuteVote(_ context.Context, _ deliberation.Session, _ deliberation.ContextPackage, _ deliberation.PhaseResult) (deliberation.PhaseResult, error) {
	step := e.pop(&e.vote, "VOTE")
	return step.Result, step.Err
}

var _ deliberation.PhaseExecutor = (*Executor)(nil)
