package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
)

// Outcome is how a plan run ended.
type Outcome string

const (
	// OutcomeCompleted means every task completed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeExhausted means nothing is pending or executable and some tasks failed.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeNonTerminating means the iteration ceiling was reached.
	OutcomeNonTerminating Outcome = "non_terminating"
	// OutcomeCancelled means the run was cancelled.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeDeadlocked means every pending task depends on a failed task.
	OutcomeDeadlocked Outcome = "deadlocked"
)

// Report summarizes a finished run.
type Report struct {
	PlanID       string          `json:"plan_id"`
	Outcome      Outcome         `json:"outcome"`
	Iterations   int             `json:"iterations"`
	Counts       core.TaskCounts `json:"counts"`
	CurrentPhase int             `json:"current_phase"`
	TotalPhases  int             `json:"total_phases"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Run is one execution of a plan. The engine owns the plan while the run
// is active; observers read it through Snapshot.
type Run struct {
	mu   sync.RWMutex
	plan *core.OrchestrationPlan

	started   atomic.Bool
	cancelled atomic.Bool
	cancelCh  chan struct{}
	cancelOne sync.Once
	done      chan struct{}

	report *Report
	err    error
}

func newRun(plan *core.OrchestrationPlan) *Run {
	return &Run{
		plan:     plan,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the plan id.
func (r *Run) ID() string { return r.plan.ID }

// Snapshot returns a deep copy of the plan's current state.
func (r *Run) Snapshot() *core.OrchestrationPlan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plan.Clone()
}

// Cancel asks the run to stop at the top of its next iteration.
func (r *Run) Cancel() {
	r.cancelOne.Do(func() {
		r.cancelled.Store(true)
		close(r.cancelCh)
	})
}

// Cancelled reports whether Cancel was called.
func (r *Run) Cancelled() bool { return r.cancelled.Load() }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Active reports whether the run has not finished yet.
func (r *Run) Active() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return nil, errors.New(errors.CodeCancelled, "wait interrupted", ctx.Err())
	}
}

// Result returns the report once the run has finished. It returns nil and
// no error while the run is active.
func (r *Run) Result() (*Report, error) {
	if r.Active() {
		return nil, nil
	}
	cp := *r.report
	return &cp, r.err
}

func (r *Run) finish(report *Report, err error) {
	r.report = report
	r.err = err
	close(r.done)
}

// mutate applies fn to the plan under the write lock.
func (r *Run) mutate(fn func(p *core.OrchestrationPlan)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.plan)
}
