package core

import (
	"math"
	"time"
)

// Complexity is the coarse size tier of a request.
type Complexity string

const (
	ComplexitySimple      Complexity = "simple"
	ComplexityModerate    Complexity = "moderate"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// Rank orders tiers so callers can compare them.
func (c Complexity) Rank() int {
	switch c {
	case ComplexityModerate:
		return 1
	case ComplexityComplex:
		return 2
	case ComplexityVeryComplex:
		return 3
	}
	return 0
}

// AtLeast reports whether c is the same tier as other or higher.
func (c Complexity) AtLeast(other Complexity) bool {
	return c.Rank() >= other.Rank()
}

// Strategy selects how a ready set is dispatched.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyHybrid     Strategy = "hybrid"
	StrategyRecursive  Strategy = "recursive"
)

// OrchestrationPlan is the task graph and metadata derived from one request.
type OrchestrationPlan struct {
	ID                string
	Request           string
	Intent            string
	Complexity        Complexity
	Roles             []WorkerRole
	Tasks             []*AgentTask
	Strategy          Strategy
	EstimatedDuration time.Duration
	CurrentPhase      int
	TotalPhases       int
	IsComplete        bool
	CreatedAt         time.Time
	CompletedAt       time.Time
}

// TaskCounts summarizes task states.
type TaskCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Task returns the task with the given id.
func (p *OrchestrationPlan) Task(id string) (*AgentTask, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func (p *OrchestrationPlan) index() map[string]*AgentTask {
	idx := make(map[string]*AgentTask, len(p.Tasks))
	for _, t := range p.Tasks {
		idx[t.ID] = t
	}
	return idx
}

// OutstandingDependencies counts the dependencies of t that are not completed.
// Unknown dependency ids count as outstanding.
func (p *OrchestrationPlan) OutstandingDependencies(t *AgentTask) int {
	return outstanding(p.index(), t)
}

func outstanding(idx map[string]*AgentTask, t *AgentTask) int {
	n := 0
	for _, dep := range t.Dependencies {
		d, ok := idx[dep]
		if !ok || d.Status != TaskStatusCompleted {
			n++
		}
	}
	return n
}

// ReadyTasks returns pending tasks whose dependencies are all completed,
// in plan order. Tasks gated by NextAttemptAt after now are skipped.
func (p *OrchestrationPlan) ReadyTasks(now time.Time) []*AgentTask {
	idx := p.index()
	var ready []*AgentTask
	for _, t := range p.Tasks {
		if t.Status != TaskStatusPending || outstanding(idx, t) > 0 {
			continue
		}
		if !t.NextAttemptAt.IsZero() && t.NextAttemptAt.After(now) {
			continue
		}
		ready = append(ready, t)
	}
	return ready
}

// BlockedTasks returns pending tasks with at least one dependency not completed.
func (p *OrchestrationPlan) BlockedTasks() []*AgentTask {
	idx := p.index()
	var blocked []*AgentTask
	for _, t := range p.Tasks {
		if t.Status == TaskStatusPending && outstanding(idx, t) > 0 {
			blocked = append(blocked, t)
		}
	}
	return blocked
}

// Doomed reports whether t is pending and depends, directly or transitively,
// on a task that can never complete.
func (p *OrchestrationPlan) Doomed(t *AgentTask) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	return doomed(p.index(), t, map[string]bool{})
}

func doomed(idx map[string]*AgentTask, t *AgentTask, seen map[string]bool) bool {
	if seen[t.ID] {
		return false
	}
	seen[t.ID] = true
	for _, dep := range t.Dependencies {
		d, ok := idx[dep]
		if !ok {
			return true
		}
		if d.Status == TaskStatusFailed && d.Terminal() {
			return true
		}
		if d.Status == TaskStatusPending && doomed(idx, d, seen) {
			return true
		}
	}
	return false
}

// Counts returns per-status totals.
func (p *OrchestrationPlan) Counts() TaskCounts {
	var c TaskCounts
	for _, t := range p.Tasks {
		switch t.Status {
		case TaskStatusPending:
			c.Pending++
		case TaskStatusInProgress:
			c.InProgress++
		case TaskStatusCompleted:
			c.Completed++
		case TaskStatusFailed:
			c.Failed++
		}
	}
	return c
}

// AllCompleted reports whether every task is completed.
func (p *OrchestrationPlan) AllCompleted() bool {
	return len(p.Tasks) > 0 && p.Counts().Completed == len(p.Tasks)
}

// ComputeTotalPhases returns the number of distinct dependency depths,
// where a task's depth is its dependency count plus one.
func ComputeTotalPhases(tasks []*AgentTask) int {
	depths := make(map[int]struct{}, len(tasks))
	for _, t := range tasks {
		depths[len(t.Dependencies)+1] = struct{}{}
	}
	return len(depths)
}

// RecomputePhase refreshes CurrentPhase from the completed task ratio.
// The value never decreases because completed tasks are terminal.
func (p *OrchestrationPlan) RecomputePhase() {
	if len(p.Tasks) == 0 {
		p.CurrentPhase = 0
		return
	}
	completed := p.Counts().Completed
	ratio := float64(completed) / float64(len(p.Tasks))
	phase := int(math.Ceil(ratio * float64(p.TotalPhases)))
	if phase > p.CurrentPhase {
		p.CurrentPhase = phase
	}
}

// Clone returns a deep copy safe to hand to observers.
func (p *OrchestrationPlan) Clone() *OrchestrationPlan {
	cp := *p
	cp.Roles = append([]WorkerRole(nil), p.Roles...)
	cp.Tasks = make([]*AgentTask, len(p.Tasks))
	for i, t := range p.Tasks {
		cp.Tasks[i] = t.Clone()
	}
	return &cp
}
