// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"strings"
	"testing"

	"github.com/jllopis/orchestra/pkg/core"
)

// PlanAssertions provides chained assertions over a plan snapshot.
type PlanAssertions struct {
	t    testing.TB
	plan *core.OrchestrationPlan
}

// AssertPlan creates plan assertions.
func AssertPlan(t testing.TB, plan *core.OrchestrationPlan) *PlanAssertions {
	t.Helper()
	if plan == nil {
		t.Fatal("plan is nil")
	}
	return &PlanAssertions{t: t, plan: plan}
}

func (a *PlanAssertions) task(id string) *core.AgentTask {
	a.t.Helper()
	task, ok := a.plan.Task(id)
	if !ok {
		a.t.Fatalf("task %q not in plan %s", id, a.plan.ID)
	}
	return task
}

// IsComplete asserts the plan completed with its phase counter at the top.
func (a *PlanAssertions) IsComplete() *PlanAssertions {
	a.t.Helper()
	if !a.plan.IsComplete {
		a.t.Errorf("plan %s: expected complete, counts %+v", a.plan.ID, a.plan.Counts())
	}
	if a.plan.CurrentPhase != a.plan.TotalPhases {
		a.t.Errorf("plan %s: phase %d of %d", a.plan.ID, a.plan.CurrentPhase, a.plan.TotalPhases)
	}
	return a
}

// IsNotComplete asserts the plan did not complete.
func (a *PlanAssertions) IsNotComplete() *PlanAssertions {
	a.t.Helper()
	if a.plan.IsComplete {
		a.t.Errorf("plan %s: expected incomplete", a.plan.ID)
	}
	return a
}

// TaskStatus asserts the status of a task.
func (a *PlanAssertions) TaskStatus(id string, want core.TaskStatus) *PlanAssertions {
	a.t.Helper()
	if got := a.task(id).Status; got != want {
		a.t.Errorf("task %s: expected %s, got %s", id, want, got)
	}
	return a
}

// RetryCount asserts how many retries a task was charged.
func (a *PlanAssertions) RetryCount(id string, want int) *PlanAssertions {
	a.t.Helper()
	if got := a.task(id).RetryCount; got != want {
		a.t.Errorf("task %s: expected retry count %d, got %d", id, want, got)
	}
	return a
}

// NeverStarted asserts a task was never handed to an executor.
func (a *PlanAssertions) NeverStarted(id string) *PlanAssertions {
	a.t.Helper()
	task := a.task(id)
	if task.Attempts != 0 || !task.StartedAt.IsZero() {
		a.t.Errorf("task %s: expected never started, got %d attempts", id, task.Attempts)
	}
	return a
}

// ErrorContains asserts the recorded error of a task.
func (a *PlanAssertions) ErrorContains(id, substr string) *PlanAssertions {
	a.t.Helper()
	if got := a.task(id).Error; !strings.Contains(got, substr) {
		a.t.Errorf("task %s: error %q does not contain %q", id, got, substr)
	}
	return a
}

// DependenciesRespected asserts that every task that ran started no
// earlier than the completion of each of its dependencies.
func (a *PlanAssertions) DependenciesRespected() *PlanAssertions {
	a.t.Helper()
	for _, task := range a.plan.Tasks {
		if task.Attempts == 0 {
			continue
		}
		for _, dep := range task.Dependencies {
			d, ok := a.plan.Task(dep)
			if !ok {
				a.t.Errorf("task %s ran with unknown dependency %s", task.ID, dep)
				continue
			}
			if d.Status != core.TaskStatusCompleted {
				a.t.Errorf("task %s ran but dependency %s is %s", task.ID, dep, d.Status)
				continue
			}
			if task.StartedAt.Before(d.FinishedAt) {
				a.t.Errorf("task %s started at %v before %s finished at %v", task.ID, task.StartedAt, dep, d.FinishedAt)
			}
		}
	}
	return a
}

// Counts asserts the per-status task counts.
func (a *PlanAssertions) Counts(want core.TaskCounts) *PlanAssertions {
	a.t.Helper()
	if got := a.plan.Counts(); got != want {
		a.t.Errorf("plan %s: expected counts %+v, got %+v", a.plan.ID, want, got)
	}
	return a
}

// EventAssertions provides chained assertions over emitted events.
type EventAssertions struct {
	t      testing.TB
	result *ScenarioResult
}

// AssertEvents creates event assertions over a scenario result.
func AssertEvents(t testing.TB, result *ScenarioResult) *EventAssertions {
	return &EventAssertions{t: t, result: result}
}

// Count asserts the number of communications of a type.
func (a *EventAssertions) Count(kind core.CommunicationType, want int) *EventAssertions {
	a.t.Helper()
	if got := len(a.result.Communications(kind)); got != want {
		a.t.Errorf("expected %d %s events, got %d", want, kind, got)
	}
	return a
}

// Handoff asserts a handoff from one worker to another was emitted.
func (a *EventAssertions) Handoff(from, to core.WorkerRole) *EventAssertions {
	a.t.Helper()
	for _, c := range a.result.Communications(core.CommHandoff) {
		if c.From == string(from) && c.To == string(to) {
			return a
		}
	}
	a.t.Errorf("no handoff from %s to %s", from, to)
	return a
}

// NeverBlocked asserts worker was never reported blocked.
func (a *EventAssertions) NeverBlocked(worker core.WorkerRole) *EventAssertions {
	a.t.Helper()
	for _, s := range a.result.Statuses(worker) {
		if s.State == core.WorkerBlocked {
			a.t.Errorf("worker %s reported blocked: %s", worker, s.BlockingReason)
			return a
		}
	}
	return a
}

// ProgressMonotonic asserts each working streak of worker reports
// non-decreasing progress bounded by 100.
func (a *EventAssertions) ProgressMonotonic(worker core.WorkerRole) *EventAssertions {
	a.t.Helper()
	last := -1
	for _, s := range a.result.Statuses(worker) {
		if s.Progress < 0 || s.Progress > 100 {
			a.t.Errorf("worker %s progress %d out of range", worker, s.Progress)
		}
		if s.State != core.WorkerWorking {
			last = -1
			continue
		}
		if s.Progress < last && s.Progress != 0 {
			a.t.Errorf("worker %s progress went from %d to %d", worker, last, s.Progress)
		}
		last = s.Progress
	}
	return a
}
