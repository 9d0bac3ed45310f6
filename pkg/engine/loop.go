package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/telemetry"
)

// Execute drives run until it finishes. It returns a CodeNonTermination
// error when the ceiling is reached and a CodeCancelled error when the run
// or ctx is cancelled. Task failures never surface as errors here; they are
// visible in the plan state and the emitted events.
func (e *Engine) Execute(ctx context.Context, run *Run) (*Report, error) {
	if !run.started.CompareAndSwap(false, true) {
		return nil, errors.Newf(errors.CodeInvalidInput, "plan %s is already executing", run.ID())
	}
	ctx = core.WithPlanID(ctx, run.ID())
	ctx, span := e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		telemetry.PlanAttributes(run.ID(), run.plan.Intent, string(run.plan.Complexity), string(run.plan.Strategy), len(run.plan.Tasks))...,
	))
	defer span.End()

	report := &Report{PlanID: run.ID(), StartedAt: e.now()}
	e.logger.InfoContext(ctx, "engine.plan.start",
		slog.String("plan_id", run.ID()),
		slog.String("strategy", string(run.plan.Strategy)),
		slog.Int("tasks", len(run.plan.Tasks)),
	)

	outcome, err := e.loop(ctx, run, report)

	run.mu.RLock()
	report.Outcome = outcome
	report.Counts = run.plan.Counts()
	report.CurrentPhase = run.plan.CurrentPhase
	report.TotalPhases = run.plan.TotalPhases
	run.mu.RUnlock()
	report.FinishedAt = e.now()

	span.SetAttributes(telemetry.PlanOutcomeAttributes(string(outcome), report.Iterations)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
	}
	e.metrics.PlanFinished(ctx, string(outcome), report.Iterations)

	level := slog.LevelInfo
	if outcome != OutcomeCompleted {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "engine.plan."+string(outcome),
		slog.String("plan_id", run.ID()),
		slog.Int("iterations", report.Iterations),
		slog.Int("completed", report.Counts.Completed),
		slog.Int("failed", report.Counts.Failed),
		slog.Int("pending", report.Counts.Pending),
	)

	run.finish(report, err)
	cp := *report
	return &cp, err
}

func (e *Engine) loop(ctx context.Context, run *Run, report *Report) (Outcome, error) {
	plan := run.plan
	for report.Iterations < e.maxIter {
		if stopped(ctx, run) {
			return OutcomeCancelled, e.cancelledErr(ctx, run)
		}
		report.Iterations++

		now := e.now()
		ready := plan.ReadyTasks(now)
		wait := e.poll
		if len(ready) == 0 {
			if plan.AllCompleted() {
				e.complete(ctx, run)
				return OutcomeCompleted, nil
			}
			e.reportBlocked(ctx, run)
			counts := plan.Counts()
			if counts.Pending == 0 {
				e.logger.WarnContext(ctx, "engine.plan.nothing_runnable",
					slog.String("plan_id", run.ID()),
					slog.Int("failed", counts.Failed),
					slog.Int("in_progress", counts.InProgress),
				)
				return OutcomeExhausted, nil
			}
			if e.abandonStuck && allDoomed(plan) {
				return OutcomeDeadlocked, nil
			}
			if gate := earliestGate(plan); !gate.IsZero() && gate.Sub(now) > wait {
				wait = gate.Sub(now)
			}
		} else if plan.Strategy == core.StrategyParallel {
			e.dispatchParallel(ctx, run, ready)
		} else {
			e.dispatchSequential(ctx, run, ready)
		}

		if !e.pause(ctx, run, wait) {
			return OutcomeCancelled, e.cancelledErr(ctx, run)
		}
	}
	return OutcomeNonTerminating, errors.Newf(errors.CodeNonTermination,
		"plan %s did not complete within %d iterations", run.ID(), e.maxIter).
		WithContext("plan_id", run.ID())
}

func (e *Engine) dispatchSequential(ctx context.Context, run *Run, ready []*core.AgentTask) {
	for _, task := range ready {
		if stopped(ctx, run) {
			return
		}
		req := e.begin(ctx, run, task)
		res := e.perform(ctx, run, req)
		e.apply(ctx, run, task, res)
	}
}

// dispatchParallel starts every ready task before any executor call is
// made, runs the calls concurrently and applies outcomes in list order once
// all of them have settled.
func (e *Engine) dispatchParallel(ctx context.Context, run *Run, ready []*core.AgentTask) {
	reqs := make([]ExecutionRequest, len(ready))
	for i, task := range ready {
		reqs[i] = e.begin(ctx, run, task)
	}

	results := make([]result, len(ready))
	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i := range reqs {
		g.Go(func() error {
			results[i] = e.perform(ctx, run, reqs[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, task := range ready {
		e.apply(ctx, run, task, results[i])
	}
}

func (e *Engine) complete(ctx context.Context, run *Run) {
	var total int
	run.mutate(func(p *core.OrchestrationPlan) {
		p.IsComplete = true
		p.CompletedAt = e.now()
		p.RecomputePhase()
		total = len(p.Tasks)
	})
	e.broadcaster.Emit(ctx, core.AgentCommunication{
		PlanID:  run.ID(),
		From:    core.EndpointSystem,
		To:      core.EndpointUser,
		Type:    core.CommCompletion,
		Message: fmt.Sprintf("All %d tasks completed", total),
		Metadata: map[string]any{
			"plan_id": run.ID(),
		},
	})
}

func (e *Engine) reportBlocked(ctx context.Context, run *Run) {
	blocked := run.plan.BlockedTasks()
	if len(blocked) == 0 {
		return
	}
	e.metrics.TasksBlocked(ctx, len(blocked))
	for _, task := range blocked {
		n := run.plan.OutstandingDependencies(task)
		reason := fmt.Sprintf("waiting on %d of %d dependencies", n, len(task.Dependencies))
		e.logger.DebugContext(ctx, "engine.task.blocked",
			slog.String("plan_id", run.ID()),
			slog.String("task_id", task.ID),
			slog.Int("outstanding", n),
		)
		e.broadcaster.Emit(ctx, core.AgentCommunication{
			PlanID:  run.ID(),
			From:    core.EndpointSystem,
			To:      string(task.AssignedTo),
			Type:    core.CommStatus,
			Message: fmt.Sprintf("Task %s is blocked: %s", task.ID, reason),
			Metadata: map[string]any{
				"task_id":     task.ID,
				"outstanding": n,
			},
		})
		e.broadcaster.UpdateStatus(ctx, core.AgentStatus{
			Worker:         task.AssignedTo,
			PlanID:         run.ID(),
			State:          core.WorkerBlocked,
			CurrentTask:    task.Description,
			BlockingReason: reason,
		})
	}
}

func (e *Engine) pause(ctx context.Context, run *Run, d time.Duration) bool {
	if d <= 0 {
		return !stopped(ctx, run)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-run.cancelCh:
		return false
	}
}

func (e *Engine) cancelledErr(ctx context.Context, run *Run) error {
	var cause error
	if !run.Cancelled() {
		cause = context.Cause(ctx)
	}
	return errors.New(errors.CodeCancelled, fmt.Sprintf("plan %s cancelled", run.ID()), cause).
		WithContext("plan_id", run.ID())
}

func stopped(ctx context.Context, run *Run) bool {
	return run.Cancelled() || ctx.Err() != nil
}

func allDoomed(plan *core.OrchestrationPlan) bool {
	pending := 0
	for _, t := range plan.Tasks {
		if t.Status != core.TaskStatusPending {
			continue
		}
		pending++
		if !plan.Doomed(t) {
			return false
		}
	}
	return pending > 0
}

func earliestGate(plan *core.OrchestrationPlan) time.Time {
	var gate time.Time
	for _, t := range plan.Tasks {
		if t.Status != core.TaskStatusPending || t.NextAttemptAt.IsZero() {
			continue
		}
		if gate.IsZero() || t.NextAttemptAt.Before(gate) {
			gate = t.NextAttemptAt
		}
	}
	return gate
}
