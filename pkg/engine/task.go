package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/telemetry"
)

const (
	progressStep    = 5
	progressCeiling = 95
	outputPreview   = 280
)

// errAbandoned marks a call cut short by cancellation.
var errAbandoned = stderrors.New("abandoned")

type result struct {
	output   string
	usage    *Usage
	err      error
	duration time.Duration
}

// begin marks task in progress and emits the handoff, if any. It runs on
// the loop goroutine.
func (e *Engine) begin(ctx context.Context, run *Run, task *core.AgentTask) ExecutionRequest {
	var prev *core.AgentTask
	run.mutate(func(p *core.OrchestrationPlan) {
		for i, t := range p.Tasks {
			if t == task && i > 0 {
				prev = p.Tasks[i-1]
				break
			}
		}
		task.NextAttemptAt = time.Time{}
		task.Start(e.now())
	})

	e.metrics.TaskStarted(ctx, string(task.AssignedTo))
	e.logger.InfoContext(ctx, "engine.task.start",
		slog.String("plan_id", run.ID()),
		slog.String("task_id", task.ID),
		slog.String("worker", string(task.AssignedTo)),
		slog.Int("attempt", task.Attempts),
	)

	if prev != nil && prev.AssignedTo != task.AssignedTo {
		e.broadcaster.Emit(ctx, core.AgentCommunication{
			PlanID:  run.ID(),
			From:    string(prev.AssignedTo),
			To:      string(task.AssignedTo),
			Type:    core.CommHandoff,
			Message: fmt.Sprintf("Handing off to %s: %s", task.AssignedTo, task.Description),
			Metadata: map[string]any{
				"task_id":      task.ID,
				"from_task_id": prev.ID,
			},
		})
	}
	e.broadcaster.UpdateStatus(ctx, core.AgentStatus{
		Worker:      task.AssignedTo,
		PlanID:      run.ID(),
		State:       core.WorkerWorking,
		CurrentTask: task.Description,
	})

	req := ExecutionRequest{
		PlanID:  run.ID(),
		Request: run.plan.Request,
		Task:    *task.Clone(),
		Role:    task.AssignedTo,
	}
	if e.roster != nil {
		if c, ok := e.roster.Lookup(string(task.AssignedTo)); ok {
			req.Capability = &c
			req.ProviderHint = c.Provider
		}
	}
	return req
}

// perform calls the executor and drains its stream. It never touches the
// plan, so it may run on any goroutine.
func (e *Engine) perform(ctx context.Context, run *Run, req ExecutionRequest) result {
	start := e.now()
	ctx = core.WithTaskID(ctx, req.Task.ID)
	ctx, span := e.tracer.Start(ctx, "engine.task", trace.WithAttributes(
		telemetry.TaskAttributes(req.Task.ID, string(req.Role), string(req.Task.Phase), req.Task.Attempts)...,
	))
	defer span.End()

	callCtx, cancel := e.callContext(ctx, run)
	defer cancel()

	output, usage, err := e.stream(callCtx, run, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
	}
	return result{output: output, usage: usage, err: err, duration: e.now().Sub(start)}
}

// callContext derives the context for one executor call: it carries the
// task timeout and is cancelled when the run is.
func (e *Engine) callContext(ctx context.Context, run *Run) (context.Context, context.CancelFunc) {
	var cancelTimeout context.CancelFunc = func() {}
	if e.taskTimeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, e.taskTimeout)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-run.cancelCh:
			cancel(errAbandoned)
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		cancel(nil)
		cancelTimeout()
	}
}

func (e *Engine) stream(ctx context.Context, run *Run, req ExecutionRequest) (string, *Usage, error) {
	ch, err := e.executor.Execute(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var (
		out      strings.Builder
		progress int
	)
	for {
		select {
		case <-ctx.Done():
			return out.String(), nil, e.interrupted(ctx, run)
		case chunk, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return out.String(), nil, e.interrupted(ctx, run)
				}
				return out.String(), nil, errors.New(errors.CodeTaskFailed, "stream closed before completion", nil)
			}
			if chunk.Err != nil {
				return out.String(), nil, chunk.Err
			}
			out.WriteString(chunk.Text)
			if chunk.Done {
				return out.String(), chunk.Usage, nil
			}
			if chunk.Text == "" {
				continue
			}
			progress = min(progress+progressStep, progressCeiling)
			e.broadcaster.UpdateStatus(ctx, core.AgentStatus{
				Worker:      req.Role,
				PlanID:      req.PlanID,
				State:       core.WorkerWorking,
				CurrentTask: req.Task.Description,
				Progress:    progress,
			})
		}
	}
}

func (e *Engine) interrupted(ctx context.Context, run *Run) error {
	if run.Cancelled() || stderrors.Is(context.Cause(ctx), errAbandoned) {
		return errAbandoned
	}
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "task timed out", ctx.Err()).
			WithContext("timeout", e.taskTimeout.String())
	}
	return errAbandoned
}

// apply records the outcome of one call on the loop goroutine.
func (e *Engine) apply(ctx context.Context, run *Run, task *core.AgentTask, res result) {
	now := e.now()
	role := string(task.AssignedTo)

	if res.err == nil {
		run.mutate(func(p *core.OrchestrationPlan) {
			task.Complete(res.output, now)
			p.RecomputePhase()
		})
		e.metrics.TaskFinished(ctx, role, string(core.TaskStatusCompleted), res.duration)
		e.logger.InfoContext(ctx, "engine.task.complete",
			slog.String("plan_id", run.ID()),
			slog.String("task_id", task.ID),
			slog.String("worker", role),
			slog.Duration("duration", res.duration),
		)
		meta := map[string]any{"task_id": task.ID}
		if res.usage != nil {
			meta["input_tokens"] = res.usage.InputTokens
			meta["output_tokens"] = res.usage.OutputTokens
		}
		e.broadcaster.Emit(ctx, core.AgentCommunication{
			PlanID:   run.ID(),
			From:     role,
			To:       core.EndpointUser,
			Type:     core.CommCompletion,
			Message:  fmt.Sprintf("Completed %s", task.Description),
			Metadata: meta,
		})
		e.broadcaster.UpdateStatus(ctx, core.AgentStatus{
			Worker:      task.AssignedTo,
			PlanID:      run.ID(),
			State:       core.WorkerCompleted,
			CurrentTask: task.Description,
			Progress:    100,
			Output:      preview(res.output),
		})
		return
	}

	// A failure that settles after cancellation is not charged as a retry.
	if stderrors.Is(res.err, errAbandoned) || stopped(ctx, run) {
		run.mutate(func(*core.OrchestrationPlan) {
			task.Error = errAbandoned.Error()
		})
		e.logger.WarnContext(ctx, "engine.task.abandoned",
			slog.String("plan_id", run.ID()),
			slog.String("task_id", task.ID),
		)
		return
	}

	fatal := errors.IsFatal(res.err)
	var requeued bool
	run.mutate(func(p *core.OrchestrationPlan) {
		requeued = task.Fail(res.err.Error(), fatal, now)
		if requeued && e.backoff.Enabled() {
			task.NextAttemptAt = now.Add(e.backoff.Backoff(task.RetryCount))
		}
		p.RecomputePhase()
	})
	e.metrics.TaskFinished(ctx, role, string(core.TaskStatusFailed), res.duration)
	if requeued {
		e.metrics.TaskRetried(ctx, role)
	}
	e.logger.WarnContext(ctx, "engine.task.failed",
		slog.String("plan_id", run.ID()),
		slog.String("task_id", task.ID),
		slog.String("worker", role),
		slog.String("code", string(errors.CodeOf(res.err))),
		slog.Int("retry_count", task.RetryCount),
		slog.Bool("requeued", requeued),
		slog.String("error", res.err.Error()),
	)
	e.broadcaster.Emit(ctx, core.AgentCommunication{
		PlanID:  run.ID(),
		From:    role,
		To:      core.EndpointUser,
		Type:    core.CommError,
		Message: fmt.Sprintf("Task %s failed: %v", task.ID, res.err),
		Metadata: map[string]any{
			"task_id":     task.ID,
			"retry_count": task.RetryCount,
			"max_retries": task.MaxRetries,
			"requeued":    requeued,
			"fatal":       fatal,
		},
	})
	var last int
	if s, ok := e.broadcaster.LatestStatus(task.AssignedTo); ok && s.PlanID == run.ID() {
		last = s.Progress
	}
	e.broadcaster.UpdateStatus(ctx, core.AgentStatus{
		Worker:      task.AssignedTo,
		PlanID:      run.ID(),
		State:       core.WorkerError,
		CurrentTask: task.Description,
		Progress:    last,
		Output:      res.err.Error(),
	})
}

func preview(s string) string {
	if len(s) <= outputPreview {
		return s
	}
	return s[:outputPreview] + "…"
}
