// Package orchestrator is the entry point for callers: it plans a request,
// registers the plan, runs it on the engine and archives the outcome.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/guardrails"
	"github.com/jllopis/orchestra/pkg/history"
	"github.com/jllopis/orchestra/pkg/planner"
	"github.com/jllopis/orchestra/pkg/plans"
	"github.com/jllopis/orchestra/pkg/roster"
)

// Orchestrator owns the plan registry and the runs it starts.
type Orchestrator struct {
	planner  *planner.Planner
	engine   *engine.Engine
	registry *plans.Registry
	archive  history.PlanArchive
	guard    *guardrails.Guard
	logger   *slog.Logger

	sweepInterval time.Duration
	retention     time.Duration

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPlanner replaces the default planner.
func WithPlanner(p *planner.Planner) Option {
	return func(o *Orchestrator) { o.planner = p }
}

// WithEngine sets the engine. Required.
func WithEngine(e *engine.Engine) Option {
	return func(o *Orchestrator) { o.engine = e }
}

// WithRegistry replaces the default plan registry.
func WithRegistry(r *plans.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithArchive archives every finished plan.
func WithArchive(a history.PlanArchive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithGuard screens every request before it is planned.
func WithGuard(g *guardrails.Guard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithRetention evicts finished plans from the registry once they are older
// than retention, checking every interval.
func WithRetention(interval, retention time.Duration) Option {
	return func(o *Orchestrator) {
		o.sweepInterval = interval
		o.retention = retention
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.engine == nil {
		return nil, errors.New(errors.CodeInvalidInput, "orchestrator requires an engine", nil)
	}
	if o.planner == nil {
		o.planner = planner.New(planner.WithLogger(o.logger))
	}
	if o.registry == nil {
		o.registry = plans.NewRegistry()
	}
	o.base, o.stop = context.WithCancel(context.Background())
	if o.sweepInterval > 0 && o.retention > 0 {
		o.registry.StartSweeper(o.sweepInterval, o.retention)
	}
	return o, nil
}

// Registry exposes the plan registry.
func (o *Orchestrator) Registry() *plans.Registry { return o.registry }

// Preview plans request without registering or running it.
func (o *Orchestrator) Preview(ctx context.Context, request string, available *roster.Roster) (*core.OrchestrationPlan, error) {
	if err := o.guard.Check(ctx, request); err != nil {
		return nil, err
	}
	return o.planner.Plan(ctx, request, available)
}

func (o *Orchestrator) start(ctx context.Context, request string, available *roster.Roster) (*engine.Run, error) {
	plan, err := o.Preview(ctx, request, available)
	if err != nil {
		return nil, err
	}
	run := o.engine.Start(plan)
	if err := o.registry.Register(run); err != nil {
		return nil, err
	}
	return run, nil
}

// Submit plans request, registers the plan and runs it in the background.
// The returned snapshot is the plan before execution starts. The run
// outlives ctx; stop it with Cancel or Close.
func (o *Orchestrator) Submit(ctx context.Context, request string, available *roster.Roster) (*core.OrchestrationPlan, error) {
	run, err := o.start(ctx, request, available)
	if err != nil {
		return nil, err
	}
	snapshot := run.Snapshot()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		report, err := o.engine.Execute(o.base, run)
		o.finish(o.base, run, report, err)
	}()
	o.logger.InfoContext(ctx, "orchestrator.submit",
		slog.String("plan_id", run.ID()),
		slog.Int("tasks", len(snapshot.Tasks)),
	)
	return snapshot, nil
}

// RunSync plans request and runs it to completion on the caller's context.
func (o *Orchestrator) RunSync(ctx context.Context, request string, available *roster.Roster) (*core.OrchestrationPlan, *engine.Report, error) {
	run, err := o.start(ctx, request, available)
	if err != nil {
		return nil, nil, err
	}
	report, err := o.engine.Execute(ctx, run)
	o.finish(ctx, run, report, err)
	return run.Snapshot(), report, err
}

func (o *Orchestrator) finish(ctx context.Context, run *engine.Run, report *engine.Report, runErr error) {
	attrs := []any{slog.String("plan_id", run.ID())}
	if report != nil {
		attrs = append(attrs, slog.String("outcome", string(report.Outcome)), slog.Int("iterations", report.Iterations))
	}
	if runErr != nil {
		attrs = append(attrs, slog.String("error", runErr.Error()))
	}
	o.logger.InfoContext(ctx, "orchestrator.plan.finished", attrs...)

	if o.archive == nil || report == nil {
		return
	}
	rec := history.PlanRecord{
		Plan:       run.Snapshot(),
		Outcome:    string(report.Outcome),
		Iterations: report.Iterations,
		FinishedAt: report.FinishedAt,
	}
	if err := o.archive.SavePlan(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.ErrorContext(ctx, "orchestrator.archive.failed",
			slog.String("plan_id", run.ID()),
			slog.String("error", err.Error()),
		)
	}
}

// GetPlan returns a snapshot of a registered plan, falling back to the
// archive for plans that have been evicted.
func (o *Orchestrator) GetPlan(ctx context.Context, id string) (*core.OrchestrationPlan, error) {
	if plan, ok := o.registry.Get(id); ok {
		return plan, nil
	}
	if o.archive != nil {
		rec, err := o.archive.Plan(ctx, id)
		if err == nil {
			return rec.Plan, nil
		}
		if !errors.HasCode(err, errors.CodeNotFound) {
			return nil, err
		}
	}
	return nil, errors.Newf(errors.CodeNotFound, "plan %s not found", id)
}

// ListActivePlans returns the ids of plans still executing.
func (o *Orchestrator) ListActivePlans() []string {
	return o.registry.ListActive()
}

// Plans returns a summary row per registered plan.
func (o *Orchestrator) Plans() []plans.Summary {
	return o.registry.Summaries()
}

// Cancel asks a running plan to stop.
func (o *Orchestrator) Cancel(id string) error {
	return o.registry.Cancel(id)
}

// Wait blocks until the plan finishes.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*engine.Report, error) {
	return o.registry.Wait(ctx, id)
}

// Close cancels every background run and waits for them to finish or for
// ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.closed.Do(func() {
		o.registry.StopSweeper()
		for _, id := range o.registry.ListActive() {
			_ = o.registry.Cancel(id)
		}
		o.stop()
	})
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "orchestrator close timed out", ctx.Err())
	}
}
