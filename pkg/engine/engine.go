// Package engine drives orchestration plans to completion.
//
// A single loop owns each plan. Every iteration computes the ready set,
// dispatches it sequentially or in parallel, applies outcomes and retries,
// and reports blocked tasks. The loop ends when every task is completed,
// when nothing is left to run, when the run is cancelled, or when the
// iteration ceiling is reached.
package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/resilience"
	"github.com/jllopis/orchestra/pkg/roster"
)

const (
	// DefaultMaxIterations is the loop's safety ceiling.
	DefaultMaxIterations = 100
	// DefaultPollInterval is the pause between iterations.
	DefaultPollInterval = 100 * time.Millisecond
)

// Metrics receives engine measurements. See telemetry.EngineMetrics.
type Metrics interface {
	TaskStarted(ctx context.Context, role string)
	TaskFinished(ctx context.Context, role, status string, d time.Duration)
	TaskRetried(ctx context.Context, role string)
	TasksBlocked(ctx context.Context, n int)
	PlanFinished(ctx context.Context, outcome string, iterations int)
}

type noopMetrics struct{}

func (noopMetrics) TaskStarted(context.Context, string)                         {}
func (noopMetrics) TaskFinished(context.Context, string, string, time.Duration) {}
func (noopMetrics) TaskRetried(context.Context, string)                         {}
func (noopMetrics) TasksBlocked(context.Context, int)                           {}
func (noopMetrics) PlanFinished(context.Context, string, int)                   {}

// Engine executes plans with a TaskExecutor.
type Engine struct {
	executor     TaskExecutor
	broadcaster  *broadcast.Broadcaster
	roster       *roster.Roster
	maxIter      int
	poll         time.Duration
	backoff      resilience.RetryConfig
	taskTimeout  time.Duration
	maxParallel  int
	abandonStuck bool
	logger       *slog.Logger
	metrics      Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxIterations sets the iteration ceiling.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIter = n
		}
	}
}

// WithPollInterval sets the pause between iterations.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.poll = d
		}
	}
}

// WithRetryBackoff delays requeued tasks by cfg.Backoff(retryCount).
// Without it a failed task is ready again on the next iteration.
func WithRetryBackoff(cfg resilience.RetryConfig) Option {
	return func(e *Engine) { e.backoff = cfg }
}

// WithTaskTimeout bounds each executor call.
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Engine) { e.taskTimeout = d }
}

// WithMaxParallel bounds concurrent executor calls in a parallel round.
// Zero means unbounded.
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.maxParallel = n }
}

// WithCapabilities attaches a roster used to fill provider hints.
func WithCapabilities(r *roster.Roster) Option {
	return func(e *Engine) { e.roster = r }
}

// WithAbandonDeadlocked stops a run early once every pending task depends
// on a task that can never complete. By default such tasks are reported as
// blocked until the iteration ceiling.
func WithAbandonDeadlocked(enabled bool) Option {
	return func(e *Engine) { e.abandonStuck = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. A nil broadcaster discards events.
func New(executor TaskExecutor, b *broadcast.Broadcaster, opts ...Option) *Engine {
	if b == nil {
		b = broadcast.New(nil)
	}
	e := &Engine{
		executor:    executor,
		broadcaster: b,
		maxIter:     DefaultMaxIterations,
		poll:        DefaultPollInterval,
		logger:      slog.Default(),
		metrics:     noopMetrics{},
		tracer:      otel.Tracer("orchestra/engine"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Broadcaster returns the broadcaster events are emitted to.
func (e *Engine) Broadcaster() *broadcast.Broadcaster { return e.broadcaster }

// Start takes ownership of plan and returns a Run that has not begun executing.
func (e *Engine) Start(plan *core.OrchestrationPlan) *Run {
	if plan.TotalPhases == 0 {
		plan.TotalPhases = core.ComputeTotalPhases(plan.Tasks)
	}
	return newRun(plan)
}

// Run starts and executes plan, blocking until it finishes.
func (e *Engine) Run(ctx context.Context, plan *core.OrchestrationPlan) (*Report, error) {
	return e.Execute(ctx, e.Start(plan))
}
