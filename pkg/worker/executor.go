// Package worker provides the LLM-backed engine.TaskExecutor. It renders a
// role prompt per task, routes the call to the provider named by the task's
// capability and falls back to the remaining providers when that one fails.
package worker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/llm"
	"github.com/jllopis/orchestra/pkg/resilience"
	"github.com/jllopis/orchestra/pkg/telemetry"
)

// Executor runs tasks against chat providers.
type Executor struct {
	providers   []*guarded
	byName      map[string]*guarded
	limiter     *rate.Limiter
	fallback    bool
	temperature float64
	maxTokens   int
	breaker     BreakerConfig
	logger      *slog.Logger
	tracer      trace.Tracer

	pending []namedProvider
}

type namedProvider struct {
	name     string
	provider llm.Provider
}

// Option configures an Executor.
type Option func(*Executor)

// WithProvider registers p under name. Registration order is the fallback
// order; the first provider also serves tasks with no or unknown hint.
func WithProvider(name string, p llm.Provider) Option {
	return func(e *Executor) {
		if name != "" && p != nil {
			e.pending = append(e.pending, namedProvider{name, p})
		}
	}
}

// WithRateLimit caps upstream calls at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Executor) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithFallback toggles falling back to other providers. Enabled by default.
func WithFallback(enabled bool) Option {
	return func(e *Executor) { e.fallback = enabled }
}

// WithBreaker sets the circuit breaker applied to every provider.
func WithBreaker(cfg BreakerConfig) Option {
	return func(e *Executor) { e.breaker = cfg }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Executor) { e.temperature = t }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(e *Executor) { e.maxTokens = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor. At least one provider is required.
func New(opts ...Option) (*Executor, error) {
	e := &Executor{
		byName:   make(map[string]*guarded),
		fallback: true,
		breaker:  DefaultBreakerConfig(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("orchestra/worker"),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, np := range e.pending {
		if _, dup := e.byName[np.name]; dup {
			return nil, errors.Newf(errors.CodeInvalidInput, "provider %s registered twice", np.name)
		}
		g := newGuarded(np.name, np.provider, e.breaker, e.logger)
		e.providers = append(e.providers, g)
		e.byName[np.name] = g
	}
	e.pending = nil
	if len(e.providers) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "worker executor needs at least one provider", nil)
	}
	return e, nil
}

// Providers returns the registered provider names in fallback order.
func (e *Executor) Providers() []string {
	names := make([]string, len(e.providers))
	for i, g := range e.providers {
		names[i] = g.name
	}
	return names
}

// route orders providers for a hint: the hinted one first, then the rest
// in registration order when fallback is enabled.
func (e *Executor) route(hint string) []*guarded {
	first, ok := e.byName[hint]
	if !ok {
		first = e.providers[0]
	}
	if !e.fallback {
		return []*guarded{first}
	}
	out := []*guarded{first}
	for _, g := range e.providers {
		if g != first {
			out = append(out, g)
		}
	}
	return out
}

// Execute implements engine.TaskExecutor.
func (e *Executor) Execute(ctx context.Context, req engine.ExecutionRequest) (<-chan engine.Chunk, error) {
	ctx, span := e.tracer.Start(ctx, "worker.execute",
		trace.WithAttributes(telemetry.TaskAttributes(req.Task.ID, string(req.Role), string(req.Task.Phase), req.Task.Attempts)...),
		trace.WithAttributes(attribute.String(telemetry.AttrProviderHint, req.ProviderHint)),
	)
	defer span.End()

	if e.limiter != nil {
		start := time.Now()
		if err := e.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			return nil, errors.New(errors.CodeRateLimit, "rate limit wait aborted", err)
		}
		if waited := time.Since(start); waited > time.Millisecond {
			e.logger.Debug("worker.rate_limited", slog.String("task_id", req.Task.ID), slog.Duration("waited", waited))
		}
	}

	chat := llm.ChatRequest{
		Messages:    Messages(req),
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	}
	route := e.route(req.ProviderHint)
	candidates := make([]resilience.Candidate[chunkStream], len(route))
	for i, g := range route {
		candidates[i] = resilience.Candidate[chunkStream]{
			Name: g.name,
			Call: func(ctx context.Context) (chunkStream, error) { return g.stream(ctx, chat) },
		}
	}

	upstream, used, err := resilience.FirstSuccess(ctx, candidates...)
	if err != nil {
		span.RecordError(err)
		e.logger.Warn("worker.execute.failed",
			slog.String("task_id", req.Task.ID),
			slog.String("role", string(req.Role)),
			slog.String("provider", used),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.AttrProviderUsed, used))
	span.SetAttributes(telemetry.LLMAttributes(used, chat.Model, 0, 0)...)
	if used != route[0].name {
		e.logger.Info("worker.fallback",
			slog.String("task_id", req.Task.ID),
			slog.String("preferred", route[0].name),
			slog.String("used", used),
		)
	}
	return relay(ctx, upstream), nil
}

// relay converts provider chunks into engine chunks. A provider stream that
// closes without Done is passed on as such.
func relay(ctx context.Context, in chunkStream) <-chan engine.Chunk {
	out := make(chan engine.Chunk)
	go func() {
		defer close(out)
		send := func(c engine.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for c := range in {
			switch {
			case c.Error != nil:
				send(engine.Chunk{Err: c.Error})
				return
			case c.Content != "":
				if !send(engine.Chunk{Text: c.Content}) {
					return
				}
			}
			if c.Done {
				var usage *engine.Usage
				if c.Usage != nil {
					usage = &engine.Usage{InputTokens: c.Usage.PromptTokens, OutputTokens: c.Usage.CompletionTokens}
				}
				send(engine.Chunk{Done: true, Usage: usage})
				return
			}
		}
	}()
	return out
}

// Health reports breaker state: every circuit open is unhealthy, some open
// is degraded.
func (e *Executor) Health() core.HealthChecker {
	return core.HealthCheckerFunc(func(context.Context) core.HealthResult {
		var open []string
		for _, g := range e.providers {
			if g.state() == gobreaker.StateOpen {
				open = append(open, g.name)
			}
		}
		switch {
		case len(open) == 0:
			return core.HealthResult{Status: core.HealthHealthy, Message: "all provider circuits closed"}
		case len(open) == len(e.providers):
			return core.HealthResult{Status: core.HealthUnhealthy, Message: "all provider circuits open"}
		default:
			return core.HealthResult{Status: core.HealthDegraded, Message: "open circuits: " + strings.Join(open, ", ")}
		}
	})
}

var _ engine.TaskExecutor = (*Executor)(nil)
