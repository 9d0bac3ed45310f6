package worker

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/llm"
)

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `koanf:"max_failures"`
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration `koanf:"timeout"`
	// Interval clears failure counts while closed. Zero never clears them.
	Interval time.Duration `koanf:"interval"`
}

// DefaultBreakerConfig returns the breaker settings used when none are given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, Interval: time.Minute}
}

type chunkStream = <-chan llm.StreamChunk

// guarded is a provider behind a circuit breaker. Only stream initiation is
// protected; failures reported inside an open stream do not trip it.
type guarded struct {
	name     string
	provider llm.Provider
	breaker  *gobreaker.CircuitBreaker[chunkStream]
}

func newGuarded(name string, p llm.Provider, cfg BreakerConfig, logger *slog.Logger) *guarded {
	def := DefaultBreakerConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	maxFailures := cfg.MaxFailures

	return &guarded{
		name:     name,
		provider: p,
		breaker: gobreaker.NewCircuitBreaker[chunkStream](gobreaker.Settings{
			Name:        "llm:" + name,
			MaxRequests: 1,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("worker.breaker.state",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
			// Caller cancellation and rejected requests say nothing about
			// upstream availability.
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.IsFatal(err) ||
					stderrors.Is(err, context.Canceled) ||
					stderrors.Is(err, context.DeadlineExceeded)
			},
		}),
	}
}

func (g *guarded) stream(ctx context.Context, req llm.ChatRequest) (chunkStream, error) {
	ch, err := g.breaker.Execute(func() (chunkStream, error) {
		return llm.Stream(ctx, g.provider, req)
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.New(errors.CodeLLMError, "provider "+g.name+" circuit open", err).
			WithContext("provider", g.name)
	}
	return ch, err
}

func (g *guarded) state() gobreaker.State {
	return g.breaker.State()
}
