package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/config"
	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/guardrails"
	"github.com/jllopis/orchestra/pkg/history"
	"github.com/jllopis/orchestra/pkg/llm"
	"github.com/jllopis/orchestra/pkg/orchestrator"
	"github.com/jllopis/orchestra/pkg/planner"
	"github.com/jllopis/orchestra/pkg/resilience"
	"github.com/jllopis/orchestra/pkg/roster"
	"github.com/jllopis/orchestra/pkg/telemetry"
	"github.com/jllopis/orchestra/pkg/worker"
)

// app holds the components a command needs. Fields a command does not ask
// for stay nil.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	roster  *roster.Roster
	guard   *guardrails.Guard
	store   historyStore
	health  *core.HealthRegistry
	metrics *telemetry.EngineMetrics
	orch    *orchestrator.Orchestrator

	closers []func(context.Context) error
}

// historyStore is what the SQLite and memory stores both provide.
type historyStore interface {
	history.Store
	history.PlanArchive
}

// newBase configures logging and telemetry and loads the roster.
func newBase(ctx context.Context, cfg *config.Config, logOutput io.Writer) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: telemetry.ConfigureSlog(logOutput, cfg.Log.Level, cfg.Log.Format),
		health: core.NewHealthRegistry(),
	}
	shutdown, err := telemetry.Init(ctx, "orchestra", version, cfg.Telemetry)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "telemetry setup failed", err)
	}
	a.closers = append(a.closers, shutdown)

	a.roster, err = loadRoster(cfg.Roster)
	if err == nil {
		a.guard, err = newGuard(cfg.Guard, a.logger)
	}
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func newGuard(cfg config.GuardConfig, logger *slog.Logger) (*guardrails.Guard, error) {
	mode, err := guardrails.ParsePIIMode(cfg.PII)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "guardrails config is invalid", err)
	}
	opts := []guardrails.Option{guardrails.WithLogger(logger)}
	if cfg.PromptInjection {
		opts = append(opts, guardrails.WithScreener(guardrails.NewInjectionScreener(
			guardrails.WithThreshold(cfg.Threshold),
			guardrails.WithExtraPatterns(cfg.Patterns...),
		)))
	}
	if mode != guardrails.PIIOff {
		opts = append(opts, guardrails.WithScrubber(guardrails.NewPIIScrubber(mode, cfg.PIIKinds...)))
	}
	return guardrails.New(opts...), nil
}

func loadRoster(cfg config.RosterConfig) (*roster.Roster, error) {
	if cfg.File == "" {
		return roster.Default(), nil
	}
	r, err := roster.LoadFile(cfg.File, roster.Default())
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "roster file is invalid", err).WithContext("file", cfg.File)
	}
	return r, nil
}

// openStore opens the configured history store. The none driver returns a
// nil store.
func (a *app) openStore() error {
	switch strings.ToLower(a.cfg.Store.Driver) {
	case "", "none":
		return nil
	case "memory":
		a.store = history.NewMemoryStore()
		a.health.Register("store", core.StaticHealth(core.HealthHealthy, "in-memory history"))
	case "sqlite":
		s, err := history.OpenSQLite(a.cfg.Store.DSN, history.WithWriteRetry(resilience.DefaultRetryConfig()))
		if err != nil {
			return err
		}
		a.store = s
		a.health.Register("store", core.HealthCheckerFunc(s.Check))
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	default:
		return errors.Newf(errors.CodeInvalidInput, "unknown store driver %q", a.cfg.Store.Driver)
	}
	return nil
}

// newApp builds the full stack: store, executor, engine and orchestrator.
// Extra sinks receive every broadcast event next to the store and the log.
func newApp(ctx context.Context, cfg *config.Config, logOutput io.Writer, extra ...broadcast.Sink) (*app, error) {
	a, err := newBase(ctx, cfg, logOutput)
	if err != nil {
		return nil, err
	}
	if err := a.build(extra); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) build(extra []broadcast.Sink) error {
	if err := a.openStore(); err != nil {
		return err
	}

	exec, execHealth, err := newExecutor(a.cfg.Executor, a.logger)
	if err != nil {
		return err
	}
	a.health.Register("executor", execHealth)
	exec = a.guard.Executor(exec)

	a.metrics, err = telemetry.NewEngineMetrics()
	if err != nil {
		return errors.New(errors.CodeInternal, "engine metrics setup failed", err)
	}

	sinks := broadcast.MultiSink{broadcast.LogSink{Logger: a.logger}}
	if a.store != nil {
		sinks = append(sinks, a.store)
	}
	sinks = append(sinks, extra...)
	b := broadcast.New(sinks, broadcast.WithLogger(a.logger))

	eng := engine.New(exec, b, append(engineOptions(a.cfg.Engine),
		engine.WithCapabilities(a.roster),
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
	)...)

	opts := []orchestrator.Option{
		orchestrator.WithEngine(eng),
		orchestrator.WithPlanner(planner.New(planner.WithRoster(a.roster), planner.WithLogger(a.logger))),
		orchestrator.WithRetention(a.cfg.Plans.SweepInterval, a.cfg.Plans.Retention),
		orchestrator.WithGuard(a.guard),
		orchestrator.WithLogger(a.logger),
	}
	if a.store != nil {
		opts = append(opts, orchestrator.WithArchive(a.store))
	}
	a.orch, err = orchestrator.New(opts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.orch.Close)
	return nil
}

func engineOptions(cfg config.EngineConfig) []engine.Option {
	opts := []engine.Option{
		engine.WithPollInterval(cfg.PollInterval),
		engine.WithAbandonDeadlocked(cfg.AbandonDeadlocked),
	}
	if cfg.MaxIterations > 0 {
		opts = append(opts, engine.WithMaxIterations(cfg.MaxIterations))
	}
	if cfg.MaxParallel > 0 {
		opts = append(opts, engine.WithMaxParallel(cfg.MaxParallel))
	}
	if cfg.TaskTimeout > 0 {
		opts = append(opts, engine.WithTaskTimeout(cfg.TaskTimeout))
	}
	if cfg.Backoff.Enabled() {
		opts = append(opts, engine.WithRetryBackoff(cfg.Backoff))
	}
	return opts
}

// newExecutor builds the task executor named by cfg.Mode and a health
// checker for it.
func newExecutor(cfg config.ExecutorConfig, logger *slog.Logger) (engine.TaskExecutor, core.HealthChecker, error) {
	switch strings.ToLower(cfg.Mode) {
	case "echo":
		return worker.Echo{}, core.StaticHealth(core.HealthHealthy, "offline echo executor"), nil
	case "", "llm":
	default:
		return nil, nil, errors.Newf(errors.CodeInvalidInput, "unknown executor mode %q", cfg.Mode)
	}

	opts := []worker.Option{
		worker.WithFallback(cfg.Fallback),
		worker.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		worker.WithBreaker(worker.BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
			Interval:    cfg.Breaker.Interval,
		}),
		worker.WithTemperature(cfg.Temperature),
		worker.WithMaxTokens(cfg.MaxTokens),
		worker.WithLogger(logger),
	}
	for _, name := range cfg.Providers {
		p, err := newProvider(name, cfg)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, worker.WithProvider(name, p))
	}
	exec, err := worker.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	return exec, exec.Health(), nil
}

func newProvider(name string, cfg config.ExecutorConfig) (llm.Provider, error) {
	switch name {
	case "anthropic":
		apiKey := cfg.Anthropic.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return llm.NewAnthropic(
			llm.WithAnthropicModel(cfg.Anthropic.Model),
			llm.WithAPIKey(apiKey),
			llm.WithAnthropicBaseURL(cfg.Anthropic.BaseURL),
			llm.WithMaxTokens(int64(cfg.MaxTokens)),
		), nil
	case "ollama":
		return llm.NewOllama(cfg.Ollama.BaseURL, llm.WithOllamaModel(cfg.Ollama.Model)), nil
	case "mock":
		return &llm.MockProvider{Response: "done"}, nil
	}
	return nil, errors.Newf(errors.CodeInvalidInput, "unknown provider %q", name).
		WithContext("known", []string{"anthropic", "ollama", "mock"})
}

// available restricts the roster to the given worker keys.
func (a *app) available(workers []string) (*roster.Roster, error) {
	if len(workers) == 0 {
		return a.roster, nil
	}
	sub, err := a.roster.Subset(workers...)
	if err != nil {
		return nil, newInvalidArgumentError("--workers", err.Error())
	}
	return sub, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	if first != nil {
		return fmt.Errorf("shutdown: %w", first)
	}
	return nil
}
