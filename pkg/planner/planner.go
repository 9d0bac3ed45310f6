// Package planner turns a free-form request into an orchestration plan.
//
// The pipeline is classify → select → filter by roster → build → validate.
// Classifier and Selector are interfaces so keyword heuristics can be
// replaced without touching the execution engine.
package planner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/roster"
	"github.com/jllopis/orchestra/pkg/telemetry"
)

// Planner assembles plans from requests.
type Planner struct {
	classifier Classifier
	selector   Selector
	builder    Builder
	roster     *roster.Roster
	strategy   core.Strategy
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

// Option configures a Planner.
type Option func(*Planner)

// WithClassifier replaces the keyword classifier.
func WithClassifier(c Classifier) Option {
	return func(p *Planner) { p.classifier = c }
}

// WithSelector replaces the rule selector.
func WithSelector(s Selector) Option {
	return func(p *Planner) { p.selector = s }
}

// WithRoster sets the roster used when a request does not bring its own.
func WithRoster(r *roster.Roster) Option {
	return func(p *Planner) { p.roster = r }
}

// WithStrategy forces a dispatch strategy for every plan.
func WithStrategy(s core.Strategy) Option {
	return func(p *Planner) { p.strategy = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithClock overrides time and id generation, for tests.
func WithClock(now func() time.Time, newID func() string) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
		if newID != nil {
			p.newID = newID
		}
	}
}

// New creates a Planner with the keyword classifier, the rule selector and
// the built-in roster.
func New(opts ...Option) *Planner {
	p := &Planner{
		classifier: KeywordClassifier{},
		selector:   RuleSelector{},
		roster:     roster.Default(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("orchestra/planner"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Roster returns the default roster.
func (p *Planner) Roster() *roster.Roster { return p.roster }

// Plan builds a new, unregistered plan for request. available restricts the
// workers that may be assigned; nil means the planner's roster.
func (p *Planner) Plan(ctx context.Context, request string, available *roster.Roster) (*core.OrchestrationPlan, error) {
	ctx, span := p.tracer.Start(ctx, "planner.plan")
	defer span.End()

	request = strings.TrimSpace(request)
	if request == "" {
		err := errors.New(errors.CodeInvalidInput, "request is empty", nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty request")
		return nil, err
	}
	if available == nil {
		available = p.roster
	}

	complexity, intent := p.classifier.Classify(request)
	selected := p.selector.Select(request, intent, complexity)
	roles, err := filterRoles(selected, available)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		return nil, err
	}

	tasks := p.builder.Build(request, roles, complexity)
	if err := Validate(tasks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid task graph")
		return nil, errors.New(errors.CodeInternal, "built task graph is invalid", err)
	}

	strategy := p.strategy
	if strategy == "" {
		strategy = StrategyFor(complexity)
	}
	plan := &core.OrchestrationPlan{
		ID:                p.newID(),
		Request:           request,
		Intent:            intent,
		Complexity:        complexity,
		Roles:             roles,
		Tasks:             tasks,
		Strategy:          strategy,
		EstimatedDuration: EstimateDuration(complexity, len(tasks)),
		TotalPhases:       core.ComputeTotalPhases(tasks),
		CreatedAt:         p.now(),
	}

	span.SetAttributes(telemetry.PlanAttributes(plan.ID, intent, string(complexity), string(strategy), len(tasks))...)
	p.logger.InfoContext(ctx, "planner.plan.created",
		slog.String("plan_id", plan.ID),
		slog.String("intent", intent),
		slog.String("complexity", string(complexity)),
		slog.String("strategy", string(strategy)),
		slog.Int("tasks", len(tasks)),
		slog.Int("roles", len(roles)),
	)
	return plan, nil
}

// filterRoles keeps the selected roles present in the roster. When none
// survive, the generalist is used if the roster has one.
func filterRoles(selected []core.WorkerRole, available *roster.Roster) ([]core.WorkerRole, error) {
	var roles []core.WorkerRole
	for _, r := range selected {
		if available.Has(r) {
			roles = append(roles, r)
		}
	}
	if len(roles) > 0 {
		return roles, nil
	}
	if available.Has(core.RoleGeneralAssistant) {
		return []core.WorkerRole{core.RoleGeneralAssistant}, nil
	}
	return nil, errors.New(errors.CodeClassification, "no available worker can handle the request", nil).
		WithContext("selected", selected)
}
