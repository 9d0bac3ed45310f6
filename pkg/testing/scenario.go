// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing orchestration runs.
//
// This package includes:
//   - ScriptedExecutor, a TaskExecutor driven by per-task scripts
//   - Scenario definitions that plan and execute a request end to end
//   - Assertion helpers for plan state and emitted events
//
// Example usage:
//
//	exec := testing.NewScriptedExecutor().On("task-1-frontend", testing.Fail("flaky"))
//	scenario := testing.NewScenario("landing page").
//	    WithRequest("build a landing page").
//	    WithExecutor(exec).
//	    ExpectOutcome(engine.OutcomeCompleted).
//	    ExpectEvent(core.CommCompletion)
//
//	result := scenario.Run(t)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/planner"
	"github.com/jllopis/orchestra/pkg/roster"
)

// Scenario plans a request and executes it with a scripted executor.
type Scenario struct {
	name         string
	request      string
	roster       *roster.Roster
	plannerOpts  []planner.Option
	engineOpts   []engine.Option
	executor     engine.TaskExecutor
	timeout      time.Duration
	expectations []Expectation
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Plan     *core.OrchestrationPlan
	Report   *engine.Report
	Error    error
	Events   []broadcast.Event
	Duration time.Duration
}

// Communications returns the emitted communications of the given types,
// or all of them when no type is given.
func (r *ScenarioResult) Communications(types ...core.CommunicationType) []core.AgentCommunication {
	var out []core.AgentCommunication
	for _, ev := range r.Events {
		if ev.Communication == nil {
			continue
		}
		if len(types) > 0 && !oneOf(ev.Communication.Type, types) {
			continue
		}
		out = append(out, *ev.Communication)
	}
	return out
}

// Statuses returns the emitted status updates for worker, or all of them
// when worker is empty.
func (r *ScenarioResult) Statuses(worker core.WorkerRole) []core.AgentStatus {
	var out []core.AgentStatus
	for _, ev := range r.Events {
		if ev.Status == nil || (worker != "" && ev.Status.Worker != worker) {
			continue
		}
		out = append(out, *ev.Status)
	}
	return out
}

// NewScenario creates a scenario with the default roster and a 10s timeout.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:     name,
		roster:   roster.Default(),
		executor: NewScriptedExecutor(),
		timeout:  10 * time.Second,
	}
}

// WithRequest sets the request to plan.
func (s *Scenario) WithRequest(request string) *Scenario {
	s.request = request
	return s
}

// WithRoster sets the available workers.
func (s *Scenario) WithRoster(r *roster.Roster) *Scenario {
	s.roster = r
	return s
}

// WithExecutor sets the executor.
func (s *Scenario) WithExecutor(e engine.TaskExecutor) *Scenario {
	s.executor = e
	return s
}

// WithPlannerOptions appends planner options.
func (s *Scenario) WithPlannerOptions(opts ...planner.Option) *Scenario {
	s.plannerOpts = append(s.plannerOpts, opts...)
	return s
}

// WithEngineOptions appends engine options. A zero poll interval is always
// applied first so scenarios run fast.
func (s *Scenario) WithEngineOptions(opts ...engine.Option) *Scenario {
	s.engineOpts = append(s.engineOpts, opts...)
	return s
}

// WithTimeout bounds the whole run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectOutcome expects the run to end with outcome.
func (s *Scenario) ExpectOutcome(o engine.Outcome) *Scenario {
	return s.Expect(&outcomeExpectation{want: o})
}

// ExpectNoError expects the run to return no error.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects an error matching the given pattern.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectTaskStatus expects the task with id to end in status.
func (s *Scenario) ExpectTaskStatus(id string, status core.TaskStatus) *Scenario {
	return s.Expect(&taskStatusExpectation{id: id, want: status})
}

// ExpectEvent expects at least one communication of the given type.
func (s *Scenario) ExpectEvent(t core.CommunicationType) *Scenario {
	return s.Expect(&eventExpectation{kind: t})
}

// ExpectNoEvent expects no communication of the given type.
func (s *Scenario) ExpectNoEvent(t core.CommunicationType) *Scenario {
	return s.Expect(&eventExpectation{kind: t, absent: true})
}

// ExpectResult expects the task with id to have a result matching matcher.
func (s *Scenario) ExpectResult(id string, matcher StringMatcher) *Scenario {
	return s.Expect(&resultExpectation{id: id, matcher: matcher})
}

// Run plans and executes the scenario.
func (s *Scenario) Run(t *testing.T) *ScenarioResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	p := planner.New(append([]planner.Option{planner.WithRoster(s.roster)}, s.plannerOpts...)...)
	plan, err := p.Plan(ctx, s.request, nil)
	if err != nil {
		return &ScenarioResult{Error: err}
	}

	sink := broadcast.NewMemorySink()
	opts := append([]engine.Option{
		engine.WithPollInterval(0),
		engine.WithCapabilities(s.roster),
	}, s.engineOpts...)
	eng := engine.New(s.executor, broadcast.New(sink), opts...)

	start := time.Now()
	run := eng.Start(plan)
	report, err := eng.Execute(ctx, run)
	return &ScenarioResult{
		Plan:     run.Snapshot(),
		Report:   report,
		Error:    err,
		Events:   sink.Events(),
		Duration: time.Since(start),
	}
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()

	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{re: regexp.MustCompile(pattern)}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool { return strings.Contains(s, m.substr) }

func (m *containsMatcher) Description() string { return fmt.Sprintf("contains %q", m.substr) }

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool { return s == m.expected }

func (m *equalsMatcher) Description() string { return fmt.Sprintf("equals %q", m.expected) }

type regexMatcher struct {
	re *regexp.Regexp
}

func (m *regexMatcher) Match(s string) bool { return m.re.MatchString(s) }

func (m *regexMatcher) Description() string { return fmt.Sprintf("matches regex %q", m.re) }

// Expectation implementations

type outcomeExpectation struct {
	want engine.Outcome
}

func (e *outcomeExpectation) Check(r *ScenarioResult) error {
	if r.Report == nil {
		return fmt.Errorf("no report (error: %v)", r.Error)
	}
	if r.Report.Outcome != e.want {
		return fmt.Errorf("outcome %q", r.Report.Outcome)
	}
	return nil
}

func (e *outcomeExpectation) Description() string {
	return fmt.Sprintf("outcome %s", e.want)
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("expected no error, got: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string { return "no error" }

type errorExpectation struct {
	matcher StringMatcher
}

func (e *errorExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected error matching %s, got nil", e.matcher.Description())
	}
	if !e.matcher.Match(r.Error.Error()) {
		return fmt.Errorf("error %q does not match: %s", r.Error.Error(), e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return fmt.Sprintf("error %s", e.matcher.Description())
}

type taskStatusExpectation struct {
	id   string
	want core.TaskStatus
}

func (e *taskStatusExpectation) Check(r *ScenarioResult) error {
	if r.Plan == nil {
		return fmt.Errorf("no plan")
	}
	task, ok := r.Plan.Task(e.id)
	if !ok {
		return fmt.Errorf("task %q not in plan", e.id)
	}
	if task.Status != e.want {
		return fmt.Errorf("task %q is %s", e.id, task.Status)
	}
	return nil
}

func (e *taskStatusExpectation) Description() string {
	return fmt.Sprintf("task %s %s", e.id, e.want)
}

type eventExpectation struct {
	kind   core.CommunicationType
	absent bool
}

func (e *eventExpectation) Check(r *ScenarioResult) error {
	n := len(r.Communications(e.kind))
	switch {
	case e.absent && n > 0:
		return fmt.Errorf("%d %q events emitted", n, e.kind)
	case !e.absent && n == 0:
		return fmt.Errorf("event type %q was not emitted", e.kind)
	}
	return nil
}

func (e *eventExpectation) Description() string {
	if e.absent {
		return fmt.Sprintf("no %q event", e.kind)
	}
	return fmt.Sprintf("event %q emitted", e.kind)
}

type resultExpectation struct {
	id      string
	matcher StringMatcher
}

func (e *resultExpectation) Check(r *ScenarioResult) error {
	if r.Plan == nil {
		return fmt.Errorf("no plan")
	}
	task, ok := r.Plan.Task(e.id)
	if !ok {
		return fmt.Errorf("task %q not in plan", e.id)
	}
	if got := task.Result; !e.matcher.Match(got) {
		return fmt.Errorf("result %q does not match: %s", got, e.matcher.Description())
	}
	return nil
}

func (e *resultExpectation) Description() string {
	return fmt.Sprintf("task %s result %s", e.id, e.matcher.Description())
}

func oneOf(t core.CommunicationType, types []core.CommunicationType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
