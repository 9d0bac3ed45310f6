package engine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/planner"
	"github.com/jllopis/orchestra/pkg/resilience"
	"github.com/jllopis/orchestra/pkg/roster"
	otest "github.com/jllopis/orchestra/pkg/testing"
)

const fullStackRequest = "Build a full stack web application with a React frontend and a Go backend, " +
	"backed by a Postgres database, with user accounts and a clean interface; write unit tests " +
	"for every module and deploy it to a Kubernetes cluster today"

func newPlan(strategy core.Strategy, tasks ...*core.AgentTask) *core.OrchestrationPlan {
	return &core.OrchestrationPlan{
		ID:       "plan-test",
		Request:  "test request",
		Strategy: strategy,
		Tasks:    tasks,
	}
}

type harness struct {
	exec   *otest.ScriptedExecutor
	sink   *broadcast.MemorySink
	engine *engine.Engine
}

func newHarness(opts ...engine.Option) *harness {
	h := &harness{exec: otest.NewScriptedExecutor(), sink: broadcast.NewMemorySink()}
	h.engine = engine.New(h.exec, broadcast.New(h.sink),
		append([]engine.Option{engine.WithPollInterval(0)}, opts...)...)
	return h
}

func (h *harness) result(run *engine.Run, report *engine.Report, err error) *otest.ScenarioResult {
	return &otest.ScenarioResult{Plan: run.Snapshot(), Report: report, Error: err, Events: h.sink.Events()}
}

func TestLandingPageCompletes(t *testing.T) {
	plan, err := planner.New().Plan(context.Background(), "build a landing page", nil)
	require.NoError(t, err)

	h := newHarness(engine.WithCapabilities(roster.Default()))
	h.exec.On("task-1-frontend", otest.Reply("<html>", "</html>"))
	run := h.engine.Start(plan)
	report, err := h.engine.Execute(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeCompleted, report.Outcome)
	assert.Less(t, report.Iterations, engine.DefaultMaxIterations)
	assert.Equal(t, report.TotalPhases, report.CurrentPhase)

	res := h.result(run, report, err)
	otest.AssertPlan(t, res.Plan).IsComplete().TaskStatus("task-1-frontend", core.TaskStatusCompleted)
	otest.AssertEvents(t, res).
		Count(core.CommCompletion, 2).
		Count(core.CommError, 0).
		ProgressMonotonic(core.RoleFrontendDeveloper)

	task, _ := res.Plan.Task("task-1-frontend")
	assert.Equal(t, "<html></html>", task.Result)

	calls := h.exec.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Request.Capability)
	assert.Equal(t, "anthropic", calls[0].Request.ProviderHint)
	assert.Equal(t, "build a landing page", calls[0].Request.Request)

	final := res.Communications(core.CommCompletion)[1]
	assert.Equal(t, core.EndpointSystem, final.From)
	assert.Equal(t, core.EndpointUser, final.To)
}

func TestFullStackRespectsDependencies(t *testing.T) {
	plan, err := planner.New().Plan(context.Background(), fullStackRequest, nil)
	require.NoError(t, err)
	require.Equal(t, core.StrategyParallel, plan.Strategy)

	h := newHarness()
	run := h.engine.Start(plan)
	report, err := h.engine.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCompleted, report.Outcome)

	snap := run.Snapshot()
	otest.AssertPlan(t, snap).IsComplete().DependenciesRespected()
	assert.Equal(t, 5, snap.TotalPhases)

	started := make(map[string]time.Time)
	finished := make(map[string]time.Time)
	for _, c := range h.exec.Calls() {
		started[c.Request.Task.ID] = c.Started
		finished[c.Request.Task.ID] = c.Finished
	}
	for _, dep := range []string{"task-2-frontend", "task-3-backend"} {
		assert.False(t, started["task-4-integrate"].Before(finished[dep]), "integration waits for %s", dep)
	}
}

func TestRetryExhaustionBlocksDependents(t *testing.T) {
	build := core.NewTask("build", "build it", core.RoleFrontendDeveloper, core.PhaseFrontend, core.PriorityHigh)
	build.MaxRetries = 2
	verify := core.NewTask("verify", "verify it", core.RoleQAEngineer, core.PhaseTest, core.PriorityMedium, "build")

	h := newHarness(engine.WithMaxIterations(20))
	h.exec.On("build", otest.Fail("one"), otest.Fail("two"), otest.Fail("three"), otest.Reply("too late"))
	run := h.engine.Start(newPlan(core.StrategySequential, build, verify))
	report, err := h.engine.Execute(context.Background(), run)

	require.Error(t, err)
	assert.Equal(t, errors.CodeNonTermination, errors.CodeOf(err))
	assert.Equal(t, engine.OutcomeNonTerminating, report.Outcome)
	assert.Equal(t, 20, report.Iterations)

	res := h.result(run, report, err)
	otest.AssertPlan(t, res.Plan).
		IsNotComplete().
		TaskStatus("build", core.TaskStatusFailed).
		RetryCount("build", 2).
		ErrorContains("build", "three").
		TaskStatus("verify", core.TaskStatusPending).
		NeverStarted("verify")
	assert.Len(t, h.exec.CallsFor("build"), 3)
	assert.Empty(t, h.exec.CallsFor("verify"))

	blocked := res.Statuses(core.RoleQAEngineer)
	require.NotEmpty(t, blocked)
	for _, s := range blocked {
		assert.Equal(t, core.WorkerBlocked, s.State)
		assert.Equal(t, "waiting on 1 of 1 dependencies", s.BlockingReason)
	}
	otest.AssertEvents(t, res).NeverBlocked(core.RoleFrontendDeveloper)

	errs := res.Communications(core.CommError)
	require.Len(t, errs, 3)
	assert.Equal(t, true, errs[0].Metadata["requeued"])
	assert.Equal(t, false, errs[2].Metadata["requeued"])
}

func TestAbandonDeadlocked(t *testing.T) {
	build := core.NewTask("build", "build it", core.RoleFrontendDeveloper, core.PhaseFrontend, core.PriorityHigh)
	verify := core.NewTask("verify", "verify it", core.RoleQAEngineer, core.PhaseTest, core.PriorityMedium, "build")

	h := newHarness(engine.WithAbandonDeadlocked(true))
	h.exec.On("build", otest.FailFatal("cannot compile"))
	run := h.engine.Start(newPlan(core.StrategySequential, build, verify))
	report, err := h.engine.Execute(context.Background(), run)

	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeDeadlocked, report.Outcome)
	assert.Equal(t, 2, report.Iterations)
	assert.Equal(t, core.TaskCounts{Pending: 1, Failed: 1}, report.Counts)
}

func TestUnknownDependencyNeverRuns(t *testing.T) {
	orphan := core.NewTask("orphan", "needs a ghost", core.RoleArchitect, core.PhasePlan, core.PriorityLow, "ghost")

	h := newHarness(engine.WithMaxIterations(5))
	report, err := h.engine.Run(context.Background(), newPlan(core.StrategySequential, orphan))

	assert.Equal(t, errors.CodeNonTermination, errors.CodeOf(err))
	assert.Equal(t, 5, report.Iterations)
	assert.Zero(t, h.exec.CallCount())
}

func TestFatalFailureExhaustsPlan(t *testing.T) {
	only := core.NewTask("only", "just one", core.RoleBackendDeveloper, core.PhaseBackend, core.PriorityHigh)

	h := newHarness()
	h.exec.On("only", otest.FailFatal("bad credentials"))
	run := h.engine.Start(newPlan(core.StrategySequential, only))
	report, err := h.engine.Execute(context.Background(), run)

	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeExhausted, report.Outcome)
	otest.AssertPlan(t, run.Snapshot()).TaskStatus("only", core.TaskStatusFailed).RetryCount("only", 0)
	assert.Equal(t, 1, h.exec.CallCount())
}

func TestEmptyPlanIsExhausted(t *testing.T) {
	report, err := newHarness().engine.Run(context.Background(), newPlan(core.StrategySequential))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeExhausted, report.Outcome)
	assert.Equal(t, 1, report.Iterations)
}

func TestParallelRoundStartsEveryReadyTask(t *testing.T) {
	left := core.NewTask("left", "left half", core.RoleFrontendDeveloper, core.PhaseFrontend, core.PriorityHigh)
	right := core.NewTask("right", "right half", core.RoleBackendDeveloper, core.PhaseBackend, core.PriorityHigh)

	h := newHarness()
	run := h.engine.Start(newPlan(core.StrategyParallel, left, right))

	hold := make(chan struct{})
	var (
		calls    atomic.Int32
		mu       sync.Mutex
		observed []*core.OrchestrationPlan
	)
	h.exec.Default(otest.Step{Hold: hold, Chunks: []string{"done"}})
	h.exec.OnCall(func(engine.ExecutionRequest) {
		mu.Lock()
		observed = append(observed, run.Snapshot())
		mu.Unlock()
		if calls.Add(1) == 2 {
			close(hold)
		}
	})

	report, err := h.engine.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 2, h.exec.MaxConcurrent())

	require.Len(t, observed, 2)
	for _, snap := range observed {
		assert.Equal(t, core.TaskCounts{InProgress: 2}, snap.Counts())
	}
}

func TestMaxParallelBoundsConcurrency(t *testing.T) {
	tasks := []*core.AgentTask{
		core.NewTask("a", "a", core.RoleFrontendDeveloper, core.PhaseFrontend, core.PriorityHigh),
		core.NewTask("b", "b", core.RoleBackendDeveloper, core.PhaseBackend, core.PriorityHigh),
		core.NewTask("c", "c", core.RoleDataEngineer, core.PhaseBackend, core.PriorityHigh),
	}
	h := newHarness(engine.WithMaxParallel(1))
	h.exec.Default(otest.Step{Chunks: []string{"x"}, Delay: 5 * time.Millisecond})

	report, err := h.engine.Run(context.Background(), newPlan(core.StrategyParallel, tasks...))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, h.exec.MaxConcurrent())
	assert.Equal(t, 2, report.Iterations, "one dispatch round plus the completion check")
}

func TestHandoffBetweenWorkers(t *testing.T) {
	design := core.NewTask("design", "design it", core.RoleArchitect, core.PhasePlan, core.PriorityCritical)
	build := core.NewTask("build", "build it", core.RoleFrontendDeveloper, core.PhaseFrontend, core.PriorityHigh, "design")
	polish := core.NewTask("polish", "polish it", core.RoleFrontendDeveloper, core.PhaseFrontend, core.PriorityLow, "build")

	h := newHarness()
	run := h.engine.Start(newPlan(core.StrategySequential, design, build, polish))
	report, err := h.engine.Execute(context.Background(), run)
	require.NoError(t, err)

	res := h.result(run, report, err)
	otest.AssertEvents(t, res).
		Count(core.CommHandoff, 1).
		Handoff(core.RoleArchitect, core.RoleFrontendDeveloper)
	// The ready set is never empty, so nothing is reported blocked.
	otest.AssertEvents(t, res).
		NeverBlocked(core.RoleFrontendDeveloper).
		Count(core.CommStatus, 0)
}

func TestTruncatedStreamIsRetried(t *testing.T) {
	only := core.NewTask("only", "stream", core.RoleTechnicalWriter, core.PhaseDocument, core.PriorityLow)

	h := newHarness()
	h.exec.On("only", otest.Step{Chunks: []string{"half"}, Truncate: true}, otest.Reply("whole"))
	run := h.engine.Start(newPlan(core.StrategySequential, only))
	report, err := h.engine.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCompleted, report.Outcome)

	otest.AssertPlan(t, run.Snapshot()).TaskStatus("only", core.TaskStatusCompleted).RetryCount("only", 1)
	errs := h.sink.Communications(core.CommError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "stream closed before completion")
}

func TestTaskTimeout(t *testing.T) {
	only := core.NewTask("only", "slow", core.RoleBackendDeveloper, core.PhaseBackend, core.PriorityHigh)

	h := newHarness(engine.WithTaskTimeout(20 * time.Millisecond))
	h.exec.On("only", otest.Step{Delay: time.Second}, otest.Reply("fast"))
	run := h.engine.Start(newPlan(core.StrategySequential, only))
	report, err := h.engine.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCompleted, report.Outcome)

	errs := h.sink.Communications(core.CommError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "timed out")
}

func TestRetryBackoffDelaysRequeue(t *testing.T) {
	only := core.NewTask("only", "flaky", core.RoleBackendDeveloper, core.PhaseBackend, core.PriorityHigh)
	backoff := resilience.DefaultRetryConfig().WithInitialDelay(40 * time.Millisecond).WithJitter(0)

	h := newHarness(engine.WithRetryBackoff(backoff))
	h.exec.On("only", otest.Fail("flaky"), otest.Reply("ok"))
	run := h.engine.Start(newPlan(core.StrategySequential, only))
	_, err := h.engine.Execute(context.Background(), run)
	require.NoError(t, err)

	calls := h.exec.Calls()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].Started.Sub(calls[0].Started), 40*time.Millisecond)
	assert.True(t, run.Snapshot().Tasks[0].NextAttemptAt.IsZero())
}

func TestCancelAbandonsInFlightTask(t *testing.T) {
	only := core.NewTask("only", "long", core.RoleDevOpsEngineer, core.PhaseDeploy, core.PriorityHigh)

	h := newHarness()
	run := h.engine.Start(newPlan(core.StrategySequential, only))
	h.exec.Default(otest.Step{Hold: make(chan struct{})})
	h.exec.OnCall(func(engine.ExecutionRequest) { run.Cancel() })

	report, err := h.engine.Execute(context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, errors.CodeCancelled, errors.CodeOf(err))
	assert.Equal(t, engine.OutcomeCancelled, report.Outcome)
	assert.True(t, run.Cancelled())
	assert.False(t, run.Active())

	otest.AssertPlan(t, run.Snapshot()).
		TaskStatus("only", core.TaskStatusInProgress).
		RetryCount("only", 0).
		ErrorContains("only", "abandoned")
	assert.Empty(t, h.sink.Communications(core.CommError))

	waited, werr := run.Wait(context.Background())
	assert.Equal(t, err, werr)
	assert.Equal(t, report.Outcome, waited.Outcome)
}

func TestContextCancellationStopsRun(t *testing.T) {
	only := core.NewTask("only", "blocked", core.RoleArchitect, core.PhasePlan, core.PriorityHigh, "ghost")

	h := newHarness(engine.WithPollInterval(10 * time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	report, err := h.engine.Run(ctx, newPlan(core.StrategySequential, only))
	assert.Equal(t, errors.CodeCancelled, errors.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, engine.OutcomeCancelled, report.Outcome)
	assert.Less(t, report.Iterations, engine.DefaultMaxIterations)
}

func TestExecuteTwiceIsRejected(t *testing.T) {
	h := newHarness()
	run := h.engine.Start(newPlan(core.StrategySequential,
		core.NewTask("only", "x", core.RoleArchitect, core.PhasePlan, core.PriorityHigh)))

	_, err := h.engine.Execute(context.Background(), run)
	require.NoError(t, err)
	_, err = h.engine.Execute(context.Background(), run)
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))
}

func TestProgressIsClampedBeforeCompletion(t *testing.T) {
	chunks := make([]string, 30)
	for i := range chunks {
		chunks[i] = "x"
	}
	only := core.NewTask("only", "chatty", core.RoleTechnicalWriter, core.PhaseDocument, core.PriorityLow)

	h := newHarness()
	h.exec.On("only", otest.Reply(chunks...))
	run := h.engine.Start(newPlan(core.StrategySequential, only))
	report, err := h.engine.Execute(context.Background(), run)
	require.NoError(t, err)

	statuses := h.sink.StatusUpdates(core.RoleTechnicalWriter)
	require.NotEmpty(t, statuses)
	for _, s := range statuses[:len(statuses)-1] {
		assert.LessOrEqual(t, s.Progress, 95)
	}
	last := statuses[len(statuses)-1]
	assert.Equal(t, core.WorkerCompleted, last.State)
	assert.Equal(t, 100, last.Progress)
	otest.AssertEvents(t, h.result(run, report, err)).ProgressMonotonic(core.RoleTechnicalWriter)
}

type recordingMetrics struct {
	mu       sync.Mutex
	started  int
	finished map[string]int
	retried  int
	blocked  int
	outcome  string
}

func (m *recordingMetrics) TaskStarted(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) TaskFinished(_ context.Context, _, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[status]++
}

func (m *recordingMetrics) TaskRetried(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

func (m *recordingMetrics) TasksBlocked(_ context.Context, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked += n
}

func (m *recordingMetrics) PlanFinished(_ context.Context, outcome string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcome = outcome
}

func TestMetricsAreRecorded(t *testing.T) {
	first := core.NewTask("first", "first", core.RoleArchitect, core.PhasePlan, core.PriorityHigh)
	second := core.NewTask("second", "second", core.RoleFrontendDeveloper, core.PhaseFrontend, core.PriorityHigh, "first")

	m := &recordingMetrics{finished: map[string]int{}}
	h := newHarness(engine.WithMetrics(m), engine.WithAbandonDeadlocked(true))
	h.exec.On("first", otest.Fail("x"), otest.FailFatal("y"))
	_, err := h.engine.Run(context.Background(), newPlan(core.StrategySequential, first, second))
	require.NoError(t, err)

	assert.Equal(t, 2, m.started)
	assert.Equal(t, 2, m.finished["failed"])
	assert.Equal(t, 1, m.retried)
	assert.Equal(t, 1, m.blocked)
	assert.Equal(t, "deadlocked", m.outcome)
}
