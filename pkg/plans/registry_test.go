package plans_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/plans"
	otest "github.com/jllopis/orchestra/pkg/testing"
)

func plan(id string) *core.OrchestrationPlan {
	return &core.OrchestrationPlan{
		ID:       id,
		Request:  "request " + id,
		Strategy: core.StrategySequential,
		Tasks: []*core.AgentTask{
			core.NewTask("task-1-general", "do it", core.RoleGeneralAssistant, core.PhaseGeneral, core.PriorityMedium),
		},
	}
}

func TestRegistryLifecycle(t *testing.T) {
	hold := make(chan struct{})
	exec := otest.NewScriptedExecutor()
	eng := engine.New(exec, nil, engine.WithPollInterval(0))
	reg := plans.NewRegistry()

	first := eng.Start(plan("a"))
	second := eng.Start(plan("b"))
	require.NoError(t, reg.Register(first))
	require.NoError(t, reg.Register(second))
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(reg.Register(first)))

	_, err := eng.Execute(context.Background(), second)
	require.NoError(t, err)

	exec.On("task-1-general", otest.Step{Hold: hold, Chunks: []string{"done"}})
	go func() { _, _ = eng.Execute(context.Background(), first) }()

	assert.Equal(t, []string{"a", "b"}, reg.List())
	assert.Equal(t, []string{"a"}, reg.ListActive())

	snap, ok := reg.Get("b")
	require.True(t, ok)
	assert.True(t, snap.IsComplete)
	snap.Tasks[0].Status = core.TaskStatusFailed
	again, _ := reg.Get("b")
	assert.Equal(t, core.TaskStatusCompleted, again.Tasks[0].Status, "snapshots are copies")

	close(hold)
	report, err := reg.Wait(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCompleted, report.Outcome)
	assert.Empty(t, reg.ListActive())

	rows := reg.Summaries()
	require.Len(t, rows, 2)
	assert.Equal(t, "request a", rows[0].Request)
	assert.Equal(t, core.TaskCounts{Completed: 1}, rows[0].Counts)
	assert.False(t, rows[0].Active)
}

func TestRegistryCancel(t *testing.T) {
	exec := otest.NewScriptedExecutor().Default(otest.Step{Hold: make(chan struct{})})
	eng := engine.New(exec, nil, engine.WithPollInterval(0))
	reg := plans.NewRegistry()

	run := eng.Start(plan("c"))
	require.NoError(t, reg.Register(run))
	started := make(chan struct{})
	exec.OnCall(func(engine.ExecutionRequest) { close(started) })
	go func() { _, _ = eng.Execute(context.Background(), run) }()
	<-started

	require.NoError(t, reg.Cancel("c"))
	report, err := reg.Wait(context.Background(), "c")
	assert.Equal(t, errors.CodeCancelled, errors.CodeOf(err))
	assert.Equal(t, engine.OutcomeCancelled, report.Outcome)

	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(reg.Cancel("missing")))
	_, err = reg.Wait(context.Background(), "missing")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
	_, ok := reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistryRemoveAndPrune(t *testing.T) {
	eng := engine.New(otest.NewScriptedExecutor(), nil, engine.WithPollInterval(0))
	reg := plans.NewRegistry()

	done := eng.Start(plan("done"))
	idle := eng.Start(plan("idle"))
	require.NoError(t, reg.Register(done))
	require.NoError(t, reg.Register(idle))
	_, err := eng.Execute(context.Background(), done)
	require.NoError(t, err)

	assert.Equal(t, 0, reg.Prune(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, reg.Prune(time.Now().Add(time.Hour)), "only finished runs are pruned")
	assert.Equal(t, []string{"idle"}, reg.List())

	assert.True(t, reg.Remove("idle"))
	assert.True(t, idle.Cancelled(), "removing an active run cancels it")
	assert.False(t, reg.Remove("idle"))
}

func TestRegistrySweeper(t *testing.T) {
	eng := engine.New(otest.NewScriptedExecutor(), nil, engine.WithPollInterval(0))
	reg := plans.NewRegistry()

	run := eng.Start(plan("old"))
	require.NoError(t, reg.Register(run))
	_, err := eng.Execute(context.Background(), run)
	require.NoError(t, err)

	reg.StartSweeper(5*time.Millisecond, time.Nanosecond)
	defer reg.StopSweeper()
	require.Eventually(t, func() bool { return len(reg.List()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDescribe(t *testing.T) {
	p := plan("v")
	p.Tasks[0].Complete("done", time.Unix(10, 0))
	p.EstimatedDuration = 90 * time.Second

	v := plans.Describe(p)
	assert.Equal(t, "v", v.ID)
	assert.Equal(t, "1m30s", v.EstimatedDuration)
	assert.Nil(t, v.CompletedAt)
	require.Len(t, v.Tasks, 1)
	assert.Equal(t, core.TaskStatusCompleted, v.Tasks[0].Status)
	assert.Equal(t, "done", v.Tasks[0].Result)
	assert.Equal(t, 1, v.Counts.Completed)
}
