package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/orchestra/pkg/core"
)

func TestEmitStampsIDAndTimestamp(t *testing.T) {
	sink := NewMemorySink()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := New(sink, WithClock(func() time.Time { return fixed }))

	first := b.Emit(context.Background(), core.AgentCommunication{PlanID: "p", From: "a", To: "b", Type: core.CommHandoff})
	second := b.Emit(context.Background(), core.AgentCommunication{PlanID: "p", Type: core.CommCompletion})

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Less(t, first.ID, second.ID, "ulids are time-sortable")
	assert.Equal(t, fixed, first.Timestamp)

	comms := sink.Communications()
	require.Len(t, comms, 2)
	assert.Equal(t, core.CommHandoff, comms[0].Type)
	assert.Len(t, sink.Communications(core.CommCompletion), 1)
}

func TestEmitKeepsExplicitID(t *testing.T) {
	b := New(nil)
	out := b.Emit(context.Background(), core.AgentCommunication{ID: "given"})
	assert.Equal(t, "given", out.ID)
}

func TestStatusLastWriteWins(t *testing.T) {
	sink := NewMemorySink()
	b := New(sink)
	ctx := context.Background()

	_, ok := b.LatestStatus(core.RoleQAEngineer)
	assert.False(t, ok)

	b.UpdateStatus(ctx, core.AgentStatus{Worker: core.RoleQAEngineer, State: core.WorkerWorking, Progress: 10})
	b.UpdateStatus(ctx, core.AgentStatus{Worker: core.RoleQAEngineer, State: core.WorkerCompleted, Progress: 100})
	b.UpdateStatus(ctx, core.AgentStatus{Worker: core.RoleArchitect, State: core.WorkerIdle})

	latest, ok := b.LatestStatus(core.RoleQAEngineer)
	require.True(t, ok)
	assert.Equal(t, core.WorkerCompleted, latest.State)
	assert.Equal(t, 100, latest.Progress)
	assert.False(t, latest.UpdatedAt.IsZero())

	all := b.Statuses()
	require.Len(t, all, 2)
	assert.Equal(t, core.RoleArchitect, all[0].Worker)
	assert.Len(t, sink.StatusUpdates(core.RoleQAEngineer), 2)
}

func TestSinkFailuresAreContained(t *testing.T) {
	calls := 0
	b := New(SinkFunc(func(context.Context, Event) error {
		calls++
		if calls == 1 {
			return errors.New("sink down")
		}
		panic("boom")
	}))
	ctx := context.Background()

	assert.NotPanics(t, func() {
		b.Emit(ctx, core.AgentCommunication{Type: core.CommStatus})
		b.UpdateStatus(ctx, core.AgentStatus{Worker: core.RoleCoordinator})
	})
	assert.Equal(t, 2, calls)
	_, ok := b.LatestStatus(core.RoleCoordinator)
	assert.True(t, ok, "status is tracked even when delivery fails")
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	b := New(sink)
	ctx := context.Background()

	b.Emit(ctx, core.AgentCommunication{Message: "one"})
	b.Emit(ctx, core.AgentCommunication{Message: "two"})

	ev := <-sink.C()
	assert.Equal(t, "one", ev.Communication.Message)
	assert.Equal(t, uint64(1), sink.Dropped())

	sink.Close()
	sink.Close()
	b.Emit(ctx, core.AgentCommunication{Message: "three"})
	assert.Equal(t, uint64(2), sink.Dropped())
}

func TestMultiSink(t *testing.T) {
	a, c := NewMemorySink(), NewMemorySink()
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("nope") })
	m := MultiSink{a, failing, nil, c}

	err := m.Deliver(context.Background(), Event{Communication: &core.AgentCommunication{}})
	assert.Error(t, err)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, c.Events(), 1)
}

func TestHubRoutesByPlan(t *testing.T) {
	hub := NewHub()
	planA, cancelA := hub.Subscribe("a", 4)
	all, cancelAll := hub.Subscribe("", 4)
	defer cancelAll()

	b := New(hub)
	ctx := context.Background()
	b.Emit(ctx, core.AgentCommunication{PlanID: "a", Message: "for a"})
	b.Emit(ctx, core.AgentCommunication{PlanID: "b", Message: "for b"})

	ev := <-planA
	assert.Equal(t, "for a", ev.Communication.Message)
	select {
	case extra := <-planA:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
	assert.Len(t, all, 2)

	cancelA()
	cancelA()
	_, open := <-planA
	assert.False(t, open)
}

func TestConcurrentUpdates(t *testing.T) {
	sink := NewMemorySink()
	b := New(sink)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.UpdateStatus(context.Background(), core.AgentStatus{Worker: core.RoleGeneralAssistant, Progress: i})
		}(i)
	}
	wg.Wait()
	assert.Len(t, sink.StatusUpdates(""), 50)
}
