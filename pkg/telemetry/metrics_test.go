package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/telemetry"
)

var _ engine.Metrics = (*telemetry.EngineMetrics)(nil)

func setup(t *testing.T) (*telemetry.EngineMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := telemetry.NewEngineMetricsWithMeter(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func sum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestEngineMetricsCounters(t *testing.T) {
	m, reader := setup(t)
	ctx := context.Background()

	m.TaskStarted(ctx, "architect")
	m.TaskStarted(ctx, "frontend-developer")
	m.TaskFinished(ctx, "architect", "completed", 20*time.Millisecond)
	m.TaskFinished(ctx, "frontend-developer", "failed", time.Second)
	m.TaskRetried(ctx, "frontend-developer")
	m.TasksBlocked(ctx, 3)
	m.TasksBlocked(ctx, 0)
	m.PlanFinished(ctx, "completed", 4)

	assert.Equal(t, int64(2), sum(t, reader, "orchestra.tasks.started"))
	assert.Equal(t, int64(2), sum(t, reader, "orchestra.tasks.finished"))
	assert.Equal(t, int64(1), sum(t, reader, "orchestra.tasks.retried"))
	assert.Equal(t, int64(3), sum(t, reader, "orchestra.tasks.blocked"))
	assert.Equal(t, int64(1), sum(t, reader, "orchestra.plans.finished"))
}

func TestRecordErrorAndHealth(t *testing.T) {
	m, reader := setup(t)
	ctx := context.Background()

	m.RecordError(ctx, errors.New(errors.CodeTimeout, "slow", nil), "engine")
	m.RecordError(ctx, context.Canceled, "worker")
	m.RecordError(ctx, nil, "worker")
	m.RecordHealth(ctx, core.HealthResult{Component: "store", Status: core.HealthDegraded})

	assert.Equal(t, int64(2), sum(t, reader, "orchestra.errors.total"))
}

func TestNilEngineMetricsIsNoop(t *testing.T) {
	var m *telemetry.EngineMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.TaskStarted(ctx, "x")
		m.TaskFinished(ctx, "x", "completed", time.Second)
		m.TaskRetried(ctx, "x")
		m.TasksBlocked(ctx, 1)
		m.PlanFinished(ctx, "completed", 1)
		m.RecordError(ctx, context.Canceled, "x")
		m.RecordHealth(ctx, core.HealthResult{})
	})
}
