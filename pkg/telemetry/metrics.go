// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
)

// EngineMetrics records engine measurements as OpenTelemetry instruments.
// A nil *EngineMetrics is a valid no-op recorder.
type EngineMetrics struct {
	started    metric.Int64Counter
	finished   metric.Int64Counter
	retried    metric.Int64Counter
	blocked    metric.Int64Counter
	duration   metric.Float64Histogram
	plans      metric.Int64Counter
	iterations metric.Int64Histogram
	errs       metric.Int64Counter
	health     metric.Int64Gauge
}

// NewEngineMetrics creates the instruments on the global meter provider.
func NewEngineMetrics() (*EngineMetrics, error) {
	return NewEngineMetricsWithMeter(otel.Meter("orchestra/engine"))
}

// NewEngineMetricsWithMeter creates the instruments on meter.
func NewEngineMetricsWithMeter(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error
	if m.started, err = meter.Int64Counter("orchestra.tasks.started",
		metric.WithDescription("Task executions started by worker")); err != nil {
		return nil, err
	}
	if m.finished, err = meter.Int64Counter("orchestra.tasks.finished",
		metric.WithDescription("Task executions finished by worker and status")); err != nil {
		return nil, err
	}
	if m.retried, err = meter.Int64Counter("orchestra.tasks.retried",
		metric.WithDescription("Failed tasks requeued for another attempt")); err != nil {
		return nil, err
	}
	if m.blocked, err = meter.Int64Counter("orchestra.tasks.blocked",
		metric.WithDescription("Pending tasks found blocked on dependencies, per iteration")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("orchestra.task.duration",
		metric.WithDescription("Task execution time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.plans, err = meter.Int64Counter("orchestra.plans.finished",
		metric.WithDescription("Plan runs finished by outcome")); err != nil {
		return nil, err
	}
	if m.iterations, err = meter.Int64Histogram("orchestra.plan.iterations",
		metric.WithDescription("Loop iterations per plan run")); err != nil {
		return nil, err
	}
	if m.errs, err = meter.Int64Counter("orchestra.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.health, err = meter.Int64Gauge("orchestra.health.status",
		metric.WithDescription("Component health (0=unhealthy, 1=degraded, 2=healthy)")); err != nil {
		return nil, err
	}
	return m, nil
}

// TaskStarted implements engine.Metrics.
func (m *EngineMetrics) TaskStarted(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTaskWorker, role)))
}

// TaskFinished implements engine.Metrics.
func (m *EngineMetrics) TaskFinished(ctx context.Context, role, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrTaskWorker, role),
		attribute.String(AttrTaskStatus, status),
	)
	m.finished.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

// TaskRetried implements engine.Metrics.
func (m *EngineMetrics) TaskRetried(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.retried.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTaskWorker, role)))
}

// TasksBlocked implements engine.Metrics.
func (m *EngineMetrics) TasksBlocked(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.blocked.Add(ctx, int64(n))
}

// PlanFinished implements engine.Metrics.
func (m *EngineMetrics) PlanFinished(ctx context.Context, outcome string, iterations int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrPlanOutcome, outcome))
	m.plans.Add(ctx, 1, attrs)
	m.iterations.Record(ctx, int64(iterations), attrs)
}

// RecordError counts err under its code. Untyped errors count as UNKNOWN.
func (m *EngineMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code := "UNKNOWN"
	if e, ok := errors.As(err); ok {
		code = string(e.Code)
	}
	m.errs.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrComponent, component),
		attribute.Bool("fatal", errors.IsFatal(err)),
	))
}

// RecordHealth records a health check result.
func (m *EngineMetrics) RecordHealth(ctx context.Context, result core.HealthResult) {
	if m == nil {
		return
	}
	var v int64
	switch result.Status {
	case core.HealthHealthy:
		v = 2
	case core.HealthDegraded:
		v = 1
	}
	m.health.Record(ctx, v, metric.WithAttributes(attribute.String(AttrComponent, result.Component)))
}
