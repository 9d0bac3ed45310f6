package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jllopis/orchestra/pkg/core"
)

func TestTraceHandlerInjectsContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, slog.LevelDebug, "json"))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = core.WithTaskID(core.WithPlanID(ctx, "plan-1"), "task-1-plan")

	logger.DebugContext(ctx, "engine.task.start", slog.String("plan_id", "explicit"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])
	assert.Equal(t, "explicit", rec["plan_id"], "explicit attributes win")
	assert.Equal(t, "task-1-plan", rec["task_id"])
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestTextFormatWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, slog.LevelInfo, "text")).With("component", "engine")
	logger.InfoContext(context.Background(), "engine.plan.start")
	assert.Contains(t, buf.String(), "engine.plan.start")
	assert.Contains(t, buf.String(), "component=engine")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestSetLogLevelAppliesToConfiguredLogger(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "text")
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	SetLogLevel("debug")
	defer SetLogLevel("info")
	logger.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
