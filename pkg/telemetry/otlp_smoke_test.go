package telemetry_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/orchestra/pkg/telemetry"
)

// TestOTLPExportsPlanTelemetry pushes one plan span and the engine metrics to
// a live collector. It needs ORCHESTRA_OTLP_SMOKE_ENDPOINT.
func TestOTLPExportsPlanTelemetry(t *testing.T) {
	endpoint := os.Getenv("ORCHESTRA_OTLP_SMOKE_ENDPOINT")
	if endpoint == "" {
		t.Skip("set ORCHESTRA_OTLP_SMOKE_ENDPOINT to export to a collector")
	}

	shutdown, err := telemetry.Init(context.Background(), "orchestra-smoke", "dev", telemetry.Config{
		Exporter:           telemetry.ExporterOTLP,
		OTLPEndpoint:       endpoint,
		OTLPInsecure:       os.Getenv("ORCHESTRA_OTLP_SMOKE_INSECURE") == "true",
		OTLPTimeoutSeconds: 5,
		MetricInterval:     time.Second,
	})
	require.NoError(t, err)

	ctx, span := otel.Tracer("orchestra/smoke").Start(context.Background(), "engine.plan",
		trace.WithAttributes(telemetry.PlanAttributes("smoke-plan", "Web UI development", "moderate", "sequential", 2)...))
	m, err := telemetry.NewEngineMetrics()
	require.NoError(t, err)
	m.TaskStarted(ctx, "frontend-developer")
	m.TaskFinished(ctx, "frontend-developer", "completed", 20*time.Millisecond)
	m.PlanFinished(ctx, "completed", 2)
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))
}
