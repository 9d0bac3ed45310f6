package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func asMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestPlanAttributes(t *testing.T) {
	got := asMap(PlanAttributes("plan-1", "", "complex", "hybrid", 5))
	assert.Equal(t, map[string]any{
		AttrPlanID:         "plan-1",
		AttrPlanComplexity: "complex",
		AttrPlanStrategy:   "hybrid",
		AttrPlanTasks:      int64(5),
	}, got)
}

func TestTaskAndLLMAttributes(t *testing.T) {
	got := asMap(TaskAttributes("task-1-plan", "architect", "plan", 0))
	assert.NotContains(t, got, AttrTaskAttempt)
	assert.Equal(t, "architect", got[AttrTaskWorker])

	got = asMap(LLMAttributes("anthropic", "", 12, 0))
	assert.Equal(t, map[string]any{
		AttrLLMProvider:    "anthropic",
		AttrLLMTokensInput: int64(12),
	}, got)

	got = asMap(PlanOutcomeAttributes("exhausted", 7))
	assert.Equal(t, int64(7), got[AttrPlanIterations])
}
