// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires OpenTelemetry tracing and metrics and the slog
// handler used across the engine.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for orchestration spans and metrics.
const (
	AttrPlanID         = "orchestra.plan.id"
	AttrPlanIntent     = "orchestra.plan.intent"
	AttrPlanComplexity = "orchestra.plan.complexity"
	AttrPlanStrategy   = "orchestra.plan.strategy"
	AttrPlanTasks      = "orchestra.plan.tasks"
	AttrPlanOutcome    = "orchestra.plan.outcome"
	AttrPlanIterations = "orchestra.plan.iterations"

	AttrTaskID      = "orchestra.task.id"
	AttrTaskWorker  = "orchestra.task.worker"
	AttrTaskPhase   = "orchestra.task.phase"
	AttrTaskAttempt = "orchestra.task.attempt"
	AttrTaskStatus  = "orchestra.task.status"

	// LLM attributes follow the gen_ai conventions.
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"

	AttrProviderHint = "orchestra.provider.hint"
	AttrProviderUsed = "orchestra.provider.used"

	AttrErrorCode = "error.code"
	AttrComponent = "component"
)

// PlanAttributes describes a plan. Empty values are skipped.
func PlanAttributes(planID, intent, complexity, strategy string, tasks int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = appendString(attrs, AttrPlanID, planID)
	attrs = appendString(attrs, AttrPlanIntent, intent)
	attrs = appendString(attrs, AttrPlanComplexity, complexity)
	attrs = appendString(attrs, AttrPlanStrategy, strategy)
	return append(attrs, attribute.Int(AttrPlanTasks, tasks))
}

// PlanOutcomeAttributes describes how a run ended.
func PlanOutcomeAttributes(outcome string, iterations int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPlanOutcome, outcome),
		attribute.Int(AttrPlanIterations, iterations),
	}
}

// TaskAttributes describes one task attempt.
func TaskAttributes(taskID, worker, phase string, attempt int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = appendString(attrs, AttrTaskID, taskID)
	attrs = appendString(attrs, AttrTaskWorker, worker)
	attrs = appendString(attrs, AttrTaskPhase, phase)
	if attempt > 0 {
		attrs = append(attrs, attribute.Int(AttrTaskAttempt, attempt))
	}
	return attrs
}

// LLMAttributes describes an upstream model call.
func LLMAttributes(provider, model string, inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = appendString(attrs, AttrLLMProvider, provider)
	attrs = appendString(attrs, AttrLLMModel, model)
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}

func appendString(attrs []attribute.KeyValue, key, value string) []attribute.KeyValue {
	if value == "" {
		return attrs
	}
	return append(attrs, attribute.String(key, value))
}
