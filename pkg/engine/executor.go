package engine

import (
	"context"

	"github.com/jllopis/orchestra/pkg/core"
)

// Usage reports token consumption for one task execution.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chunk is one element of an execution stream. A stream ends successfully
// with a chunk whose Done is set; a chunk with Err ends it with a failure.
type Chunk struct {
	Text  string
	Done  bool
	Usage *Usage
	Err   error
}

// ExecutionRequest describes one task handed to an executor.
type ExecutionRequest struct {
	PlanID  string
	Request string
	Task    core.AgentTask
	Role    core.WorkerRole
	// ProviderHint names the upstream provider the worker prefers.
	ProviderHint string
	// Capability is nil when the engine has no roster.
	Capability *core.AgentCapability
}

// TaskExecutor runs a task and streams its output.
//
// Implementations must stop sending and close the channel once ctx is done.
// Any failure is retried by the engine unless it is tagged fatal with
// errors.NewFatal or (*errors.Error).WithFatal. A channel closed without a
// Done chunk is a retryable failure.
type TaskExecutor interface {
	Execute(ctx context.Context, req ExecutionRequest) (<-chan Chunk, error)
}

// ExecutorFunc adapts a function to TaskExecutor.
type ExecutorFunc func(ctx context.Context, req ExecutionRequest) (<-chan Chunk, error)

// Execute implements TaskExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecutionRequest) (<-chan Chunk, error) {
	return f(ctx, req)
}
