package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/orchestra/pkg/engine"
)

// Echo is an offline executor that answers every task with a short note
// naming the worker and the task. It needs no provider and never fails,
// which makes it the executor for dry runs and demos.
type Echo struct{}

// Execute implements engine.TaskExecutor.
func (Echo) Execute(ctx context.Context, req engine.ExecutionRequest) (<-chan engine.Chunk, error) {
	reply := fmt.Sprintf("%s handled %s: %s", req.Role, req.Task.ID, req.Task.Description)
	words := strings.SplitAfter(reply, " ")
	out := make(chan engine.Chunk)
	go func() {
		defer close(out)
		for _, w := range words {
			select {
			case out <- engine.Chunk{Text: w}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- engine.Chunk{Done: true, Usage: &engine.Usage{OutputTokens: len(words)}}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

var _ engine.TaskExecutor = Echo{}
