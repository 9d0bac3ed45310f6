// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
)

// Step scripts one executor call.
type Step struct {
	// Chunks are streamed in order before the final Done chunk.
	Chunks []string
	// Err ends the stream with a failure after Chunks.
	Err error
	// Delay is slept before the first chunk.
	Delay time.Duration
	// Hold blocks the call until it is closed or ctx is done.
	Hold <-chan struct{}
	// Truncate closes the stream without a Done chunk.
	Truncate bool
	Usage    *engine.Usage
}

// Reply returns a step that streams chunks and succeeds.
func Reply(chunks ...string) Step { return Step{Chunks: chunks} }

// Fail returns a step that fails with a retryable error.
func Fail(msg string) Step {
	return Step{Err: errors.New(errors.CodeTaskFailed, msg, nil)}
}

// FailFatal returns a step that fails with an error the engine never retries.
func FailFatal(msg string) Step {
	return Step{Err: errors.NewFatal(errors.CodeTaskFailed, msg, nil)}
}

// Call records one executor invocation.
type Call struct {
	Request  engine.ExecutionRequest
	Started  time.Time
	Finished time.Time
	Err      error
}

// ScriptedExecutor is an engine.TaskExecutor driven by per-task scripts.
// Scripts are keyed by task id or by role; a task id script wins. When a
// script runs out the default step is used.
type ScriptedExecutor struct {
	mu          sync.Mutex
	scripts     map[string][]Step
	fallback    Step
	calls       []Call
	inFlight    int
	maxInFlight int
	onCall      func(engine.ExecutionRequest)
}

// NewScriptedExecutor creates an executor whose default step replies "ok".
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{
		scripts:  make(map[string][]Step),
		fallback: Reply("ok"),
	}
}

// On queues steps for a task id or role.
func (s *ScriptedExecutor) On(key string, steps ...Step) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[key] = append(s.scripts[key], steps...)
	return s
}

// Default sets the step used when no script matches.
func (s *ScriptedExecutor) Default(step Step) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = step
	return s
}

// OnCall registers a hook invoked synchronously at the start of every call.
func (s *ScriptedExecutor) OnCall(fn func(engine.ExecutionRequest)) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCall = fn
	return s
}

// Execute implements engine.TaskExecutor.
func (s *ScriptedExecutor) Execute(ctx context.Context, req engine.ExecutionRequest) (<-chan engine.Chunk, error) {
	s.mu.Lock()
	step := s.next(req)
	idx := len(s.calls)
	s.calls = append(s.calls, Call{Request: req, Started: time.Now()})
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	hook := s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	out := make(chan engine.Chunk)
	go func() {
		defer close(out)
		final, err := s.play(ctx, step, out)
		// Settle before the terminal chunk so the engine never observes
		// completion ahead of the bookkeeping.
		s.mu.Lock()
		s.inFlight--
		s.calls[idx].Finished = time.Now()
		s.calls[idx].Err = err
		s.mu.Unlock()
		if final != nil {
			select {
			case out <- *final:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (s *ScriptedExecutor) next(req engine.ExecutionRequest) Step {
	for _, key := range []string{req.Task.ID, string(req.Role)} {
		if queue := s.scripts[key]; len(queue) > 0 {
			s.scripts[key] = queue[1:]
			return queue[0]
		}
	}
	return s.fallback
}

// play streams the step's chunks and returns the terminal chunk, if any,
// without sending it.
func (s *ScriptedExecutor) play(ctx context.Context, step Step, out chan<- engine.Chunk) (*engine.Chunk, error) {
	if step.Hold != nil {
		select {
		case <-step.Hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for _, text := range step.Chunks {
		select {
		case out <- engine.Chunk{Text: text}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	switch {
	case step.Err != nil:
		return &engine.Chunk{Err: step.Err}, step.Err
	case step.Truncate:
		return nil, fmt.Errorf("stream truncated")
	default:
		return &engine.Chunk{Done: true, Usage: step.Usage}, nil
	}
}

// Calls returns every recorded call in start order.
func (s *ScriptedExecutor) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsFor returns the calls made for a task id.
func (s *ScriptedExecutor) CallsFor(taskID string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Request.Task.ID == taskID {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns the number of calls made.
func (s *ScriptedExecutor) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// MaxConcurrent returns the highest number of calls observed in flight.
func (s *ScriptedExecutor) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}
