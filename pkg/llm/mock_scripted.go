package llm

import (
	"context"
	"sync"

	"github.com/jllopis/orchestra/pkg/errors"
)

// ScriptedMockProvider returns a pre-defined sequence of responses, one per
// call. Useful for exercising retries across several attempts.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	responses []scripted
	calls     int
}

type scripted struct {
	content string
	err     error
}

// NewScriptedMockProvider creates a provider that replies with responses in
// order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, r := range responses {
		s.responses = append(s.responses, scripted{content: r})
	}
	return s
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) *ScriptedMockProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, scripted{content: response})
	return s
}

// AddError appends a failure to the queue.
func (s *ScriptedMockProvider) AddError(err error) *ScriptedMockProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, scripted{err: err})
	return s
}

// Chat pops the next scripted entry.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.responses) == 0 {
		return nil, errors.New(errors.CodeLLMError, "scripted mock: no more responses available", nil)
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &ChatResponse{Content: next.content, Usage: mockUsage()}, nil
}

// CallCount reports how many times Chat has been called.
func (s *ScriptedMockProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// PeekNext returns the next scripted content, or empty string.
func (s *ScriptedMockProvider) PeekNext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return ""
	}
	return s.responses[0].content
}
