package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/jllopis/orchestra/pkg/errors"
)

// MockProvider is a testing implementation of StreamingProvider. It records
// every request and streams Response word by word.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	mu       sync.Mutex
	requests []ChatRequest
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{Content: m.Response, Usage: mockUsage()}, nil
}

// ChatStream implements StreamingProvider.
func (m *MockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(resp.Content, " ")
	out := make(chan StreamChunk, len(words)+1)
	for _, w := range words {
		if w != "" {
			out <- StreamChunk{Content: w}
		}
	}
	usage := resp.Usage
	out <- StreamChunk{Done: true, Usage: &usage}
	close(out)
	return out, nil
}

// Requests returns every request seen so far.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// FailingMockProvider always fails.
type FailingMockProvider struct {
	Err error
}

// Chat implements Provider.
func (f *FailingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.Err == nil {
		return nil, errors.New(errors.CodeLLMError, "mock error", nil)
	}
	return nil, f.Err
}

func mockUsage() Usage {
	return Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
}

var _ StreamingProvider = (*MockProvider)(nil)
