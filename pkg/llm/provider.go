// Package llm defines the chat provider contract used by LLM-backed workers
// and ships Ollama, Anthropic and mock implementations.
package llm

import (
	"context"
	"net/http"

	"github.com/jllopis/orchestra/pkg/errors"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single unit of communication.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest encapsulates the input for the LLM.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse encapsulates the output from the LLM.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one piece of a streamed response. The last chunk of a
// successful stream has Done set and carries Usage.
type StreamChunk struct {
	Content string
	Done    bool
	Usage   *Usage
	Error   error
}

// Provider defines the interface for interacting with LLM backends.
type Provider interface {
	// Chat sends a chat request to the LLM and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamingProvider is a Provider that can stream its output.
type StreamingProvider interface {
	Provider
	// ChatStream sends a chat request and streams the response. The channel
	// is closed after the Done chunk, after an Error chunk or when ctx ends.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// Stream streams req through p, emulating a single-chunk stream when p
// cannot stream natively.
func Stream(ctx context.Context, p Provider, req ChatRequest) (<-chan StreamChunk, error) {
	if sp, ok := p.(StreamingProvider); ok {
		return sp.ChatStream(ctx, req)
	}
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk, 2)
	if resp.Content != "" {
		out <- StreamChunk{Content: resp.Content}
	}
	usage := resp.Usage
	out <- StreamChunk{Done: true, Usage: &usage}
	close(out)
	return out, nil
}

// statusError maps an upstream HTTP status to a typed error. Client errors
// other than rate limiting are fatal: retrying the same request cannot help.
func statusError(provider string, status int, detail string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return errors.Newf(errors.CodeRateLimit, "%s rate limited: %s", provider, detail).
			WithContext("status", status)
	case status >= 400 && status < 500 && status != http.StatusRequestTimeout:
		return errors.Newf(errors.CodeLLMError, "%s rejected request (%d): %s", provider, status, detail).
			WithContext("status", status).
			WithFatal(true)
	default:
		return errors.Newf(errors.CodeLLMError, "%s returned status %d: %s", provider, status, detail).
			WithContext("status", status)
	}
}
