// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	stderrors "errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jllopis/orchestra/pkg/errors"
)

// DefaultAnthropicModel is used when a request names no model.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider implements StreamingProvider for the Anthropic
// Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicOption configures an AnthropicProvider.
type AnthropicOption func(*anthropicConfig)

type anthropicConfig struct {
	model     string
	maxTokens int64
	opts      []option.RequestOption
}

// WithAnthropicModel sets the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(c *anthropicConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens sets the maximum tokens for responses.
func WithMaxTokens(tokens int64) AnthropicOption {
	return func(c *anthropicConfig) {
		if tokens > 0 {
			c.maxTokens = tokens
		}
	}
}

// WithAnthropicBaseURL sets a custom base URL.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(c *anthropicConfig) {
		if url != "" {
			c.opts = append(c.opts, option.WithBaseURL(url))
		}
	}
}

// WithAPIKey sets the API key. Without it the SDK reads ANTHROPIC_API_KEY.
func WithAPIKey(apiKey string) AnthropicOption {
	return func(c *anthropicConfig) {
		if apiKey != "" {
			c.opts = append(c.opts, option.WithAPIKey(apiKey))
		}
	}
}

// NewAnthropic creates a new Anthropic provider. SDK-level retries are
// disabled; the engine owns the retry policy.
func NewAnthropic(opts ...AnthropicOption) *AnthropicProvider {
	cfg := anthropicConfig{model: DefaultAnthropicModel, maxTokens: 4096}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(append([]option.RequestOption{option.WithMaxRetries(0)}, cfg.opts...)...),
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
	}
}

func (p *AnthropicProvider) params(req ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System:    system,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

// Chat implements Provider.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	message, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, anthropicError(err)
	}
	return &ChatResponse{Content: text(message), Usage: usage(message)}, nil
}

// ChatStream implements StreamingProvider.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)
		defer stream.Close()

		send := func(c StreamChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				send(StreamChunk{Error: errors.New(errors.CodeLLMError, "anthropic stream out of order", err)})
				return
			}
			ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if !send(StreamChunk{Content: delta.Text}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(StreamChunk{Error: anthropicError(err)})
			return
		}
		u := usage(&message)
		send(StreamChunk{Done: true, Usage: &u})
	}()
	return chunks, nil
}

func text(message *anthropic.Message) string {
	var out string
	for _, block := range message.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

func usage(message *anthropic.Message) Usage {
	in, out := int(message.Usage.InputTokens), int(message.Usage.OutputTokens)
	return Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if stderrors.As(err, &apiErr) {
		return statusError("anthropic", apiErr.StatusCode, apiErr.Error())
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.New(errors.CodeLLMError, "anthropic request failed", err)
}

// Ensure AnthropicProvider implements StreamingProvider.
var _ StreamingProvider = (*AnthropicProvider)(nil)
