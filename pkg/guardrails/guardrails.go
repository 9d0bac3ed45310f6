// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails screens orchestration requests before they are planned
// and scrubs worker output before it reaches the broadcaster.
//
// Screeners run in order and the first one that flags a request rejects it.
// Scrubbers run in sequence, each seeing the previous one's output.
package guardrails

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/errors"
)

// Verdict is the outcome of screening one request.
type Verdict struct {
	Flagged    bool
	Reason     string
	Screener   string
	Confidence float64
	Matches    []string
}

// Redaction records one replaced span of worker output. The original text
// is never kept.
type Redaction struct {
	Kind        string
	Replacement string
	Position    int
}

// Screener inspects a request before it is planned.
type Screener interface {
	Name() string
	Screen(ctx context.Context, request string) Verdict
}

// Scrubber rewrites worker output.
type Scrubber interface {
	Name() string
	Scrub(ctx context.Context, text string) (string, []Redaction)
}

// Guard runs screeners on requests and scrubbers on task output.
type Guard struct {
	screeners []Screener
	scrubbers []Scrubber
	failOpen  bool
	logger    *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithScreener appends a screener.
func WithScreener(s Screener) Option {
	return func(g *Guard) {
		if s != nil {
			g.screeners = append(g.screeners, s)
		}
	}
}

// WithScrubber appends a scrubber.
func WithScrubber(s Scrubber) Option {
	return func(g *Guard) {
		if s != nil {
			g.scrubbers = append(g.scrubbers, s)
		}
	}
}

// WithFailOpen lets requests through when screening is cancelled. The
// default rejects them.
func WithFailOpen(failOpen bool) Option {
	return func(g *Guard) { g.failOpen = failOpen }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether the guard has anything to run.
func (g *Guard) Enabled() bool {
	return g != nil && (len(g.screeners) > 0 || len(g.scrubbers) > 0)
}

// Check screens request and returns an INVALID_INPUT error naming the
// screener that flagged it.
func (g *Guard) Check(ctx context.Context, request string) error {
	if g == nil {
		return nil
	}
	for _, s := range g.screeners {
		if ctx.Err() != nil {
			if g.failOpen {
				return nil
			}
			return errors.New(errors.CodeCancelled, "request screening cancelled", ctx.Err())
		}
		v := s.Screen(ctx, request)
		if !v.Flagged {
			continue
		}
		g.logger.WarnContext(ctx, "guardrails.request.rejected",
			slog.String("screener", s.Name()),
			slog.String("reason", v.Reason),
			slog.Float64("confidence", v.Confidence),
		)
		return errors.New(errors.CodeInvalidInput, "request rejected: "+v.Reason, nil).
			WithContext("screener", s.Name()).
			WithContext("confidence", v.Confidence)
	}
	return nil
}

// Scrub runs every scrubber over text.
func (g *Guard) Scrub(ctx context.Context, text string) (string, []Redaction) {
	if g == nil || text == "" {
		return text, nil
	}
	var all []Redaction
	for _, s := range g.scrubbers {
		if ctx.Err() != nil {
			break
		}
		out, redactions := s.Scrub(ctx, text)
		text = out
		all = append(all, redactions...)
	}
	return text, all
}

// Executor wraps next so that task output is scrubbed before the engine
// sees it. Scrubbing needs whole matches, so the wrapped stream is buffered
// and released as one chunk when next finishes. A failed or truncated
// stream releases what it had and ends the same way.
func (g *Guard) Executor(next engine.TaskExecutor) engine.TaskExecutor {
	if g == nil || len(g.scrubbers) == 0 {
		return next
	}
	return engine.ExecutorFunc(func(ctx context.Context, req engine.ExecutionRequest) (<-chan engine.Chunk, error) {
		in, err := next.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		out := make(chan engine.Chunk)
		go func() {
			defer close(out)
			var b strings.Builder
			var last engine.Chunk
			for c := range in {
				b.WriteString(c.Text)
				if c.Done || c.Err != nil {
					last = engine.Chunk{Done: c.Done, Usage: c.Usage, Err: c.Err}
					break
				}
			}
			text, redactions := g.Scrub(ctx, b.String())
			if len(redactions) > 0 {
				g.logger.InfoContext(ctx, "guardrails.output.scrubbed",
					slog.String("plan_id", req.PlanID),
					slog.String("task_id", req.Task.ID),
					slog.Int("redactions", len(redactions)),
				)
			}
			send := func(c engine.Chunk) bool {
				select {
				case out <- c:
					return true
				case <-ctx.Done():
					return false
				}
			}
			if text != "" && !send(engine.Chunk{Text: text}) {
				return
			}
			if last.Done || last.Err != nil {
				send(last)
			}
		}()
		return out, nil
	})
}
