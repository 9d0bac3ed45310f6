// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"regexp"
)

// injectionPatterns cover instruction overrides, persona switches, prompt
// extraction, jailbreak phrasing and chat-template delimiters.
var injectionPatterns = []string{
	`(?i)(ignore|disregard|forget|override)\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`,

	`(?i)you\s+are\s+now\s+(a|an)\s+`,
	`(?i)pretend\s+(you\s+are|to\s+be)\s+`,
	`(?i)roleplay\s+as\s+`,

	`(?i)(what\s+(is|are)|show\s+me|reveal|print|display)\s+your\s+(system\s+)?(prompt|instructions?)`,

	`(?i)do\s+anything\s+now`,
	`(?i)\bDAN\s+mode`,
	`(?i)jailbreak`,
	`(?i)bypass\s+(safety|content|filter)`,
	`(?i)(developer|sudo|admin|maintenance)\s+mode`,

	`(?i)\]\]\s*system\s*:`,
	`<\|[a-z_]+\|>`,
	`\[/?INST\]`,
	`<</?SYS>>`,
}

// InjectionScreener flags requests that try to take over the workers'
// instructions.
type InjectionScreener struct {
	patterns  []*regexp.Regexp
	threshold float64
}

// InjectionOption configures an InjectionScreener.
type InjectionOption func(*InjectionScreener)

// WithExtraPatterns adds patterns. Patterns that fail to compile are
// skipped.
func WithExtraPatterns(patterns ...string) InjectionOption {
	return func(s *InjectionScreener) {
		for _, p := range patterns {
			if re, err := regexp.Compile(p); err == nil {
				s.patterns = append(s.patterns, re)
			}
		}
	}
}

// WithThreshold sets the confidence a request needs to be flagged. One
// match scores 0.7 and each extra match adds 0.1.
func WithThreshold(t float64) InjectionOption {
	return func(s *InjectionScreener) {
		if t >= 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// NewInjectionScreener creates a screener with the built-in patterns.
func NewInjectionScreener(opts ...InjectionOption) *InjectionScreener {
	s := &InjectionScreener{}
	for _, p := range injectionPatterns {
		s.patterns = append(s.patterns, regexp.MustCompile(p))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Screener.
func (s *InjectionScreener) Name() string { return "prompt-injection" }

// Screen implements Screener.
func (s *InjectionScreener) Screen(ctx context.Context, request string) Verdict {
	if request == "" {
		return Verdict{}
	}
	var matches []string
	for _, re := range s.patterns {
		if ctx.Err() != nil {
			return Verdict{}
		}
		if m := re.FindString(request); m != "" {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return Verdict{}
	}
	confidence := min(float64(6+len(matches))/10, 1.0)
	if confidence < s.threshold {
		return Verdict{Confidence: confidence, Matches: matches}
	}
	return Verdict{
		Flagged:    true,
		Reason:     "potential prompt injection",
		Screener:   s.Name(),
		Confidence: confidence,
		Matches:    matches,
	}
}
