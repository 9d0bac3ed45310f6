// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// PIIMode selects how matched PII is replaced.
type PIIMode string

const (
	// PIIMask replaces a match with a placeholder such as [EMAIL].
	PIIMask PIIMode = "mask"
	// PIIHash replaces a match with a placeholder carrying a short hash so
	// repeated values can be correlated.
	PIIHash PIIMode = "hash"
	// PIIOff disables scrubbing.
	PIIOff PIIMode = "off"
)

// ParsePIIMode maps a config value to a PIIMode.
func ParsePIIMode(s string) (PIIMode, error) {
	switch m := PIIMode(strings.ToLower(strings.TrimSpace(s))); m {
	case PIIMask, PIIHash, PIIOff:
		return m, nil
	case "":
		return PIIOff, nil
	default:
		return "", fmt.Errorf("unknown pii mode %q (want mask, hash or off)", s)
	}
}

type piiRule struct {
	kind string
	re   *regexp.Regexp
	mask string
}

// Card numbers and SSNs go before phone numbers, which would otherwise
// swallow them.
var piiRules = []piiRule{
	{"credit_card", regexp.MustCompile(`\b[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}\b`), "[CREDIT_CARD]"},
	{"ssn", regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`), "[SSN]"},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{"api_key", regexp.MustCompile(`\b(sk-ant-[A-Za-z0-9_-]{16,}|sk-[A-Za-z0-9]{20,}|AKIA[0-9A-Z]{16})\b`), "[API_KEY]"},
	{"phone", regexp.MustCompile(`(?:\+1[-.\s]?)?\(?\b[0-9]{3}\)?[-.\s][0-9]{3}[-.\s][0-9]{4}\b`), "[PHONE]"},
	{"ip_address", regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`), "[IP_ADDRESS]"},
}

// PIIScrubber replaces personal data and credentials in worker output.
type PIIScrubber struct {
	mode  PIIMode
	kinds map[string]bool
}

// NewPIIScrubber creates a scrubber. With no kinds every built-in kind is
// scrubbed.
func NewPIIScrubber(mode PIIMode, kinds ...string) *PIIScrubber {
	s := &PIIScrubber{mode: mode, kinds: make(map[string]bool)}
	for _, k := range kinds {
		s.kinds[k] = true
	}
	return s
}

// Name implements Scrubber.
func (s *PIIScrubber) Name() string { return "pii" }

// Scrub implements Scrubber.
func (s *PIIScrubber) Scrub(ctx context.Context, text string) (string, []Redaction) {
	if s.mode == PIIOff || text == "" {
		return text, nil
	}
	var redactions []Redaction
	for _, rule := range piiRules {
		if len(s.kinds) > 0 && !s.kinds[rule.kind] {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		matches := rule.re.FindAllStringIndex(text, -1)
		// Replace back to front so earlier offsets stay valid.
		for i := len(matches) - 1; i >= 0; i-- {
			start, end := matches[i][0], matches[i][1]
			replacement := s.replacement(rule, text[start:end])
			redactions = append(redactions, Redaction{Kind: rule.kind, Replacement: replacement, Position: start})
			text = text[:start] + replacement + text[end:]
		}
	}
	return text, redactions
}

func (s *PIIScrubber) replacement(rule piiRule, original string) string {
	if s.mode != PIIHash {
		return rule.mask
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(original))
	return fmt.Sprintf("%s_%08X]", strings.TrimSuffix(rule.mask, "]"), h.Sum32())
}
