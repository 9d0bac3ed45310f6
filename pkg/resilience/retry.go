// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry backoff and fallback chains.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jllopis/orchestra/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int `koanf:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `koanf:"initial_delay"`

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration `koanf:"max_delay"`

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64 `koanf:"multiplier"`

	// Jitter adds randomness to backoff. 0.1 means ±10%.
	Jitter float64 `koanf:"jitter"`

	// IsRecoverable determines if an error should be retried.
	// If nil, every error not tagged fatal is retried.
	IsRecoverable func(error) bool `koanf:"-"`
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Enabled reports whether the config produces any delay.
func (rc RetryConfig) Enabled() bool {
	return rc.InitialDelay > 0
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a new config with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a new config with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithJitter returns a new config with Jitter set.
func (rc RetryConfig) WithJitter(j float64) RetryConfig {
	rc.Jitter = j
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// Backoff returns the delay before retry number n (1-based).
func (rc RetryConfig) Backoff(n int) time.Duration {
	if n < 1 || rc.InitialDelay <= 0 {
		return 0
	}
	mult := rc.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(rc.InitialDelay) * math.Pow(mult, float64(n-1))
	if rc.MaxDelay > 0 && delay > float64(rc.MaxDelay) {
		delay = float64(rc.MaxDelay)
	}
	if rc.Jitter > 0 {
		delay += delay * rc.Jitter * (2*rand.Float64() - 1)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// Do executes fn with retry logic, returning the last error if all attempts fail.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, rc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue executes fn with retry logic and returns its result.
func DoValue[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = isRecoverableDefault
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(rc.Backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.New(errors.CodeCancelled, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-timer.C:
			}
		}

		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !recoverable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func isRecoverableDefault(err error) bool {
	return err != nil && !errors.IsFatal(err)
}
