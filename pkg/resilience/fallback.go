// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jllopis/orchestra/pkg/errors"
)

// Candidate is one named alternative in a fallback chain.
type Candidate[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// FirstSuccess tries candidates in order and returns the first result
// that does not fail, together with the name of the candidate that produced it.
// A fatal error stops the chain immediately.
func FirstSuccess[T any](ctx context.Context, candidates ...Candidate[T]) (T, string, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, "", errors.New(errors.CodeInvalidInput, "no fallback candidates", nil)
	}

	var errs []error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, "", errors.New(errors.CodeCancelled, "fallback chain cancelled", err)
		}
		value, err := c.Call(ctx)
		if err == nil {
			return value, c.Name, nil
		}
		if errors.IsFatal(err) {
			return zero, c.Name, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
	}
	return zero, "", errors.New(errors.CodeLLMError, "all fallback candidates failed", stderrors.Join(errs...))
}
