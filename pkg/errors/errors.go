// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy used across Orchestra.
//
// Every error surfaced by the planner, the execution engine and the task
// executors is (or wraps) an *Error carrying a Code. The engine uses the
// Fatal flag to decide whether a failed task may be requeued.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Orchestra errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a plan, task or worker was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeClassification indicates a request could not be mapped to any worker role.
	CodeClassification ErrorCode = "CLASSIFICATION_ERROR"

	// CodeTaskFailed indicates the task executor reported a failure.
	CodeTaskFailed ErrorCode = "TASK_FAILED"

	// CodeDeadlock indicates pending tasks can never become ready.
	CodeDeadlock ErrorCode = "DEPENDENCY_DEADLOCK"

	// CodeNonTermination indicates the iteration ceiling was reached before completion.
	CodeNonTermination ErrorCode = "NON_TERMINATION"

	// CodeCancelled indicates a plan run was cancelled.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeStore indicates a persistence sink error.
	CodeStore ErrorCode = "STORE_ERROR"
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
	// Fatal marks the error as non-retryable. The engine ends a task
	// immediately when its executor returns a fatal error.
	Fatal bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Cause   string         `json:"cause,omitempty"`
		Fatal   bool           `json:"fatal"`
		Context map[string]any `json:"context,omitempty"`
	}{
		Code:    string(e.Code),
		Message: e.Message,
		Fatal:   e.Fatal,
		Context: e.Context,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// Newf creates a new Error without a cause using a format string.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// NewFatal creates a non-retryable Error.
func NewFatal(code ErrorCode, msg string, cause error) *Error {
	return New(code, msg, cause).WithFatal(true)
}

// Sentinel returns a code-only Error suitable as an errors.Is target.
func Sentinel(code ErrorCode) *Error {
	return &Error{Code: code}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithFatal sets whether the error is non-retryable.
func (e *Error) WithFatal(fatal bool) *Error {
	e.Fatal = fatal
	return e
}

// As attempts to extract an *Error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Wrap converts any error into an *Error, keeping existing typed errors intact.
func Wrap(err error, code ErrorCode, msg string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return New(code, msg, err)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// IsFatal reports whether err is explicitly tagged non-retryable.
func IsFatal(err error) bool {
	e, ok := As(err)
	return ok && e.Fatal
}

// HasCode reports whether any *Error in err's chain has the given code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, Sentinel(code))
}
