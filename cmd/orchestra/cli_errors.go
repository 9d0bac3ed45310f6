// Copyright 2026 © The Orchestra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jllopis/orchestra/pkg/errors"
)

// CLIError wraps an *errors.Error with a hint for the user.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(err *errors.Error, hint string) *CLIError {
	return &CLIError{Err: err, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error to errors.As.
func (e *CLIError) Unwrap() error { return e.Err }

func newConfigError(err error, configPath string) *CLIError {
	ce := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)
	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(ce, hint)
}

func newInvalidArgumentError(arg, reason string) *CLIError {
	ce := errors.Newf(errors.CodeInvalidInput, "invalid argument: %s", reason).
		WithContext("argument", arg)
	return NewCLIError(ce, "run 'orchestra help' for usage information")
}

func newNotFoundError(resource, name string, cause error) *CLIError {
	ce := errors.New(errors.CodeNotFound, fmt.Sprintf("%s '%s' not found", resource, name), cause).
		WithContext("resource", resource)
	return NewCLIError(ce, fmt.Sprintf("list %ss with 'orchestra history'", resource))
}

// hintFor suggests a next step for errors raised outside the CLI.
func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeClassification:
		return "widen the roster with --workers or add a general-assistant worker"
	case errors.CodeNonTermination:
		return "raise engine.max_iterations or check for tasks that keep failing"
	case errors.CodeLLMError, errors.CodeRateLimit:
		return "check provider settings under executor, or run offline with --set executor.mode=echo"
	case errors.CodeStore:
		return "check store.dsn or disable history with --set store.driver=none"
	case errors.CodeTimeout:
		return "try increasing the timeout with --timeout"
	}
	return ""
}

// printError renders err as text or, with asJSON, as a JSON object.
func printError(w io.Writer, err error, asJSON bool) {
	code := errors.CodeOf(err)
	message := err.Error()
	hint := hintFor(code)

	var cliErr *CLIError
	if stderrors.As(err, &cliErr) && cliErr.Err != nil {
		message = cliErr.Err.Message
		if cliErr.Err.Err != nil {
			message += ": " + cliErr.Err.Err.Error()
		}
		hint = cliErr.Hint
	} else if typed, ok := errors.As(err); ok {
		message = typed.Message
		if typed.Err != nil {
			message += ": " + typed.Err.Error()
		}
	}

	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": string(code), "message": message, "hint": hint},
		})
		return
	}
	fmt.Fprintf(w, "%s [%s]: %s\n", color.RedString("Error"), FormatErrorCode(code), message)
	if hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", hint)
	}
}

// exitCode maps usage errors to 2 and everything else to 1.
func exitCode(err error) int {
	if errors.HasCode(err, errors.CodeInvalidInput) {
		return 2
	}
	return 1
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeClassification:
		return "No Worker"
	case errors.CodeTaskFailed:
		return "Task Failed"
	case errors.CodeDeadlock:
		return "Deadlock"
	case errors.CodeNonTermination:
		return "Did Not Finish"
	case errors.CodeCancelled:
		return "Cancelled"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeRateLimit:
		return "Rate Limited"
	case errors.CodeLLMError:
		return "LLM Error"
	case errors.CodeStore:
		return "Store Error"
	default:
		return string(code)
	}
}
