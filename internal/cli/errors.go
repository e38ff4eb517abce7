// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/promptlab/internal/config"
	"github.com/jeranaias/promptlab/internal/export"
	"github.com/jeranaias/promptlab/internal/orchestrator"
	"github.com/jeranaias/promptlab/internal/prompt"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess = 0
	// ExitGeneralError covers unexpected failures and configuration errors
	// found at startup.
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitForbidden     = 4
	ExitProviderError = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError is a failed command with context.
type CommandError struct {
	Command string // e.g. "export"
	Action  string // e.g. "write"
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError is bad user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason, Example: example}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return NewValidationErrorWithExample(argName, "", "required argument missing", usage)
}

// =============================================================================
// DISPLAY AND EXIT
// =============================================================================

// DisplayError prints err to stderr, or as a JSON document on stdout in
// JSON mode.
func DisplayError(err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		displayErrorJSON(err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

func displayErrorJSON(err error) {
	output := map[string]interface{}{
		"success":   false,
		"error":     err.Error(),
		"exit_code": GetExitCode(err),
	}

	var verr *ValidationError
	var cerr *CommandError
	switch {
	case errors.As(err, &verr):
		output["error_type"] = "validation_error"
		output["field"] = verr.Field
		if verr.Example != "" {
			output["example"] = verr.Example
		}
	case errors.As(err, &cerr):
		output["error_type"] = "command_error"
		output["command"] = cerr.Command
		output["action"] = cerr.Action
	default:
		output["error_type"] = "error"
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output)
}

// GetExitCode maps an error onto a process exit code.
func GetExitCode(err error) int {
	var (
		verr *ValidationError
		cerr *orchestrator.ConfigurationError
		vcfg config.ValidateErrors
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &cerr), errors.Is(err, orchestrator.ErrConfiguration):
		return ExitGeneralError
	case errors.As(err, &vcfg):
		return ExitConfigError
	case errors.As(err, &verr),
		errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, export.ErrUnsupportedFormat),
		errors.Is(err, prompt.ErrMissingVariable):
		return ExitUsageError
	case errors.Is(err, orchestrator.ErrForbidden):
		return ExitForbidden
	case errors.Is(err, orchestrator.ErrNotFound), errors.Is(err, prompt.ErrUnknownTemplate):
		return ExitNotFoundError
	case errors.Is(err, orchestrator.ErrAllProvidersExhausted):
		return ExitProviderError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	default:
		return ExitGeneralError
	}
}

// Exit displays err and exits with its code. A nil err returns.
func Exit(err error, jsonMode bool) {
	if err == nil {
		return
	}
	DisplayError(err, jsonMode)
	os.Exit(GetExitCode(err))
}
