// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/reconcile"
	"github.com/jeranaias/promptlab/internal/storage"
)

// =============================================================================
// SENTINELS
// =============================================================================

var (
	// ErrNotFound is returned for an unknown conversation id.
	ErrNotFound = storage.ErrNotFound

	// ErrForbidden is returned when a conversation belongs to another user.
	ErrForbidden = errors.New("conversation belongs to another user")

	// ErrAllProvidersExhausted is matched by *ExhaustedError.
	ErrAllProvidersExhausted = errors.New("all providers failed")

	// ErrAnalysisDegraded appears in ExchangeResult.Warnings when sentiment
	// analysis failed.
	ErrAnalysisDegraded = errors.New("sentiment analysis unavailable")

	// ErrPersistenceFailure is matched by *PersistenceError.
	ErrPersistenceFailure = errors.New("exchange not fully persisted")

	// ErrPendingWrites is returned when an earlier exchange of the same
	// conversation still has writes that cannot be replayed.
	ErrPendingWrites = errors.New("conversation has unwritten messages")

	// ErrConfiguration is matched by *ConfigurationError.
	ErrConfiguration = errors.New("invalid orchestrator configuration")

	// ErrInvalidRequest is returned for a missing user or unusable text.
	ErrInvalidRequest = errors.New("invalid request")
)

// =============================================================================
// TYPED ERRORS
// =============================================================================

// AttemptError describes one failed provider call.
type AttemptError struct {
	Provider string             `json:"provider"`
	Kind     provider.ErrorKind `json:"kind"`
	Message  string             `json:"message"`
	Duration time.Duration      `json:"duration_ns"`
	Err      error              `json:"-"`
}

// Error implements the error interface.
func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the provider error.
func (e *AttemptError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when every candidate provider failed.
type ExhaustedError struct {
	Attempts []AttemptError
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i := range e.Attempts {
		parts[i] = e.Attempts[i].Error()
	}
	return fmt.Sprintf("%s: %s", ErrAllProvidersExhausted, strings.Join(parts, "; "))
}

// Is matches ErrAllProvidersExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// PersistenceError reports the first write that failed after a provider
// answered. The remaining writes were queued as reconciliation job JobID
// (empty when the queue refused it).
type PersistenceError struct {
	Stage reconcile.Step
	JobID string
	Err   error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s at %s: %v", ErrPersistenceFailure, e.Stage, e.Err)
}

// Unwrap returns the store error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is matches ErrPersistenceFailure.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailure
}

// ConfigurationError is returned by New for unusable settings.
type ConfigurationError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
