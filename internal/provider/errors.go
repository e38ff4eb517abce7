// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ============================================================================
// ERROR KINDS
// ============================================================================

// ErrorKind classifies why a provider call failed.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindRateLimited    ErrorKind = "rate_limited"
	KindUnavailable    ErrorKind = "unavailable"
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Error is the failure type every adapter returns.
type Error struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Status   int // HTTP status when the vendor answered, else 0
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind, so callers can write
// errors.Is(err, &provider.Error{Kind: provider.KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Provider == "" || t.Provider == e.Provider)
}

// Sentinels for errors.Is checks by kind.
var (
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrRateLimited    = &Error{Kind: KindRateLimited}
	ErrUnavailable    = &Error{Kind: KindUnavailable}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}

	// ErrNotConfigured indicates the adapter has no API key.
	ErrNotConfigured = errors.New("api key not configured")

	// ErrEmptyResponse indicates the vendor answered without any text.
	ErrEmptyResponse = errors.New("empty response")
)

// KindOf returns the kind of err, or KindUnavailable for errors that did not
// come from an adapter.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnavailable
}

// Wrap converts an arbitrary error into an *Error for provider name.
// Errors that are already *Error are returned unchanged.
func Wrap(name string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	kind := KindUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, ErrNotConfigured):
		kind = KindInvalidRequest
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = KindTimeout
		}
	}
	return &Error{Provider: name, Kind: kind, Message: err.Error(), Err: err}
}

// KindForStatus maps an HTTP status from a vendor API to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		return KindInvalidRequest
	default:
		return KindUnavailable
	}
}

// statusError builds an *Error from a non-2xx vendor response.
func statusError(name string, status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Provider: name, Kind: KindForStatus(status), Status: status, Message: message}
}
