// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package portal

import (
	"context"
	"errors"
	"strings"
)

// TransientError indicates a failure that a later retry may resolve,
// such as a timeout, dropped connection or portal maintenance window.
type TransientError struct {
	Message string
	Cause   error
}

// NewTransientError creates a transient automation error.
func NewTransientError(message string, cause error) *TransientError {
	return &TransientError{Message: message, Cause: cause}
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// PermanentError indicates a failure retrying cannot fix, such as the
// portal rejecting the submitted data or a changed page structure.
type PermanentError struct {
	Message string
	Cause   error
}

// NewPermanentError creates a permanent automation error.
func NewPermanentError(message string, cause error) *PermanentError {
	return &PermanentError{Message: message, Cause: cause}
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether the error is classified transient.
// Unclassified errors are treated as transient so an unknown failure
// mode gets the benefit of the retry budget rather than being parked.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	return !errors.As(err, &pe)
}

// IsPermanent reports whether the error is classified permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Classify wraps an untyped automation error into the transient or
// permanent taxonomy based on its message. Typed errors pass through
// unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	var pe *PermanentError
	if errors.As(err, &te) || errors.As(err, &pe) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTransientError("portal session interrupted", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rejected", "rechazad", "invalid vin", "datos incorrectos", "not eligible"):
		return NewPermanentError("portal rejected submission", err)
	case containsAny(msg, "node not found", "no nodes", "selector", "element not visible"):
		// Selector misses mean the page changed underneath us.
		return NewPermanentError("portal page structure changed", err)
	case containsAny(msg, "timeout", "deadline", "timed out", "connection", "refused", "reset",
		"maintenance", "502", "503", "504", "unavailable"):
		return NewTransientError("portal unavailable", err)
	default:
		return NewTransientError("portal automation failed", err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
