// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package database

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEvent indicates a gateway event ID was already stored.
	// Callers treat this as a successful no-op: the first delivery's
	// side effects already happened.
	ErrDuplicateEvent = errors.New("duplicate gateway event")
)

// isDuplicateKeyErr reports whether err is a DuckDB unique-constraint
// violation. The driver surfaces constraint errors as text only.
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key") ||
		strings.Contains(msg, "violates unique constraint") ||
		strings.Contains(msg, "violates primary key constraint")
}
