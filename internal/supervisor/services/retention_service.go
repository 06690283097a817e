// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package services

import (
	"context"
)

// RetentionRunner matches the audit logger's cleanup routine.
//
// Satisfied by *audit.Logger:
//   - StartCleanupRoutine(ctx context.Context)
type RetentionRunner interface {
	StartCleanupRoutine(ctx context.Context)
}

// RetentionService runs the audit retention cleanup under supervision.
//
// StartCleanupRoutine spawns its own ticker goroutine that exits when
// the context is canceled, so this wrapper starts it and then blocks
// until shutdown.
//
// Example usage:
//
//	svc := services.NewRetentionService(auditLogger)
//	tree.AddDataService(svc)
type RetentionService struct {
	runner RetentionRunner
	name   string
}

// NewRetentionService creates a supervised wrapper around the audit
// retention routine.
func NewRetentionService(runner RetentionRunner) *RetentionService {
	return &RetentionService{
		runner: runner,
		name:   "audit-retention",
	}
}

// Serve implements suture.Service.
func (s *RetentionService) Serve(ctx context.Context) error {
	s.runner.StartCleanupRoutine(ctx)
	<-ctx.Done()
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *RetentionService) String() string {
	return s.name
}
