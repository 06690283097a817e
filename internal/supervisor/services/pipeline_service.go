// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package services

import (
	"context"
)

// Runnable matches components whose lifecycle is a single blocking
// Run call that returns when the context is canceled.
//
// Satisfied by *worker.Pool and *ingest.Sweeper.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableService wraps a Runnable as a supervised service.
//
// The worker pool and the recovery sweeper already implement the
// suture.Service pattern through their Run methods, so this wrapper
// simply delegates and provides a stable name for logging.
//
// Example usage:
//
//	pool, err := worker.NewPool(cfg, store, pub, sub, adapter, objects, notifier)
//	svc := services.NewRunnableService("document-workers", pool)
//	tree.AddPipelineService(svc)
type RunnableService struct {
	runnable Runnable
	name     string
}

// NewRunnableService creates a supervised wrapper around a Runnable.
func NewRunnableService(name string, r Runnable) *RunnableService {
	return &RunnableService{
		runnable: r,
		name:     name,
	}
}

// Serve implements suture.Service by delegating to the wrapped Run method.
func (s *RunnableService) Serve(ctx context.Context) error {
	return s.runnable.Run(ctx)
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *RunnableService) String() string {
	return s.name
}
