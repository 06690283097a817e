// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// mockRunnable is a test double for the Runnable interface.
type mockRunnable struct {
	runErr   error
	runCount atomic.Int32
}

func (m *mockRunnable) Run(ctx context.Context) error {
	m.runCount.Add(1)
	if m.runErr != nil {
		return m.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnableService_Interface(t *testing.T) {
	var _ suture.Service = (*RunnableService)(nil)
}

func TestNewRunnableService(t *testing.T) {
	r := &mockRunnable{}
	svc := NewRunnableService("document-workers", r)

	if svc == nil {
		t.Fatal("NewRunnableService returned nil")
	}
	if svc.String() != "document-workers" {
		t.Errorf("expected name 'document-workers', got %q", svc.String())
	}
}

func TestRunnableService_Serve(t *testing.T) {
	t.Run("delegates to Run until context canceled", func(t *testing.T) {
		r := &mockRunnable{}
		svc := NewRunnableService("sweeper", r)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := svc.Serve(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
		if r.runCount.Load() != 1 {
			t.Errorf("expected 1 Run call, got %d", r.runCount.Load())
		}
	})

	t.Run("propagates Run errors", func(t *testing.T) {
		r := &mockRunnable{runErr: errors.New("pool crashed")}
		svc := NewRunnableService("document-workers", r)

		err := svc.Serve(context.Background())
		if err == nil || err.Error() != "pool crashed" {
			t.Errorf("expected pool crashed, got %v", err)
		}
	})
}
