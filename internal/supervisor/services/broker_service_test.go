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

// mockBroker is a test double for the Broker interface.
type mockBroker struct {
	running       atomic.Bool
	shutdownErr   error
	shutdownCount atomic.Int32
}

func newMockBroker() *mockBroker {
	m := &mockBroker{}
	m.running.Store(true)
	return m
}

func (m *mockBroker) Shutdown(ctx context.Context) error {
	m.shutdownCount.Add(1)
	m.running.Store(false)
	return m.shutdownErr
}

func (m *mockBroker) IsRunning() bool {
	return m.running.Load()
}

func TestBrokerService_Interface(t *testing.T) {
	var _ suture.Service = (*BrokerService)(nil)
}

func TestNewBrokerService(t *testing.T) {
	svc := NewBrokerService(newMockBroker(), 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("expected default shutdown timeout 10s, got %v", svc.shutdownTimeout)
	}
	if svc.String() != "embedded-broker" {
		t.Errorf("expected 'embedded-broker', got %q", svc.String())
	}
}

func TestBrokerService_Serve(t *testing.T) {
	t.Run("shuts down broker on context cancel", func(t *testing.T) {
		broker := newMockBroker()
		svc := NewBrokerService(broker, 5*time.Second)

		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() {
			errCh <- svc.Serve(ctx)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Serve did not return after cancel")
		}

		if broker.shutdownCount.Load() != 1 {
			t.Errorf("expected 1 Shutdown call, got %d", broker.shutdownCount.Load())
		}
	})

	t.Run("errors when broker is not running at start", func(t *testing.T) {
		broker := newMockBroker()
		broker.running.Store(false)
		svc := NewBrokerService(broker, time.Second)

		err := svc.Serve(context.Background())
		if err == nil {
			t.Fatal("expected error for stopped broker")
		}
	})

	t.Run("returns shutdown error", func(t *testing.T) {
		broker := newMockBroker()
		broker.shutdownErr = errors.New("drain timed out")
		svc := NewBrokerService(broker, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := svc.Serve(ctx)
		if err == nil || err.Error() != "drain timed out" {
			t.Errorf("expected drain timed out, got %v", err)
		}
	})
}
