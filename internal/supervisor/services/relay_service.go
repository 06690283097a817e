// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package services

import (
	"context"
	"fmt"
)

// Relay matches components with an asynchronous Start/Stop lifecycle.
//
// Satisfied by *websocket.StatusRelay:
//   - Start(ctx context.Context) error
//   - Stop()
type Relay interface {
	Start(ctx context.Context) error
	Stop()
}

// RelayService wraps a status relay as a supervised service.
//
// The relay starts its own processing goroutine, so this wrapper
// translates that into suture's blocking Serve pattern:
//
//  1. Starts the relay (subscribes to the status topic)
//  2. Blocks until the context is canceled
//  3. Stops the relay and waits for its processor to drain
//
// Example usage:
//
//	relay := websocket.NewStatusRelay(source, hub)
//	svc := services.NewRelayService(relay)
//	tree.AddPipelineService(svc)
type RelayService struct {
	relay Relay
	name  string
}

// NewRelayService creates a supervised wrapper around a status relay.
func NewRelayService(relay Relay) *RelayService {
	return &RelayService{
		relay: relay,
		name:  "status-relay",
	}
}

// Serve implements suture.Service.
//
// A start failure is returned to the supervisor so the relay is
// retried with backoff, which covers transient broker outages.
func (s *RelayService) Serve(ctx context.Context) error {
	if err := s.relay.Start(ctx); err != nil {
		return fmt.Errorf("status relay start failed: %w", err)
	}

	<-ctx.Done()

	// Stop waits for the processing goroutine to finish.
	s.relay.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *RelayService) String() string {
	return s.name
}
