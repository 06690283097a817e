// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package services

import (
	"context"
	"errors"
	"time"
)

// Broker matches the embedded message broker's lifecycle methods.
//
// Satisfied by *queue.EmbeddedServer:
//   - Shutdown(ctx context.Context) error
//   - IsRunning() bool
type Broker interface {
	Shutdown(ctx context.Context) error
	IsRunning() bool
}

// BrokerService supervises the embedded NATS server.
//
// The embedded server is already running when constructed, so this
// wrapper watches it for the lifetime of the process and performs a
// bounded graceful shutdown when the tree stops. If the server dies
// underneath us the service returns an error so the supervisor logs
// the failure; the server itself cannot be restarted in place, which
// makes this effectively fatal for the pipeline and surfaces quickly
// in the health endpoints.
//
// Example usage:
//
//	broker, err := queue.NewEmbeddedServer(cfg)
//	svc := services.NewBrokerService(broker, 10*time.Second)
//	tree.AddDataService(svc)
type BrokerService struct {
	broker          Broker
	shutdownTimeout time.Duration
	name            string
}

// NewBrokerService creates a supervised wrapper around the embedded broker.
func NewBrokerService(broker Broker, shutdownTimeout time.Duration) *BrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &BrokerService{
		broker:          broker,
		shutdownTimeout: shutdownTimeout,
		name:            "embedded-broker",
	}
}

// Serve implements suture.Service.
func (s *BrokerService) Serve(ctx context.Context) error {
	if !s.broker.IsRunning() {
		return errors.New("embedded broker is not running")
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Use a fresh context for shutdown since the original is canceled.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.broker.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return ctx.Err()

		case <-ticker.C:
			if !s.broker.IsRunning() {
				return errors.New("embedded broker stopped unexpectedly")
			}
		}
	}
}

// String implements fmt.Stringer for logging.
func (s *BrokerService) String() string {
	return s.name
}
