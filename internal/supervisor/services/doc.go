// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

/*
Package services provides suture.Service wrappers for Circulapp components.

This package adapts application components to the suture v4 supervision
model, translating various lifecycle patterns (Start/Stop, Run,
ListenAndServe) into suture's context-aware Serve pattern.

# Overview

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

The wrappers handle:
  - Lifecycle translation to the Serve pattern
  - Graceful shutdown via context cancellation
  - Error propagation for supervisor restart decisions
  - Service identification via fmt.Stringer

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts ListenAndServe pattern to Serve
  - Configurable shutdown timeout for draining connections

WebSocket Hub (WebSocketHubService):
  - Wraps websocket.Hub with context support
  - Handles client connection cleanup on shutdown

Runnable Components (RunnableService):
  - Wraps the document worker pool and the recovery sweeper
  - Both already block in Run until the context is canceled

Status Relay (RelayService):
  - Wraps websocket.StatusRelay's Start/Stop lifecycle
  - Start failures surface to the supervisor for backoff retry

Embedded Broker (BrokerService):
  - Watches the embedded NATS server and shuts it down on exit
  - Reports an error if the server stops unexpectedly

Audit Retention (RetentionService):
  - Runs the audit logger's retention cleanup routine
  - Exits when the supervision context is canceled

# Design Notes

Wrappers depend on small local interfaces instead of concrete types,
which keeps this package free of import cycles and makes the lifecycle
behavior testable with mocks.
*/
package services
