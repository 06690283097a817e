// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

/*
Package websocket pushes application status changes to connected
frontend clients in real time.

Citizens watching their permit application see status transitions
(payment confirmed, permit generating, completed, failed) without
polling. The package uses the gorilla/websocket library with a
hub-client architecture.

Key Components:

  - Hub: manages client connections and broadcasts StatusUpdate messages
  - Client: one WebSocket connection with read/write pump goroutines
  - StatusRelay: bridges broker status updates into the local hub
  - NATSNotifier: publishes status changes to the broker for fan-out

Architecture:

	status change (ingest/worker/recovery)
	    |
	    v
	NATSNotifier ---> NATS "permits.status" ---> StatusRelay ---> Hub ---> Clients

In a single-replica deployment the Hub can be used as the notifier
directly; the broker hop exists so a status change made by one replica
reaches clients connected to any replica. Core NATS pub/sub is used
rather than JetStream because a missed update is cosmetic: the client
re-reads the status endpoint on reconnect.

Determinism:

Clients carry monotonically increasing IDs and broadcasts iterate them
in ID order, so delivery order is reproducible. The hub loop services
lifecycle events (register/unregister) before broadcasts, and context
cancellation before both, so shutdown is never starved by a busy
broadcast channel.

Slow clients:

A client whose send buffer is full when a broadcast arrives is dropped
and its connection closed. Clients are expected to reconnect and
re-read current state.

Usage:

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)

	relay := websocket.NewStatusRelay(hub, websocket.NewNATSSource(nc))
	if err := relay.Start(ctx); err != nil {
	    return err
	}
	defer relay.Stop()

	// In the HTTP handler:
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
	    return
	}
	client := websocket.NewClient(hub, conn)
	hub.Register <- client
	client.Start()
*/
package websocket
