// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package queue provides the document generation job queue on NATS
// JetStream via Watermill.
//
// Jobs are published to per-tier subjects (normal and priority) on a
// single durable stream. Consumers are durable queue subscribers, so
// delivery is at-least-once: the worker layer pairs every claim with a
// compare-and-swap on the application row to make processing effectively
// once. Jobs that exhaust their retry budget are recorded in the failed
// lane for manual recovery.
//
// The package also manages an optional embedded NATS server for
// single-binary deployments and the JetStream stream lifecycle.
package queue
