// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package ingest processes payment gateway webhooks.
//
// Every delivery is verified against the gateway's HMAC-SHA256
// signature, then recorded in the payment event store keyed by the
// gateway's event ID. The event store is the idempotency barrier:
// a redelivered event hits the primary key and is acknowledged without
// effect, no matter how many times the gateway retries.
//
// Events that do not line up with an application's current status are
// anomalies. They are stored, audited and acknowledged, never bounced
// back to the gateway: a 4xx/5xx would only make the gateway retry a
// delivery that will never apply.
//
// The package also runs the reconciliation sweeper that repairs the
// gaps at-least-once delivery leaves behind: paid applications whose
// enqueue publish was lost, queued rows whose requeue timer died with
// the process, running rows whose worker vanished, and cash voucher
// references that aged out unpaid.
package ingest
