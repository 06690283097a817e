// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package worker consumes document generation jobs and drives them
// through the portal adapter to completion.
//
// Delivery is at-least-once, so every job starts with a conditional
// claim on the application row keyed by job ID and attempt. A delivery
// that loses the claim (superseded job, already completed, concurrent
// worker) is acknowledged and dropped without side effects.
//
// Failures split by classification: transient errors release the claim
// and requeue the next attempt after a fixed backoff step until the
// attempt budget is spent, permanent errors skip the budget entirely.
// Either way a job that will not be retried moves the application to
// GENERATION_FAILED and parks a record in the failed lane for the
// recovery endpoint.
package worker
