// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

/*
Package metrics provides Prometheus metrics collection and export for observability.

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8480/metrics

The package instruments:
  - Webhook ingestion: events received, duplicates, anomalies, signature failures
  - Application state transitions by from/to status
  - Job queue throughput: publishes, claims, completions, failures, retries
  - Portal automation latency and circuit breaker state
  - Worker pool occupancy
  - Failed lane depth
  - API request latency and throughput
  - Database query performance

All collectors are registered with promauto at package init, so importing
the package is sufficient to make metrics available to the default
registry served by promhttp.
*/
package metrics
