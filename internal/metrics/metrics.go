// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook ingestion metrics
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total payment gateway webhook events received",
		},
		[]string{"gateway", "event_type", "outcome"}, // outcome: applied, noop, duplicate, anomaly
	)

	WebhookSignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Total webhook requests rejected for invalid signatures",
		},
		[]string{"gateway"},
	)

	// Application state machine metrics
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "application_status_transitions_total",
			Help: "Total application status transitions applied",
		},
		[]string{"from", "to"},
	)

	// Job queue metrics
	JobsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_published_total",
			Help: "Total generation jobs published to the queue",
		},
		[]string{"topic"},
	)

	JobsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total generation jobs completed successfully",
		},
	)

	JobsRetriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Total generation job attempts requeued after transient failure",
		},
	)

	JobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total generation jobs moved to the failed lane",
		},
		[]string{"classification"}, // transient, permanent
	)

	JobsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_dropped_total",
			Help: "Total job deliveries dropped without processing",
		},
		[]string{"reason"}, // claim_lost, parse_failed, superseded
	)

	JobAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_attempts_to_completion",
			Help:    "Attempts needed before a job completed",
			Buckets: []float64{1, 2, 3},
		},
	)

	FailedLaneDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failed_lane_depth",
			Help: "Current number of jobs parked in the failed lane",
		},
	)

	// Portal automation metrics
	PortalSubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_submission_duration_seconds",
			Help:    "Duration of government portal submission sessions",
			Buckets: []float64{5, 15, 30, 60, 120, 180, 300},
		},
		[]string{"outcome"}, // success, transient_error, permanent_error
	)

	PortalBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_circuit_breaker_open",
			Help: "1 when the portal circuit breaker is open, 0 otherwise",
		},
	)

	// Worker pool metrics
	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workers_busy",
			Help: "Number of workers currently processing a job",
		},
	)

	// Recovery metrics
	ManualRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manual_retries_total",
			Help: "Total applications re-enqueued via the recovery endpoint",
		},
		[]string{"outcome"}, // accepted, rejected, forced
	)

	SweeperRepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_repairs_total",
			Help: "Total inconsistencies repaired by the reconciliation sweeper",
		},
		[]string{"kind"}, // unenqueued_paid, stale_queued, stale_running, voucher_expired
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// WebSocket metrics
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of status-stream WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total status updates pushed over WebSocket",
		},
	)
)

// RecordWebhookEvent records one received gateway event and its outcome.
func RecordWebhookEvent(gateway, eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(gateway, eventType, outcome).Inc()
}

// RecordSignatureFailure records a rejected webhook signature.
func RecordSignatureFailure(gateway string) {
	WebhookSignatureFailures.WithLabelValues(gateway).Inc()
}

// RecordTransition records an applied status transition.
func RecordTransition(from, to string) {
	StatusTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordJobPublish records a job published to the given topic.
func RecordJobPublish(topic string) {
	JobsPublishedTotal.WithLabelValues(topic).Inc()
}

// RecordJobCompleted records a successful job and the attempts it took.
func RecordJobCompleted(attempts int) {
	JobsCompletedTotal.Inc()
	JobAttempts.Observe(float64(attempts))
}

// RecordJobRetried records a transient failure that was requeued.
func RecordJobRetried() {
	JobsRetriedTotal.Inc()
}

// RecordJobFailed records a job parked in the failed lane.
func RecordJobFailed(classification string) {
	JobsFailedTotal.WithLabelValues(classification).Inc()
}

// RecordJobDropped records a delivery dropped without processing.
func RecordJobDropped(reason string) {
	JobsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordPortalSubmission records one portal session with its outcome.
func RecordPortalSubmission(outcome string, duration time.Duration) {
	PortalSubmissionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetPortalBreakerOpen updates the circuit breaker state gauge.
func SetPortalBreakerOpen(open bool) {
	if open {
		PortalBreakerState.Set(1)
	} else {
		PortalBreakerState.Set(0)
	}
}

// RecordManualRetry records a recovery endpoint decision per application.
func RecordManualRetry(outcome string) {
	ManualRetriesTotal.WithLabelValues(outcome).Inc()
}

// RecordSweeperRepair records one repair by the reconciliation sweeper.
func RecordSweeperRepair(kind string) {
	SweeperRepairsTotal.WithLabelValues(kind).Inc()
}

// RecordAPIRequest records request metrics for an API endpoint.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDBQuery records query duration and any error.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}
