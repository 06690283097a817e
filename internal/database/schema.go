// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables.
//
// Tables:
//   - applications: the aggregate root, one row per permit request,
//     never deleted (compliance retention)
//   - payment_events: append-only gateway event store; the unique index
//     on gateway_event_id is the webhook idempotency guarantee
//   - failed_jobs: the document queue's failed lane, persisted so it
//     survives restarts and feeds the admin stuck list
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_application_id START 1`,

		`CREATE TABLE IF NOT EXISTS applications (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_application_id'),
			user_id BIGINT NOT NULL,
			status VARCHAR NOT NULL,
			payment_reference VARCHAR NOT NULL DEFAULT '',
			payment_method VARCHAR NOT NULL DEFAULT '',
			vehicle_vin VARCHAR NOT NULL DEFAULT '',
			vehicle_plate VARCHAR NOT NULL DEFAULT '',
			vehicle_make VARCHAR NOT NULL DEFAULT '',
			vehicle_model VARCHAR NOT NULL DEFAULT '',
			vehicle_year INTEGER NOT NULL DEFAULT 0,
			owner_name VARCHAR NOT NULL DEFAULT '',
			owner_address VARCHAR NOT NULL DEFAULT '',
			queue_job_id VARCHAR NOT NULL DEFAULT '',
			queue_status VARCHAR NOT NULL DEFAULT '',
			queue_attempts INTEGER NOT NULL DEFAULT 0,
			queue_enqueued_at TIMESTAMP,
			queue_started_at TIMESTAMP,
			queue_completed_at TIMESTAMP,
			queue_error VARCHAR NOT NULL DEFAULT '',
			doc_permit_key VARCHAR NOT NULL DEFAULT '',
			doc_certificate_key VARCHAR NOT NULL DEFAULT '',
			doc_plates_key VARCHAR NOT NULL DEFAULT '',
			doc_recommendations_key VARCHAR NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS payment_events (
			gateway_event_id VARCHAR PRIMARY KEY,
			gateway VARCHAR NOT NULL,
			event_type VARCHAR NOT NULL,
			application_id BIGINT NOT NULL,
			raw_payload BLOB,
			received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			applied BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS failed_jobs (
			job_id VARCHAR PRIMARY KEY,
			application_id BIGINT NOT NULL,
			attempts INTEGER NOT NULL,
			classification VARCHAR NOT NULL,
			error VARCHAR NOT NULL,
			source VARCHAR NOT NULL,
			actor VARCHAR NOT NULL DEFAULT '',
			payload BLOB,
			first_failure TIMESTAMP NOT NULL,
			last_failure TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status)`,
		`CREATE INDEX IF NOT EXISTS idx_applications_payment_ref ON applications(payment_reference)`,
		`CREATE INDEX IF NOT EXISTS idx_applications_updated ON applications(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_events_app ON payment_events(application_id)`,
		`CREATE INDEX IF NOT EXISTS idx_failed_jobs_app ON failed_jobs(application_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
