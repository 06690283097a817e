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

// FailedJob is one entry in the document queue's failed lane, persisted
// so it survives restarts. Entries are removed when the recovery
// controller re-drives the application.
type FailedJob struct {
	JobID          string    `json:"job_id"`
	ApplicationID  int64     `json:"application_id"`
	Attempts       int       `json:"attempts"`
	Classification string    `json:"classification"` // transient | permanent
	Error          string    `json:"error"`
	Source         string    `json:"source"` // automatic | manual-retry
	Actor          string    `json:"actor,omitempty"`
	Payload        []byte    `json:"payload,omitempty"`
	FirstFailure   time.Time `json:"first_failure"`
	LastFailure    time.Time `json:"last_failure"`
}

// InsertFailedJob records a job that exhausted its retries or hit a
// permanent error.
func (db *DB) InsertFailedJob(ctx context.Context, job *FailedJob) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if job.FirstFailure.IsZero() {
		job.FirstFailure = time.Now().UTC()
	}
	if job.LastFailure.IsZero() {
		job.LastFailure = job.FirstFailure
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO failed_jobs (job_id, application_id, attempts, classification, error, source, actor, payload, first_failure, last_failure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.ApplicationID, job.Attempts, job.Classification,
		job.Error, job.Source, job.Actor, job.Payload, job.FirstFailure, job.LastFailure)
	if err != nil {
		if isDuplicateKeyErr(err) {
			// Redelivered failure for a job already parked: keep the
			// first record, refresh the last failure time.
			_, uerr := db.conn.ExecContext(ctx,
				`UPDATE failed_jobs SET last_failure = ?, error = ?, attempts = ? WHERE job_id = ?`,
				job.LastFailure, job.Error, job.Attempts, job.JobID)
			if uerr != nil {
				return fmt.Errorf("failed to refresh failed job: %w", uerr)
			}
			return nil
		}
		return fmt.Errorf("failed to insert failed job: %w", err)
	}
	return nil
}

// DeleteFailedJobs removes all failed-lane entries for an application.
// Called by the recovery controller before re-enqueueing.
func (db *DB) DeleteFailedJobs(ctx context.Context, applicationID int64) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM failed_jobs WHERE application_id = ?`, applicationID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// ListFailedJobs returns failed-lane entries ordered oldest first.
func (db *DB) ListFailedJobs(ctx context.Context, limit, offset int) ([]*FailedJob, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT job_id, application_id, attempts, classification, error, source, actor, payload, first_failure, last_failure
		FROM failed_jobs ORDER BY first_failure ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*FailedJob
	for rows.Next() {
		job := &FailedJob{}
		if err := rows.Scan(
			&job.JobID, &job.ApplicationID, &job.Attempts, &job.Classification,
			&job.Error, &job.Source, &job.Actor, &job.Payload,
			&job.FirstFailure, &job.LastFailure); err != nil {
			return nil, fmt.Errorf("failed to scan failed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountFailedJobs returns the failed lane depth, exposed as a gauge.
func (db *DB) CountFailedJobs(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed jobs: %w", err)
	}
	return count, nil
}
