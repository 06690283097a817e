// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/circulapp/circulapp/internal/database/query"
	"github.com/circulapp/circulapp/internal/permit"
)

// applicationColumns is the SELECT list shared by all application reads.
const applicationColumns = `
	id, user_id, status, payment_reference, payment_method,
	vehicle_vin, vehicle_plate, vehicle_make, vehicle_model, vehicle_year,
	owner_name, owner_address,
	queue_job_id, queue_status, queue_attempts,
	queue_enqueued_at, queue_started_at, queue_completed_at, queue_error,
	doc_permit_key, doc_certificate_key, doc_plates_key, doc_recommendations_key,
	created_at, updated_at`

// scanApplication reads one application row.
func scanApplication(row interface{ Scan(...any) error }) (*permit.Application, error) {
	app := &permit.Application{}
	var enqueuedAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&app.ID, &app.UserID, &app.Status, &app.PaymentReference, &app.PaymentMethod,
		&app.Vehicle.VIN, &app.Vehicle.Plate, &app.Vehicle.Make, &app.Vehicle.Model, &app.Vehicle.Year,
		&app.Vehicle.OwnerName, &app.Vehicle.OwnerAddress,
		&app.QueueJobID, &app.QueueStatus, &app.QueueAttempts,
		&enqueuedAt, &startedAt, &completedAt, &app.QueueError,
		&app.Documents.Permit, &app.Documents.Certificate, &app.Documents.Plates, &app.Documents.Recommendations,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if enqueuedAt.Valid {
		app.QueueEnqueuedAt = &enqueuedAt.Time
	}
	if startedAt.Valid {
		app.QueueStartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		app.QueueCompletedAt = &completedAt.Time
	}
	return app, nil
}

// CreateApplication inserts a new application in AWAITING_PAYMENT and
// returns it with its assigned ID.
func (db *DB) CreateApplication(ctx context.Context, userID int64, method permit.PaymentMethod, vehicle permit.VehicleData) (*permit.Application, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `INSERT INTO applications (
		user_id, status, payment_method,
		vehicle_vin, vehicle_plate, vehicle_make, vehicle_model, vehicle_year,
		owner_name, owner_address
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING ` + applicationColumns

	row := db.conn.QueryRowContext(ctx, query,
		userID, permit.StatusAwaitingPayment, method,
		vehicle.VIN, vehicle.Plate, vehicle.Make, vehicle.Model, vehicle.Year,
		vehicle.OwnerName, vehicle.OwnerAddress,
	)

	app, err := scanApplication(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return app, nil
}

// GetApplication retrieves an application by ID.
func (db *DB) GetApplication(ctx context.Context, id int64) (*permit.Application, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = ?`
	app, err := scanApplication(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get application %d: %w", id, err)
	}
	return app, nil
}

// FindByPaymentReference resolves an application from the gateway's
// order/intent ID. Used when a webhook event does not carry the
// application ID in its metadata.
func (db *DB) FindByPaymentReference(ctx context.Context, ref string) (*permit.Application, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + applicationColumns + ` FROM applications WHERE payment_reference = ? LIMIT 1`
	app, err := scanApplication(db.conn.QueryRowContext(ctx, query, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find application by reference %q: %w", ref, err)
	}
	return app, nil
}

// SetPaymentReference records the gateway's order ID for an application.
// Called when the client selects a payment method and an order/intent is
// created at the gateway.
func (db *DB) SetPaymentReference(ctx context.Context, id int64, ref string, method permit.PaymentMethod) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE applications SET payment_reference = ?, payment_method = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		ref, method, id)
	if err != nil {
		return fmt.Errorf("failed to set payment reference: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus performs a compare-and-swap status update: it only
// applies when the row still holds the expected current status. Returns
// false when the CAS lost (the row moved concurrently); the caller must
// abort rather than double-apply.
func (db *DB) TransitionStatus(ctx context.Context, id int64, from, to permit.Status) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE applications SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition application %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// EnqueueForGeneration moves a paid application into the generation
// pipeline: PAYMENT_RECEIVED -> GENERATING_PERMIT with fresh queue
// bookkeeping. The WHERE clause requires that no job exists yet, which
// makes concurrent enqueue attempts (ingestor vs sweeper) collapse to
// exactly one winner.
func (db *DB) EnqueueForGeneration(ctx context.Context, id int64, jobID string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE applications SET
			status = ?, queue_job_id = ?, queue_status = ?,
			queue_attempts = 0, queue_enqueued_at = CURRENT_TIMESTAMP,
			queue_started_at = NULL, queue_completed_at = NULL, queue_error = '',
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND queue_status = ''`,
		permit.StatusGeneratingPermit, jobID, permit.QueueStatusQueued,
		id, permit.StatusPaymentReceived)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue application %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ResetForRetry re-arms a failed application for another generation
// attempt with a new job ID. The from status is a CAS guard: the
// recovery controller passes GENERATION_FAILED for normal retries and
// the application's observed status for forced overrides.
func (db *DB) ResetForRetry(ctx context.Context, id int64, jobID string, from permit.Status) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE applications SET
			status = ?, queue_job_id = ?, queue_status = ?,
			queue_attempts = 0, queue_enqueued_at = CURRENT_TIMESTAMP,
			queue_started_at = NULL, queue_completed_at = NULL, queue_error = '',
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		permit.StatusGeneratingPermit, jobID, permit.QueueStatusQueued,
		id, from)
	if err != nil {
		return false, fmt.Errorf("failed to reset application %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimForRun atomically marks a queued job as running. The job ID in
// the WHERE clause is the per-application mutual exclusion: a redelivered
// or superseded message whose job ID no longer matches the row loses the
// claim and must be dropped without side effects.
func (db *DB) ClaimForRun(ctx context.Context, id int64, jobID string, attempt int) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE applications SET
			queue_status = ?, queue_attempts = ?,
			queue_started_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND queue_status = ? AND queue_job_id = ?`,
		permit.QueueStatusRunning, attempt,
		id, permit.StatusGeneratingPermit, permit.QueueStatusQueued, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to claim application %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseForRetry returns a running job to the queued state after a
// transient failure, recording the error for the status projection.
func (db *DB) ReleaseForRetry(ctx context.Context, id int64, jobID, queueError string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE applications SET
			queue_status = ?, queue_started_at = NULL, queue_error = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND queue_status = ? AND queue_job_id = ?`,
		permit.QueueStatusQueued, queueError,
		id, permit.QueueStatusRunning, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to release application %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseStaleClaim force-releases a running claim regardless of job ID.
// Used only by the sweeper for claims whose worker is presumed dead.
func (db *DB) ReleaseStaleClaim(ctx context.Context, id int64, queueError string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE applications SET
			queue_status = ?, queue_started_at = NULL, queue_error = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND queue_status = ?`,
		permit.QueueStatusQueued, queueError,
		id, permit.QueueStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to release stale claim on application %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteGeneration records successful document production: status
// moves to COMPLETED, the four storage keys are set together, and the
// queue bookkeeping is cleared.
func (db *DB) CompleteGeneration(ctx context.Context, id int64, jobID string, keys permit.DocumentKeys) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE applications SET
			status = ?, queue_status = '', queue_error = '',
			queue_completed_at = CURRENT_TIMESTAMP,
			doc_permit_key = ?, doc_certificate_key = ?, doc_plates_key = ?, doc_recommendations_key = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND queue_status = ? AND queue_job_id = ?`,
		permit.StatusCompleted,
		keys.Permit, keys.Certificate, keys.Plates, keys.Recommendations,
		id, permit.StatusGeneratingPermit, permit.QueueStatusRunning, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to complete application %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FailGeneration moves a running job to the failed lane: status
// GENERATION_FAILED, queue_status failed, last error recorded with its
// transient/permanent classification tag.
func (db *DB) FailGeneration(ctx context.Context, id int64, jobID, queueError string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE applications SET
			status = ?, queue_status = ?, queue_error = ?,
			queue_completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND queue_status = ? AND queue_job_id = ?`,
		permit.StatusGenerationFailed, permit.QueueStatusFailed, queueError,
		id, permit.StatusGeneratingPermit, permit.QueueStatusRunning, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to fail application %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// listApplications runs a filtered SELECT and scans all rows.
func (db *DB) listApplications(ctx context.Context, query string, args ...any) ([]*permit.Application, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*permit.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// ListUnenqueuedPaid finds applications stuck in PAYMENT_RECEIVED beyond
// the lag threshold: payment was confirmed, but the enqueue side effect
// never landed (crash between event insert and publish). The sweeper
// re-enqueues them.
func (db *DB) ListUnenqueuedPaid(ctx context.Context, olderThan time.Time, limit int) ([]*permit.Application, error) {
	return db.listApplications(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`,
		permit.StatusPaymentReceived, olderThan, limit)
}

// ListStaleQueued finds queued jobs whose message may have been lost
// (enqueued long ago, never claimed).
func (db *DB) ListStaleQueued(ctx context.Context, olderThan time.Time, limit int) ([]*permit.Application, error) {
	return db.listApplications(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE status = ? AND queue_status = ? AND queue_enqueued_at < ?
		ORDER BY queue_enqueued_at ASC LIMIT ?`,
		permit.StatusGeneratingPermit, permit.QueueStatusQueued, olderThan, limit)
}

// ListStaleRunning finds claims held longer than the claim timeout,
// which means the owning worker crashed mid-job.
func (db *DB) ListStaleRunning(ctx context.Context, olderThan time.Time, limit int) ([]*permit.Application, error) {
	return db.listApplications(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE queue_status = ? AND queue_started_at < ?
		ORDER BY queue_started_at ASC LIMIT ?`,
		permit.QueueStatusRunning, olderThan, limit)
}

// ListExpiredVouchers finds voucher applications whose payment window
// lapsed.
func (db *DB) ListExpiredVouchers(ctx context.Context, olderThan time.Time, limit int) ([]*permit.Application, error) {
	return db.listApplications(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`,
		permit.StatusAwaitingVoucherPayment, olderThan, limit)
}

// StuckFilter selects applications for the admin stuck listing.
type StuckFilter struct {
	OlderThan     time.Time
	PaymentMethod permit.PaymentMethod // empty = all methods
	Limit         int
	Offset        int
}

// ListStuck returns applications sitting in PAYMENT_RECEIVED or
// GENERATION_FAILED beyond the age threshold, for operator review.
func (db *DB) ListStuck(ctx context.Context, filter StuckFilter) ([]*permit.Application, error) {
	where, args := query.NewWhereBuilder().
		AddStatuses(permit.StatusPaymentReceived, permit.StatusGenerationFailed).
		AddOlderThan("updated_at", filter.OlderThan).
		AddPaymentMethod(filter.PaymentMethod).
		BuildWithPrefix()

	q := `SELECT ` + applicationColumns + ` FROM applications ` + where +
		` ORDER BY updated_at ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	return db.listApplications(ctx, q, args...)
}
