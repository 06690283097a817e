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

	"github.com/circulapp/circulapp/internal/permit"
)

// InsertPaymentEvent appends a gateway event to the event store. The
// primary key on gateway_event_id makes a second delivery of the same
// event fail with ErrDuplicateEvent, which callers treat as success
// without side effects.
func (db *DB) InsertPaymentEvent(ctx context.Context, ev *permit.PaymentEvent) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO payment_events (gateway_event_id, gateway, event_type, application_id, raw_payload, applied)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.GatewayEventID, ev.Gateway, ev.EventType, ev.ApplicationID, ev.RawPayload, ev.Applied)
	if err != nil {
		if isDuplicateKeyErr(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert payment event: %w", err)
	}
	return nil
}

// ApplyPaymentEvent stores a gateway event and applies its status
// transition in one transaction, so the event record and the state
// change land or fail together.
//
// Returns (true, nil) when the event was stored and the CAS applied,
// (false, nil) when the event was stored but the application had moved
// concurrently (the event is kept with applied=false for the audit
// trail), and (false, ErrDuplicateEvent) on redelivery.
func (db *DB) ApplyPaymentEvent(ctx context.Context, ev *permit.PaymentEvent, from, to permit.Status) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_events (gateway_event_id, gateway, event_type, application_id, raw_payload, applied)
		VALUES (?, ?, ?, ?, ?, FALSE)`,
		ev.GatewayEventID, ev.Gateway, ev.EventType, ev.ApplicationID, ev.RawPayload)
	if err != nil {
		if isDuplicateKeyErr(err) {
			return false, ErrDuplicateEvent
		}
		return false, fmt.Errorf("failed to insert payment event: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE applications SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		to, ev.ApplicationID, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition application %d: %w", ev.ApplicationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	applied := n == 1
	if applied {
		if _, err := tx.ExecContext(ctx,
			`UPDATE payment_events SET applied = TRUE WHERE gateway_event_id = ?`,
			ev.GatewayEventID); err != nil {
			return false, fmt.Errorf("failed to mark event applied: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit payment event: %w", err)
	}

	ev.Applied = applied
	return applied, nil
}

// GetPaymentEvent retrieves a stored gateway event by its gateway ID.
func (db *DB) GetPaymentEvent(ctx context.Context, gatewayEventID string) (*permit.PaymentEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	ev := &permit.PaymentEvent{}
	err := db.conn.QueryRowContext(ctx, `
		SELECT gateway_event_id, gateway, event_type, application_id, raw_payload, received_at, applied
		FROM payment_events WHERE gateway_event_id = ?`,
		gatewayEventID).Scan(
		&ev.GatewayEventID, &ev.Gateway, &ev.EventType, &ev.ApplicationID,
		&ev.RawPayload, &ev.ReceivedAt, &ev.Applied)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment event: %w", err)
	}
	return ev, nil
}

// CountPaymentEvents returns the number of stored events for an
// application.
func (db *DB) CountPaymentEvents(ctx context.Context, applicationID int64) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_events WHERE application_id = ?`,
		applicationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count payment events: %w", err)
	}
	return count, nil
}
