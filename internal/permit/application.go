// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package permit

import (
	"strings"
	"time"
)

// PaymentMethod hints at the expected latency of payment confirmation.
// Card confirmations arrive within seconds; cash vouchers can take
// 1-24 hours after issuance.
type PaymentMethod string

const (
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodVoucher PaymentMethod = "cash_voucher"
)

// QueueStatus is the document-queue bookkeeping state on an application.
// Empty means no job exists for the application.
type QueueStatus string

const (
	QueueStatusNone    QueueStatus = ""
	QueueStatusQueued  QueueStatus = "queued"
	QueueStatusRunning QueueStatus = "running"
	QueueStatusFailed  QueueStatus = "failed"
)

// DocumentKeys are the storage keys of the four portal outputs. They are
// set together on successful generation and only when the application
// reaches COMPLETED.
type DocumentKeys struct {
	Permit          string `json:"permit,omitempty"`
	Certificate     string `json:"certificate,omitempty"`
	Plates          string `json:"plates,omitempty"`
	Recommendations string `json:"recommendations,omitempty"`
}

// Complete reports whether all four keys are present.
func (k DocumentKeys) Complete() bool {
	return k.Permit != "" && k.Certificate != "" && k.Plates != "" && k.Recommendations != ""
}

// VehicleData is the structured payload submitted to the external portal
// for document production.
type VehicleData struct {
	VIN          string `json:"vin"`
	Plate        string `json:"plate,omitempty"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	OwnerName    string `json:"owner_name"`
	OwnerAddress string `json:"owner_address"`
}

// Application is the aggregate root: one row per permit request,
// retained indefinitely for compliance.
//
// Invariants enforced across the pipeline:
//   - QueueStatus != "" implies Status is GENERATING_PERMIT or GENERATION_FAILED
//   - Documents keys are non-empty only when Status == COMPLETED
//
// The queue bookkeeping fields are mutated only by the document queue
// and the recovery controller, always via conditional updates.
type Application struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Status Status `json:"status"`

	// PaymentReference is the opaque order/intent ID assigned by the
	// payment gateway. Empty until the gateway first reports on the
	// application; the recovery controller refuses to re-drive an
	// application without one.
	PaymentReference string        `json:"payment_reference,omitempty"`
	PaymentMethod    PaymentMethod `json:"payment_method,omitempty"`

	Vehicle VehicleData `json:"vehicle"`

	// Queue bookkeeping.
	QueueJobID       string      `json:"queue_job_id,omitempty"`
	QueueStatus      QueueStatus `json:"queue_status,omitempty"`
	QueueAttempts    int         `json:"queue_attempts,omitempty"`
	QueueEnqueuedAt  *time.Time  `json:"queue_enqueued_at,omitempty"`
	QueueStartedAt   *time.Time  `json:"queue_started_at,omitempty"`
	QueueCompletedAt *time.Time  `json:"queue_completed_at,omitempty"`

	// QueueError is the last recorded generation error: a
	// classification tag followed by a message, e.g.
	// "permanent: portal rejected VIN".
	QueueError string `json:"queue_error,omitempty"`

	Documents DocumentKeys `json:"documents"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorKind extracts the classification tag from QueueError, either
// "transient" or "permanent". Empty unless the application is in
// GENERATION_FAILED with a recorded error. An untagged or unrecognized
// error falls back to "transient"; the message after the tag stays
// internal.
func (a *Application) ErrorKind() string {
	if a.Status != StatusGenerationFailed || a.QueueError == "" {
		return ""
	}
	tag, _, found := strings.Cut(a.QueueError, ":")
	if !found {
		return "transient"
	}
	tag = strings.TrimSpace(tag)
	if tag != "transient" && tag != "permanent" {
		return "transient"
	}
	return tag
}

// PaymentEvent is one gateway webhook event actually received, keyed by
// the gateway's own event ID for deduplication. Rows are immutable after
// insert and never deleted; they are the payment audit trail.
type PaymentEvent struct {
	GatewayEventID string    `json:"gateway_event_id"`
	Gateway        string    `json:"gateway"`
	EventType      string    `json:"event_type"`
	ApplicationID  int64     `json:"application_id"`
	RawPayload     []byte    `json:"raw_payload"`
	ReceivedAt     time.Time `json:"received_at"`

	// Applied records whether the event produced a state change.
	// Duplicates, no-ops, and anomalies are stored with Applied=false.
	Applied bool `json:"applied"`
}
