// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package permit holds the application aggregate and its status state
// machine. The transition table in this package is the single authority
// on which status changes are legal; the webhook ingestor, the queue
// workers, and the recovery controller all go through it.
package permit

// Status is the pipeline position of a permit application.
// It is the single source of truth for where an application sits.
type Status string

const (
	// StatusAwaitingPayment is the initial status after submission.
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"

	// StatusAwaitingVoucherPayment means a cash voucher was issued and
	// confirmation may arrive hours later.
	StatusAwaitingVoucherPayment Status = "AWAITING_VOUCHER_PAYMENT"

	// StatusPaymentReceived means the gateway confirmed payment.
	StatusPaymentReceived Status = "PAYMENT_RECEIVED"

	// StatusPaymentFailed means the gateway declined the charge.
	StatusPaymentFailed Status = "PAYMENT_FAILED"

	// StatusPaymentExpired means the voucher lapsed without payment.
	StatusPaymentExpired Status = "PAYMENT_EXPIRED"

	// StatusGeneratingPermit means a document job is queued or running.
	StatusGeneratingPermit Status = "GENERATING_PERMIT"

	// StatusCompleted means all output documents were produced and stored.
	StatusCompleted Status = "COMPLETED"

	// StatusGenerationFailed means document generation exhausted its
	// automatic retries or hit a permanent error. Only the recovery
	// controller moves an application out of this status.
	StatusGenerationFailed Status = "GENERATION_FAILED"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusAwaitingVoucherPayment,
		StatusPaymentReceived, StatusPaymentFailed, StatusPaymentExpired,
		StatusGeneratingPermit, StatusCompleted, StatusGenerationFailed:
		return true
	}
	return false
}

// Terminal reports whether the automatic pipeline is done with this
// status. An operator may still force transitions out of a terminal
// status; those are explicit overrides and are always audited.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPaymentFailed, StatusPaymentExpired:
		return true
	}
	return false
}

// CoarseState is the user-facing projection of a status. End users only
// ever see these three values, never gateway or portal error detail.
type CoarseState string

const (
	CoarseProcessing CoarseState = "processing"
	CoarseReady      CoarseState = "ready"
	CoarseFailed     CoarseState = "failed"
)

// Coarse maps a status to its user-visible state.
func (s Status) Coarse() CoarseState {
	switch s {
	case StatusCompleted:
		return CoarseReady
	case StatusPaymentFailed, StatusPaymentExpired, StatusGenerationFailed:
		return CoarseFailed
	default:
		return CoarseProcessing
	}
}
