// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package permit

import "fmt"

// Event is a state-machine input. Payment events come from the gateway
// webhook ingestor, generation events from the queue workers, and
// EventManualRetry from the recovery controller.
type Event string

const (
	// EventVoucherIssued means the gateway issued a cash voucher and is
	// now waiting for the customer to pay it in store.
	EventVoucherIssued Event = "voucher.issued"

	// EventPaymentConfirmed means the gateway reported the charge as
	// paid. Both "charge.succeeded" and a "charge.updated" carrying a
	// paid status map to this event; whichever arrives second is a
	// recorded no-op rather than an ordering error.
	EventPaymentConfirmed Event = "payment.confirmed"

	// EventPaymentFailed means the gateway declined the charge.
	EventPaymentFailed Event = "payment.failed"

	// EventPaymentExpired means the voucher lapsed unpaid.
	EventPaymentExpired Event = "payment.expired"

	// EventGenerationStarted moves a paid application into the
	// document-generation pipeline.
	EventGenerationStarted Event = "generation.started"

	// EventGenerationSucceeded records successful document production.
	EventGenerationSucceeded Event = "generation.succeeded"

	// EventGenerationFailed records exhausted retries or a permanent
	// automation failure.
	EventGenerationFailed Event = "generation.failed"

	// EventManualRetry re-drives a failed application. Issued only by
	// the recovery controller.
	EventManualRetry Event = "retry.manual"
)

// transitionTable lists every legal (status, event) -> status edge.
// Anything not in this table is either a no-op (the event's target
// status was already reached) or an anomaly, never a silent apply.
var transitionTable = map[Status]map[Event]Status{
	StatusAwaitingPayment: {
		EventVoucherIssued:    StatusAwaitingVoucherPayment,
		EventPaymentConfirmed: StatusPaymentReceived,
		EventPaymentFailed:    StatusPaymentFailed,
	},
	StatusAwaitingVoucherPayment: {
		EventPaymentConfirmed: StatusPaymentReceived,
		EventPaymentExpired:   StatusPaymentExpired,
	},
	StatusPaymentReceived: {
		EventGenerationStarted: StatusGeneratingPermit,
	},
	StatusGeneratingPermit: {
		EventGenerationSucceeded: StatusCompleted,
		EventGenerationFailed:    StatusGenerationFailed,
	},
	StatusGenerationFailed: {
		EventManualRetry: StatusGeneratingPermit,
	},
}

// noOpTargets maps each event to the statuses in which the event's
// effect has already been applied. A duplicate or out-of-order delivery
// that lands here is acknowledged without a state change, which is what
// keeps a stale "processing" event from regressing a succeeded payment.
var noOpTargets = map[Event][]Status{
	EventVoucherIssued:    {StatusAwaitingVoucherPayment, StatusPaymentReceived, StatusGeneratingPermit, StatusCompleted, StatusGenerationFailed},
	EventPaymentConfirmed: {StatusPaymentReceived, StatusGeneratingPermit, StatusCompleted, StatusGenerationFailed},
	EventPaymentFailed:    {StatusPaymentFailed},
	EventPaymentExpired:   {StatusPaymentExpired},

	EventGenerationStarted:   {StatusGeneratingPermit, StatusCompleted, StatusGenerationFailed},
	EventGenerationSucceeded: {StatusCompleted},
	EventGenerationFailed:    {StatusGenerationFailed},
}

// TransitionOutcome classifies the result of applying an event.
type TransitionOutcome int

const (
	// OutcomeApplied means the event produced a new status.
	OutcomeApplied TransitionOutcome = iota

	// OutcomeNoOp means the event's effect was already in place; the
	// caller should acknowledge it and do nothing.
	OutcomeNoOp

	// OutcomeInvalid means the (status, event) pair is not in the
	// allowed table and must be logged as an anomaly.
	OutcomeInvalid
)

// String returns the outcome name for logging.
func (o TransitionOutcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeNoOp:
		return "no_op"
	default:
		return "invalid"
	}
}

// InvalidTransitionError reports an event that is not legal in the
// application's current status. It is logged as an anomaly and the
// triggering request is still acknowledged, since replaying the event
// cannot fix a logic mismatch.
type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %q not allowed in status %q", e.Event, e.From)
}

// Transition applies an event to the current status.
//
// Returns (next, OutcomeApplied, nil) when the edge is in the table,
// (current, OutcomeNoOp, nil) when the event was already applied, and
// (current, OutcomeInvalid, *InvalidTransitionError) otherwise. The
// caller persists applied transitions with a compare-and-swap on the
// expected current status, never a blind write.
func Transition(current Status, event Event) (Status, TransitionOutcome, error) {
	if targets, ok := transitionTable[current]; ok {
		if next, ok := targets[event]; ok {
			return next, OutcomeApplied, nil
		}
	}

	for _, s := range noOpTargets[event] {
		if s == current {
			return current, OutcomeNoOp, nil
		}
	}

	return current, OutcomeInvalid, &InvalidTransitionError{From: current, Event: event}
}
