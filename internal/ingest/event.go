// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package ingest

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/circulapp/circulapp/internal/permit"
)

// GatewayEvent is the envelope the payment gateway posts to the
// webhook endpoint.
type GatewayEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object ChargeObject `json:"object"`
	} `json:"data"`
}

// ChargeObject describes the charge the event refers to.
type ChargeObject struct {
	// OrderID is the gateway-side payment reference.
	OrderID string `json:"order_id"`
	Status  string `json:"status"`

	PaymentMethod struct {
		Type string `json:"type"` // "card" or "cash"
	} `json:"payment_method"`

	// Metadata carries the application ID we attached at checkout.
	Metadata map[string]string `json:"metadata"`
}

// ParseEvent decodes and minimally validates a webhook body.
func ParseEvent(body []byte) (*GatewayEvent, error) {
	var ev GatewayEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode gateway event: %w", err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("gateway event missing id")
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("gateway event %s missing type", ev.ID)
	}
	return &ev, nil
}

// ApplicationID extracts the application ID from charge metadata.
// Returns 0 when absent, the caller falls back to the order reference.
func (e *GatewayEvent) ApplicationID() int64 {
	raw, ok := e.Data.Object.Metadata["application_id"]
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// PaymentMethod maps the gateway's method type onto ours.
func (e *GatewayEvent) PaymentMethod() permit.PaymentMethod {
	if e.Data.Object.PaymentMethod.Type == "cash" {
		return permit.PaymentMethodVoucher
	}
	return permit.PaymentMethodCard
}

// DomainEvent maps the gateway event type onto a state machine event.
// The second return is false for event types we do not process.
//
// charge.updated with a paid status and charge.succeeded both map to
// payment confirmation: gateways deliver either or both depending on
// the payment rail, and the event store makes the pair collapse to a
// single applied transition.
func (e *GatewayEvent) DomainEvent() (permit.Event, bool) {
	switch e.Type {
	case "charge.pending":
		if e.PaymentMethod() == permit.PaymentMethodVoucher {
			return permit.EventVoucherIssued, true
		}
		// Card charges pass through pending with no state change.
		return "", false
	case "charge.succeeded", "charge.paid":
		return permit.EventPaymentConfirmed, true
	case "charge.updated":
		if e.Data.Object.Status == "paid" {
			return permit.EventPaymentConfirmed, true
		}
		return "", false
	case "charge.failed", "charge.declined":
		return permit.EventPaymentFailed, true
	case "charge.expired":
		return permit.EventPaymentExpired, true
	default:
		return "", false
	}
}
