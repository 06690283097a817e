// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/circulapp/circulapp/internal/permit"
)

func testEvent(appID int64, gatewayEventID string) *permit.PaymentEvent {
	return &permit.PaymentEvent{
		GatewayEventID: gatewayEventID,
		Gateway:        "conekta",
		EventType:      "charge.succeeded",
		ApplicationID:  appID,
		RawPayload:     []byte(`{"type":"charge.succeeded"}`),
		ReceivedAt:     time.Now(),
	}
}

func TestApplyPaymentEvent_AppliesOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	app := createTestApplication(t, db)

	ev := testEvent(app.ID, "evt_001")
	applied, err := db.ApplyPaymentEvent(ctx, ev, permit.StatusAwaitingPayment, permit.StatusPaymentReceived)
	if err != nil {
		t.Fatalf("ApplyPaymentEvent: %v", err)
	}
	if !applied {
		t.Fatal("first delivery must apply")
	}

	got, _ := db.GetApplication(ctx, app.ID)
	if got.Status != permit.StatusPaymentReceived {
		t.Errorf("status = %q, want PAYMENT_RECEIVED", got.Status)
	}

	stored, err := db.GetPaymentEvent(ctx, "evt_001")
	if err != nil {
		t.Fatalf("GetPaymentEvent: %v", err)
	}
	if !stored.Applied {
		t.Error("stored event not marked applied")
	}
}

func TestApplyPaymentEvent_DuplicateDelivery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	app := createTestApplication(t, db)

	ev := testEvent(app.ID, "evt_dup")
	if _, err := db.ApplyPaymentEvent(ctx, ev, permit.StatusAwaitingPayment, permit.StatusPaymentReceived); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// Redelivery of the same gateway event ID is rejected and the
	// application is untouched.
	applied, err := db.ApplyPaymentEvent(ctx, ev, permit.StatusAwaitingPayment, permit.StatusPaymentFailed)
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got applied=%v err=%v", applied, err)
	}

	got, _ := db.GetApplication(ctx, app.ID)
	if got.Status != permit.StatusPaymentReceived {
		t.Errorf("status changed on duplicate: %q", got.Status)
	}

	n, err := db.CountPaymentEvents(ctx, app.ID)
	if err != nil {
		t.Fatalf("CountPaymentEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("event count = %d, want 1", n)
	}
}

func TestApplyPaymentEvent_StaleCASKeepsEvent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	app := createTestApplication(t, db)

	mustTransition(t, db, app.ID, permit.StatusAwaitingPayment, permit.StatusPaymentReceived)

	// A distinct event carrying a from-status that no longer holds is
	// stored for the audit trail but not applied.
	ev := testEvent(app.ID, "evt_stale")
	applied, err := db.ApplyPaymentEvent(ctx, ev, permit.StatusAwaitingPayment, permit.StatusPaymentFailed)
	if err != nil {
		t.Fatalf("ApplyPaymentEvent: %v", err)
	}
	if applied {
		t.Fatal("stale CAS must not apply")
	}

	stored, err := db.GetPaymentEvent(ctx, "evt_stale")
	if err != nil {
		t.Fatalf("GetPaymentEvent: %v", err)
	}
	if stored.Applied {
		t.Error("unapplied event marked applied")
	}

	got, _ := db.GetApplication(ctx, app.ID)
	if got.Status != permit.StatusPaymentReceived {
		t.Errorf("status = %q, want PAYMENT_RECEIVED", got.Status)
	}
}

func TestFailedJobLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	app := createTestApplication(t, db)

	job := &FailedJob{
		JobID:          "job-f1",
		ApplicationID:  app.ID,
		Attempts:       3,
		Classification: "transient",
		Source:         "automatic",
		Error:          "portal timeout after 3 attempts",
		Payload:        []byte(`{"application_id":1}`),
		FirstFailure:   time.Now().Add(-time.Hour),
		LastFailure:    time.Now(),
	}
	if err := db.InsertFailedJob(ctx, job); err != nil {
		t.Fatalf("InsertFailedJob: %v", err)
	}

	// Re-insert for the same job refreshes rather than errors.
	job.Attempts = 4
	job.Error = "portal timeout after 4 attempts"
	if err := db.InsertFailedJob(ctx, job); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	jobs, err := db.ListFailedJobs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListFailedJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("failed job count = %d, want 1", len(jobs))
	}
	if jobs[0].Attempts != 4 {
		t.Errorf("attempts = %d, want refreshed value 4", jobs[0].Attempts)
	}

	n, err := db.DeleteFailedJobs(ctx, app.ID)
	if err != nil {
		t.Fatalf("DeleteFailedJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	total, _ := db.CountFailedJobs(ctx)
	if total != 0 {
		t.Errorf("remaining failed jobs = %d, want 0", total)
	}
}
