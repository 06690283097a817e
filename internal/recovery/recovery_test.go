// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/circulapp/circulapp/internal/database"
	"github.com/circulapp/circulapp/internal/permit"
	"github.com/circulapp/circulapp/internal/queue"
)

type fakeStore struct {
	mu           sync.Mutex
	apps         map[int64]*permit.Application
	resets       []string
	resetDenied  bool
	deletedFails []int64
	stuck        []*permit.Application
	stuckFilter  database.StuckFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{apps: make(map[int64]*permit.Application)}
}

func (s *fakeStore) GetApplication(ctx context.Context, id int64) (*permit.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (s *fakeStore) ResetForRetry(ctx context.Context, id int64, jobID string, from permit.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetDenied {
		return false, nil
	}
	app := s.apps[id]
	if app.Status != from {
		return false, nil
	}
	app.Status = permit.StatusGeneratingPermit
	app.QueueStatus = permit.QueueStatusQueued
	app.QueueJobID = jobID
	app.QueueAttempts = 0
	s.resets = append(s.resets, jobID)
	return true, nil
}

func (s *fakeStore) DeleteFailedJobs(ctx context.Context, applicationID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedFails = append(s.deletedFails, applicationID)
	return 1, nil
}

func (s *fakeStore) ListStuck(ctx context.Context, filter database.StuckFilter) ([]*permit.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuckFilter = filter
	return s.stuck, nil
}

func (s *fakeStore) ListFailedJobs(ctx context.Context, limit, offset int) ([]*database.FailedJob, error) {
	return nil, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []*queue.DocumentJob
}

func (p *fakePublisher) PublishJob(ctx context.Context, job *queue.DocumentJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

type auditEntry struct {
	applicationID int64
	actor         string
	forced        bool
	from          permit.Status
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *fakeAuditor) LogManualRetry(ctx context.Context, applicationID int64, actor, jobID, priorError string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{applicationID: applicationID, actor: actor})
}

func (a *fakeAuditor) LogForcedOverride(ctx context.Context, applicationID int64, actor, jobID string, from permit.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{applicationID: applicationID, actor: actor, forced: true, from: from})
}

func newTestController(t *testing.T, store *fakeStore, pub *fakePublisher, auditor *fakeAuditor) *Controller {
	t.Helper()
	var aud Auditor
	if auditor != nil {
		aud = auditor
	}
	c, err := NewController(store, pub, aud, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func failedApp(id int64) *permit.Application {
	return &permit.Application{
		ID:               id,
		Status:           permit.StatusGenerationFailed,
		PaymentReference: "ord_1",
		QueueStatus:      permit.QueueStatusFailed,
		QueueAttempts:    3,
		QueueError:       "transient: portal timeout",
	}
}

func TestRetryBatch_FailedApplication(t *testing.T) {
	store := newFakeStore()
	store.apps[1] = failedApp(1)
	pub := &fakePublisher{}
	auditor := &fakeAuditor{}
	c := newTestController(t, store, pub, auditor)

	results, err := c.RetryBatch(context.Background(), RetryRequest{
		ApplicationIDs: []int64{1},
		Actor:          "ops@municipality",
	})
	if err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != RetryAccepted {
		t.Fatalf("results = %+v, want one accepted", results)
	}

	if store.apps[1].Status != permit.StatusGeneratingPermit {
		t.Errorf("status = %q, want GENERATING_PERMIT", store.apps[1].Status)
	}
	if store.apps[1].QueueAttempts != 0 {
		t.Error("attempt budget not reset")
	}
	if len(store.deletedFails) != 1 {
		t.Error("failed-lane record not cleaned up")
	}

	if len(pub.jobs) != 1 {
		t.Fatalf("published jobs = %d, want 1", len(pub.jobs))
	}
	job := pub.jobs[0]
	if !job.Priority {
		t.Error("manual retry job not prioritized")
	}
	if job.Source != queue.SourceManualRetry {
		t.Errorf("job source = %q", job.Source)
	}
	if job.Actor != "ops@municipality" {
		t.Errorf("job actor = %q", job.Actor)
	}
	if job.JobID != store.apps[1].QueueJobID {
		t.Error("published job ID does not match the row's claim ID")
	}

	if len(auditor.entries) != 1 || auditor.entries[0].forced {
		t.Fatalf("audit entries = %+v, want one non-forced", auditor.entries)
	}
}

func TestRetryBatch_RejectsWithoutForce(t *testing.T) {
	store := newFakeStore()
	store.apps[1] = failedApp(1)
	store.apps[1].Status = permit.StatusGeneratingPermit
	pub := &fakePublisher{}
	c := newTestController(t, store, pub, nil)

	results, err := c.RetryBatch(context.Background(), RetryRequest{ApplicationIDs: []int64{1}, Actor: "ops"})
	if err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}
	if results[0].Outcome != RetryRejected {
		t.Fatalf("outcome = %q, want rejected", results[0].Outcome)
	}
	if len(pub.jobs) != 0 {
		t.Error("rejected retry published a job")
	}
	if store.apps[1].Status != permit.StatusGeneratingPermit {
		t.Error("rejected retry mutated the application")
	}
}

func TestRetryBatch_ForcedOverrideAudited(t *testing.T) {
	store := newFakeStore()
	store.apps[1] = failedApp(1)
	store.apps[1].Status = permit.StatusGeneratingPermit
	pub := &fakePublisher{}
	auditor := &fakeAuditor{}
	c := newTestController(t, store, pub, auditor)

	results, err := c.RetryBatch(context.Background(), RetryRequest{
		ApplicationIDs: []int64{1},
		Actor:          "ops",
		Force:          true,
	})
	if err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}
	if results[0].Outcome != RetryForced {
		t.Fatalf("outcome = %q, want forced", results[0].Outcome)
	}
	if len(auditor.entries) != 1 || !auditor.entries[0].forced {
		t.Fatalf("audit entries = %+v, want one forced override", auditor.entries)
	}
	if auditor.entries[0].from != permit.StatusGeneratingPermit {
		t.Errorf("override prior status = %q", auditor.entries[0].from)
	}
	if len(pub.jobs) != 1 {
		t.Error("forced retry did not publish")
	}
}

func TestRetryBatch_RejectsMissingPaymentReference(t *testing.T) {
	store := newFakeStore()
	store.apps[1] = failedApp(1)
	store.apps[1].PaymentReference = ""
	c := newTestController(t, store, &fakePublisher{}, nil)

	results, err := c.RetryBatch(context.Background(), RetryRequest{ApplicationIDs: []int64{1}, Actor: "ops", Force: true})
	if err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}
	if results[0].Outcome != RetryRejected || results[0].Reason != "no payment reference" {
		t.Fatalf("result = %+v", results[0])
	}
}

func TestRetryBatch_ConcurrentWinnerKeepsRow(t *testing.T) {
	store := newFakeStore()
	store.apps[1] = failedApp(1)
	store.resetDenied = true
	pub := &fakePublisher{}
	c := newTestController(t, store, pub, nil)

	results, err := c.RetryBatch(context.Background(), RetryRequest{ApplicationIDs: []int64{1}, Actor: "ops"})
	if err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}
	if results[0].Outcome != RetryRejected {
		t.Fatalf("outcome = %q, want rejected after lost reset", results[0].Outcome)
	}
	if len(pub.jobs) != 0 {
		t.Error("lost reset still published a job")
	}
}

func TestRetryBatch_MixedBatch(t *testing.T) {
	store := newFakeStore()
	store.apps[1] = failedApp(1)
	c := newTestController(t, store, &fakePublisher{}, nil)

	results, err := c.RetryBatch(context.Background(), RetryRequest{ApplicationIDs: []int64{1, 99}, Actor: "ops"})
	if err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}
	if results[0].Outcome != RetryAccepted {
		t.Errorf("known application outcome = %q", results[0].Outcome)
	}
	if results[1].Outcome != RetryRejected || results[1].Reason != "application not found" {
		t.Errorf("unknown application result = %+v", results[1])
	}
}

func TestRetryBatch_Validation(t *testing.T) {
	c := newTestController(t, newFakeStore(), &fakePublisher{}, nil)

	if _, err := c.RetryBatch(context.Background(), RetryRequest{Actor: "ops"}); err != ErrEmptyBatch {
		t.Errorf("empty batch err = %v", err)
	}

	big := make([]int64, MaxBatchSize+1)
	for i := range big {
		big[i] = int64(i + 1)
	}
	if _, err := c.RetryBatch(context.Background(), RetryRequest{ApplicationIDs: big, Actor: "ops"}); err != ErrBatchTooLarge {
		t.Errorf("oversized batch err = %v", err)
	}

	if _, err := c.RetryBatch(context.Background(), RetryRequest{ApplicationIDs: []int64{1}}); err != ErrActorRequired {
		t.Errorf("missing actor err = %v", err)
	}
}

func TestListStuck_Defaults(t *testing.T) {
	store := newFakeStore()
	store.stuck = []*permit.Application{{ID: 7, Status: permit.StatusPaymentReceived}}
	c := newTestController(t, store, &fakePublisher{}, nil)

	apps, err := c.ListStuck(context.Background(), StuckQuery{PaymentMethod: permit.PaymentMethodVoucher})
	if err != nil {
		t.Fatalf("ListStuck: %v", err)
	}
	if len(apps) != 1 || apps[0].ID != 7 {
		t.Fatalf("apps = %+v", apps)
	}

	f := store.stuckFilter
	if f.Limit != 50 {
		t.Errorf("default limit = %d, want 50", f.Limit)
	}
	if f.PaymentMethod != permit.PaymentMethodVoucher {
		t.Errorf("payment method filter = %q", f.PaymentMethod)
	}
	wantBefore := time.Now().Add(-DefaultStuckAge + time.Minute)
	if !f.OlderThan.Before(wantBefore) {
		t.Errorf("age threshold not applied: %v", f.OlderThan)
	}
}
