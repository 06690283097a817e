// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/circulapp/circulapp/internal/database"
	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/metrics"
	"github.com/circulapp/circulapp/internal/permit"
	"github.com/circulapp/circulapp/internal/queue"
)

// MaxBatchSize caps one retry request. The worker pool is small and each
// job holds a browser session, so an unbounded batch would starve the
// normal lane for hours.
const MaxBatchSize = 50

var (
	ErrEmptyBatch    = errors.New("no application IDs given")
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d application IDs", MaxBatchSize)
	ErrActorRequired = errors.New("actor required for manual retry")
)

// Store is the subset of the database the controller needs.
type Store interface {
	GetApplication(ctx context.Context, id int64) (*permit.Application, error)
	ResetForRetry(ctx context.Context, id int64, jobID string, from permit.Status) (bool, error)
	DeleteFailedJobs(ctx context.Context, applicationID int64) (int64, error)
	ListStuck(ctx context.Context, filter database.StuckFilter) ([]*permit.Application, error)
	ListFailedJobs(ctx context.Context, limit, offset int) ([]*database.FailedJob, error)
}

// Publisher enqueues the priority retry jobs.
type Publisher interface {
	PublishJob(ctx context.Context, job *queue.DocumentJob) error
}

// Auditor records who re-drove which application and from what state.
type Auditor interface {
	LogManualRetry(ctx context.Context, applicationID int64, actor, jobID, priorError string)
	LogForcedOverride(ctx context.Context, applicationID int64, actor, jobID string, from permit.Status)
}

// StatusNotifier receives application status changes.
type StatusNotifier interface {
	NotifyStatus(applicationID int64, status permit.Status)
}

// RetryRequest is one administrative retry batch.
type RetryRequest struct {
	ApplicationIDs []int64 `json:"application_ids" validate:"required,min=1,max=50,dive,gt=0"`
	Actor          string  `json:"actor" validate:"required"`

	// Force re-drives applications outside GENERATION_FAILED. Every
	// forced target is audited as an operator override.
	Force bool `json:"force"`
}

// Retry outcomes, one per application in the batch.
const (
	RetryAccepted = "accepted"
	RetryForced   = "forced"
	RetryRejected = "rejected"
)

// RetryResult reports the decision for a single application.
type RetryResult struct {
	ApplicationID int64  `json:"application_id"`
	Outcome       string `json:"outcome"`
	JobID         string `json:"job_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Controller is the administrative recovery path. It never shares code
// with the queue's automatic retry: automatic retries keep the job ID
// and count attempts, manual retries mint a fresh job with a reset
// attempt budget.
type Controller struct {
	store    Store
	pub      Publisher
	auditor  Auditor
	notifier StatusNotifier
}

func NewController(store Store, pub Publisher, auditor Auditor, notifier StatusNotifier) (*Controller, error) {
	if store == nil || pub == nil {
		return nil, fmt.Errorf("recovery controller requires store and publisher")
	}
	return &Controller{store: store, pub: pub, auditor: auditor, notifier: notifier}, nil
}

// RetryBatch re-enqueues each requested application and returns a per-ID
// decision list. A rejected entry never has side effects.
func (c *Controller) RetryBatch(ctx context.Context, req RetryRequest) ([]RetryResult, error) {
	if len(req.ApplicationIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(req.ApplicationIDs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	if req.Actor == "" {
		return nil, ErrActorRequired
	}

	results := make([]RetryResult, 0, len(req.ApplicationIDs))
	for _, id := range req.ApplicationIDs {
		results = append(results, c.retryOne(ctx, id, req.Actor, req.Force))
	}
	return results, nil
}

func (c *Controller) retryOne(ctx context.Context, id int64, actor string, force bool) RetryResult {
	log := logging.Ctx(ctx)

	app, err := c.store.GetApplication(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.reject(id, "application not found")
		}
		log.Error().Err(err).Int64("application_id", id).Msg("Retry lookup failed")
		return c.reject(id, "lookup failed")
	}

	// Nothing to reconcile against without a payment reference: the
	// portal submission would have no paid order to cite.
	if app.PaymentReference == "" {
		return c.reject(id, "no payment reference")
	}

	forced := false
	if app.Status != permit.StatusGenerationFailed {
		if !force {
			return c.reject(id, fmt.Sprintf("status %s requires force", app.Status))
		}
		forced = true
	}

	job := queue.NewRetryJob(app.ID, app.PaymentReference, actor)
	ok, err := c.store.ResetForRetry(ctx, app.ID, job.JobID, app.Status)
	if err != nil {
		log.Error().Err(err).Int64("application_id", id).Msg("Retry reset failed")
		return c.reject(id, "reset failed")
	}
	if !ok {
		// Status moved between the read and the CAS. Whatever won the
		// race (a webhook, another operator) owns the row now.
		return c.reject(id, "status changed concurrently")
	}

	if _, err := c.store.DeleteFailedJobs(ctx, app.ID); err != nil {
		// The retry already won the row; a stale failed-lane record is
		// cosmetic and the next failure refreshes it.
		log.Warn().Err(err).Int64("application_id", id).Msg("Failed-lane cleanup failed")
	}

	outcome := RetryAccepted
	if forced {
		outcome = RetryForced
		if c.auditor != nil {
			c.auditor.LogForcedOverride(ctx, app.ID, actor, job.JobID, app.Status)
		}
	} else if c.auditor != nil {
		c.auditor.LogManualRetry(ctx, app.ID, actor, job.JobID, app.QueueError)
	}

	log.Info().
		Int64("application_id", app.ID).
		Str("actor", actor).
		Str("job_id", job.JobID).
		Str("prior_status", string(app.Status)).
		Bool("forced", forced).
		Msg("Application re-enqueued by operator")
	metrics.RecordManualRetry(outcome)
	metrics.RecordTransition(string(app.Status), string(permit.StatusGeneratingPermit))
	if c.notifier != nil {
		c.notifier.NotifyStatus(app.ID, permit.StatusGeneratingPermit)
	}

	if err := c.pub.PublishJob(ctx, job); err != nil {
		// The row is already queued under this job ID, so the sweeper
		// republishes it if the broker stays down.
		log.Error().Err(err).Str("job_id", job.JobID).Msg("Retry publish failed, sweeper will recover")
	}

	return RetryResult{ApplicationID: app.ID, Outcome: outcome, JobID: job.JobID}
}

func (c *Controller) reject(id int64, reason string) RetryResult {
	metrics.RecordManualRetry(RetryRejected)
	return RetryResult{ApplicationID: id, Outcome: RetryRejected, Reason: reason}
}

// StuckQuery filters the operator stuck-application listing.
type StuckQuery struct {
	AgeThreshold  time.Duration
	PaymentMethod permit.PaymentMethod
	Limit         int
	Offset        int
}

// DefaultStuckAge is the listing threshold when the caller gives none.
const DefaultStuckAge = 30 * time.Minute

// ListStuck returns applications sitting in PAYMENT_RECEIVED or
// GENERATION_FAILED beyond the age threshold.
func (c *Controller) ListStuck(ctx context.Context, q StuckQuery) ([]*permit.Application, error) {
	if q.AgeThreshold <= 0 {
		q.AgeThreshold = DefaultStuckAge
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	return c.store.ListStuck(ctx, database.StuckFilter{
		OlderThan:     time.Now().Add(-q.AgeThreshold),
		PaymentMethod: q.PaymentMethod,
		Limit:         q.Limit,
		Offset:        q.Offset,
	})
}

// ListFailedJobs exposes the failed lane for operator inspection.
func (c *Controller) ListFailedJobs(ctx context.Context, limit, offset int) ([]*database.FailedJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return c.store.ListFailedJobs(ctx, limit, offset)
}
