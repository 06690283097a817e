// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package ingest

import (
	"context"
	"time"

	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/metrics"
	"github.com/circulapp/circulapp/internal/permit"
	"github.com/circulapp/circulapp/internal/queue"
)

// SweeperStore is the subset of the database layer the sweeper reads
// and repairs.
type SweeperStore interface {
	ListUnenqueuedPaid(ctx context.Context, olderThan time.Time, limit int) ([]*permit.Application, error)
	ListStaleQueued(ctx context.Context, olderThan time.Time, limit int) ([]*permit.Application, error)
	ListStaleRunning(ctx context.Context, olderThan time.Time, limit int) ([]*permit.Application, error)
	ListExpiredVouchers(ctx context.Context, olderThan time.Time, limit int) ([]*permit.Application, error)
	EnqueueForGeneration(ctx context.Context, id int64, jobID string) (bool, error)
	ReleaseStaleClaim(ctx context.Context, id int64, queueError string) (bool, error)
	TransitionStatus(ctx context.Context, id int64, from, to permit.Status) (bool, error)
}

// SweeperConfig controls reconciliation cadence and thresholds.
type SweeperConfig struct {
	Interval time.Duration

	// EnqueueLag is how long a PAYMENT_RECEIVED row may sit without a
	// queue entry before the sweeper enqueues it itself.
	EnqueueLag time.Duration

	// ClaimTimeout is how long a queued or running row may go without
	// progress before its claim is considered dead. Must exceed the
	// longest backoff step plus the job timeout.
	ClaimTimeout time.Duration

	// VoucherTTL is how long an issued cash voucher stays payable.
	VoucherTTL time.Duration

	BatchSize int
}

// DefaultSweeperConfig returns production settings.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:     time.Minute,
		EnqueueLag:   2 * time.Minute,
		ClaimTimeout: 12 * time.Minute,
		VoucherTTL:   72 * time.Hour,
		BatchSize:    50,
	}
}

// Sweeper periodically repairs rows the happy path lost track of.
type Sweeper struct {
	cfg      SweeperConfig
	store    SweeperStore
	pub      Publisher
	notifier StatusNotifier
}

// NewSweeper creates a sweeper. notifier may be nil.
func NewSweeper(cfg SweeperConfig, store SweeperStore, pub Publisher, notifier StatusNotifier) *Sweeper {
	return &Sweeper{cfg: cfg, store: store, pub: pub, notifier: notifier}
}

// Run sweeps on the configured interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", s.cfg.Interval).
		Dur("claim_timeout", s.cfg.ClaimTimeout).
		Msg("Reconciliation sweeper starting")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Reconciliation sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs all reconciliation passes once.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepUnenqueued(ctx)
	s.sweepStaleQueued(ctx)
	s.sweepStaleRunning(ctx)
	s.sweepExpiredVouchers(ctx)
}

// sweepUnenqueued enqueues paid applications whose enqueue CAS never
// happened, usually because the process died right after the payment
// event committed.
func (s *Sweeper) sweepUnenqueued(ctx context.Context) {
	apps, err := s.store.ListUnenqueuedPaid(ctx, time.Now().Add(-s.cfg.EnqueueLag), s.cfg.BatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("Sweep unenqueued query failed")
		return
	}
	for _, app := range apps {
		job := queue.NewJob(app.ID, app.PaymentReference)
		ok, err := s.store.EnqueueForGeneration(ctx, app.ID, job.JobID)
		if err != nil || !ok {
			continue
		}
		logging.Warn().Int64("application_id", app.ID).Msg("Sweeper enqueued stranded paid application")
		metrics.RecordSweeperRepair("unenqueued_paid")
		s.notify(app.ID, permit.StatusGeneratingPermit)
		s.publish(ctx, job)
	}
}

// sweepStaleQueued republishes queued rows without queue traffic, which
// covers both a lost initial publish and a requeue timer that died with
// its process. The job keeps its row job ID so any late duplicate
// message still claims correctly.
func (s *Sweeper) sweepStaleQueued(ctx context.Context) {
	apps, err := s.store.ListStaleQueued(ctx, time.Now().Add(-s.cfg.ClaimTimeout), s.cfg.BatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("Sweep stale queued query failed")
		return
	}
	for _, app := range apps {
		job := &queue.DocumentJob{
			JobID:            app.QueueJobID,
			ApplicationID:    app.ID,
			Attempt:          app.QueueAttempts + 1,
			Source:           queue.SourceAutomatic,
			PaymentReference: app.PaymentReference,
			EnqueuedAt:       time.Now().UTC(),
		}
		logging.Warn().
			Int64("application_id", app.ID).
			Str("job_id", job.JobID).
			Msg("Sweeper republishing stale queued job")
		metrics.RecordSweeperRepair("stale_queued")
		s.publish(ctx, job)
	}
}

// sweepStaleRunning releases rows whose worker died mid-job. The row
// goes back to queued and gets republished on the next pass.
func (s *Sweeper) sweepStaleRunning(ctx context.Context) {
	apps, err := s.store.ListStaleRunning(ctx, time.Now().Add(-s.cfg.ClaimTimeout), s.cfg.BatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("Sweep stale running query failed")
		return
	}
	for _, app := range apps {
		ok, err := s.store.ReleaseStaleClaim(ctx, app.ID, "transient: worker claim expired")
		if err != nil || !ok {
			continue
		}
		logging.Warn().
			Int64("application_id", app.ID).
			Str("job_id", app.QueueJobID).
			Msg("Sweeper released dead worker claim")
		metrics.RecordSweeperRepair("stale_running")
	}
}

// sweepExpiredVouchers expires cash voucher references that were never
// paid within the TTL.
func (s *Sweeper) sweepExpiredVouchers(ctx context.Context) {
	apps, err := s.store.ListExpiredVouchers(ctx, time.Now().Add(-s.cfg.VoucherTTL), s.cfg.BatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("Sweep expired vouchers query failed")
		return
	}
	for _, app := range apps {
		ok, err := s.store.TransitionStatus(ctx, app.ID, permit.StatusAwaitingVoucherPayment, permit.StatusPaymentExpired)
		if err != nil || !ok {
			continue
		}
		logging.Info().Int64("application_id", app.ID).Msg("Sweeper expired unpaid voucher")
		metrics.RecordSweeperRepair("voucher_expired")
		metrics.RecordTransition(string(permit.StatusAwaitingVoucherPayment), string(permit.StatusPaymentExpired))
		s.notify(app.ID, permit.StatusPaymentExpired)
	}
}

func (s *Sweeper) publish(ctx context.Context, job *queue.DocumentJob) {
	if err := s.pub.PublishJob(ctx, job); err != nil {
		logging.Error().Err(err).Str("job_id", job.JobID).Msg("Sweeper publish failed")
	}
}

func (s *Sweeper) notify(applicationID int64, status permit.Status) {
	if s.notifier != nil {
		s.notifier.NotifyStatus(applicationID, status)
	}
}
