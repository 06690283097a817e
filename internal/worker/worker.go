// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/circulapp/circulapp/internal/database"
	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/permit"
	"github.com/circulapp/circulapp/internal/portal"
	"github.com/circulapp/circulapp/internal/queue"
	"github.com/circulapp/circulapp/internal/storage"
)

// Store is the subset of the database layer the pool mutates.
type Store interface {
	GetApplication(ctx context.Context, id int64) (*permit.Application, error)
	ClaimForRun(ctx context.Context, id int64, jobID string, attempt int) (bool, error)
	ReleaseForRetry(ctx context.Context, id int64, jobID, queueError string) (bool, error)
	CompleteGeneration(ctx context.Context, id int64, jobID string, keys permit.DocumentKeys) (bool, error)
	FailGeneration(ctx context.Context, id int64, jobID, queueError string) (bool, error)
	InsertFailedJob(ctx context.Context, job *database.FailedJob) error
}

// Publisher publishes requeued attempts and failed-lane copies.
type Publisher interface {
	PublishJob(ctx context.Context, job *queue.DocumentJob) error
	Publish(ctx context.Context, topic string, msg *message.Message) error
}

// Subscriber delivers job messages per topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// StatusNotifier receives application status changes for live clients.
// Implementations must not block.
type StatusNotifier interface {
	NotifyStatus(applicationID int64, status permit.Status)
}

// Config holds worker pool settings.
type Config struct {
	Concurrency int

	// MaxAttempts bounds automatic retries per job.
	MaxAttempts int

	// Backoff holds per-retry delays. Attempt N waits Backoff[N-1]
	// before requeueing, the last entry repeats if attempts exceed it.
	Backoff []time.Duration
}

// DefaultConfig returns production worker settings.
func DefaultConfig() Config {
	return Config{
		Concurrency: 3,
		MaxAttempts: 3,
		Backoff:     []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute},
	}
}

// Pool consumes job messages and processes them through the portal.
type Pool struct {
	cfg      Config
	store    Store
	pub      Publisher
	sub      Subscriber
	adapter  portal.Adapter
	objects  storage.ObjectStore
	notifier StatusNotifier

	wg sync.WaitGroup
}

// NewPool wires a worker pool. notifier may be nil.
func NewPool(cfg Config, store Store, pub Publisher, sub Subscriber, adapter portal.Adapter, objects storage.ObjectStore, notifier StatusNotifier) (*Pool, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("worker concurrency must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("worker max attempts must be positive")
	}
	if len(cfg.Backoff) == 0 {
		return nil, fmt.Errorf("worker backoff schedule required")
	}
	return &Pool{
		cfg:      cfg,
		store:    store,
		pub:      pub,
		sub:      sub,
		adapter:  adapter,
		objects:  objects,
		notifier: notifier,
	}, nil
}

// Run subscribes to both job tiers and processes messages until the
// context is canceled. Blocks until all workers have drained.
func (p *Pool) Run(ctx context.Context) error {
	priority, err := p.sub.Subscribe(ctx, queue.TopicJobsPriority)
	if err != nil {
		return fmt.Errorf("subscribe priority jobs: %w", err)
	}
	normal, err := p.sub.Subscribe(ctx, queue.TopicJobsNormal)
	if err != nil {
		return fmt.Errorf("subscribe normal jobs: %w", err)
	}

	logging.Info().
		Int("concurrency", p.cfg.Concurrency).
		Int("max_attempts", p.cfg.MaxAttempts).
		Msg("Worker pool starting")

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(ctx, id, priority, normal)
		}(i)
	}

	p.wg.Wait()
	logging.Info().Msg("Worker pool stopped")
	return ctx.Err()
}

// workerLoop pulls jobs, draining the priority tier first.
func (p *Pool) workerLoop(ctx context.Context, id int, priority, normal <-chan *message.Message) {
	log := logging.With().Int("worker", id).Logger()
	for {
		// Non-blocking priority check before the fair select, so a
		// backlog of manual retries is never starved by normal jobs.
		select {
		case msg, ok := <-priority:
			if !ok {
				return
			}
			p.handleMessage(ctx, &log, msg)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case msg, ok := <-priority:
			if !ok {
				return
			}
			p.handleMessage(ctx, &log, msg)
		case msg, ok := <-normal:
			if !ok {
				return
			}
			p.handleMessage(ctx, &log, msg)
		}
	}
}

// backoffFor returns the delay before requeueing the given attempt.
func (p *Pool) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.cfg.Backoff) {
		idx = len(p.cfg.Backoff) - 1
	}
	return p.cfg.Backoff[idx]
}

// scheduleRequeue publishes the next attempt after its backoff delay.
// If the process dies while waiting, the reconciliation sweeper finds
// the row still queued and republishes, so the delay is best-effort.
func (p *Pool) scheduleRequeue(ctx context.Context, job *queue.DocumentJob, delay time.Duration) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			logging.Warn().
				Str("job_id", job.JobID).
				Int("attempt", job.Attempt).
				Msg("Shutdown before requeue, sweeper will recover")
			return
		case <-timer.C:
		}

		if err := p.pub.PublishJob(context.WithoutCancel(ctx), job); err != nil {
			logging.Error().Err(err).
				Str("job_id", job.JobID).
				Int("attempt", job.Attempt).
				Msg("Requeue publish failed, sweeper will recover")
		}
	}()
}
