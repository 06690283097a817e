// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package worker

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/circulapp/circulapp/internal/database"
	"github.com/circulapp/circulapp/internal/metrics"
	"github.com/circulapp/circulapp/internal/permit"
	"github.com/circulapp/circulapp/internal/portal"
	"github.com/circulapp/circulapp/internal/queue"
	"github.com/circulapp/circulapp/internal/storage"
)

// handleMessage processes one delivery end to end. The message is
// always acked: dropping a claim-losing delivery is correct (some
// other path owns the row) and failures are persisted in the row and
// the failed lane before the ack, so nothing is lost by not nacking.
func (p *Pool) handleMessage(ctx context.Context, log *zerolog.Logger, msg *message.Message) {
	defer msg.Ack()

	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	job, err := queue.ParseJob(msg)
	if err != nil {
		log.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping unparseable job")
		metrics.RecordJobDropped("parse_failed")
		return
	}

	jobLog := log.With().
		Str("job_id", job.JobID).
		Int64("application_id", job.ApplicationID).
		Int("attempt", job.Attempt).
		Str("source", job.Source).
		Logger()

	claimed, err := p.store.ClaimForRun(ctx, job.ApplicationID, job.JobID, job.Attempt)
	if err != nil {
		jobLog.Error().Err(err).Msg("Claim query failed, leaving job for redelivery")
		// Nack wins over the deferred ack, a database outage should
		// surface as redelivery rather than a dropped job.
		msg.Nack()
		return
	}
	if !claimed {
		jobLog.Debug().Msg("Claim lost, dropping delivery")
		metrics.RecordJobDropped("claim_lost")
		return
	}

	jobLog.Info().Msg("Job claimed, starting document generation")
	p.runJob(ctx, &jobLog, job)
}

// runJob executes a claimed job against the portal.
func (p *Pool) runJob(ctx context.Context, log *zerolog.Logger, job *queue.DocumentJob) {
	app, err := p.store.GetApplication(ctx, job.ApplicationID)
	if err != nil {
		p.releaseTransient(ctx, log, job, portal.NewTransientError("load application", err))
		return
	}

	docs, err := p.adapter.Submit(ctx, app)
	if err == nil {
		err = p.complete(ctx, log, job, docs)
		if err == nil {
			return
		}
		err = portal.NewTransientError("persist documents", err)
	}

	switch {
	case portal.IsPermanent(err):
		log.Warn().Err(err).Msg("Permanent failure, skipping retries")
		p.fail(ctx, log, job, err, "permanent")
	case job.Attempt >= p.cfg.MaxAttempts:
		log.Warn().Err(err).Msg("Retry budget exhausted")
		p.fail(ctx, log, job, err, "transient")
	default:
		p.releaseTransient(ctx, log, job, err)
	}
}

// complete uploads documents and finalizes the application.
func (p *Pool) complete(ctx context.Context, log *zerolog.Logger, job *queue.DocumentJob, docs *portal.Documents) error {
	keys, err := storage.StoreDocuments(ctx, p.objects, job.ApplicationID, job.JobID, docs)
	if err != nil {
		return err
	}

	ok, err := p.store.CompleteGeneration(ctx, job.ApplicationID, job.JobID, keys)
	if err != nil {
		return err
	}
	if !ok {
		// The row moved while the portal session ran, most likely a
		// forced manual retry replaced the job. The uploaded objects
		// stay orphaned under this job's prefix.
		log.Warn().Msg("Completion CAS lost, documents discarded")
		metrics.RecordJobDropped("superseded")
		return nil
	}

	log.Info().Msg("Application completed")
	metrics.RecordJobCompleted(job.Attempt)
	metrics.RecordTransition(string(permit.StatusGeneratingPermit), string(permit.StatusCompleted))
	p.notify(job.ApplicationID, permit.StatusCompleted)
	return nil
}

// releaseTransient puts the row back in the queued state and schedules
// the next attempt.
func (p *Pool) releaseTransient(ctx context.Context, log *zerolog.Logger, job *queue.DocumentJob, cause error) {
	ok, err := p.store.ReleaseForRetry(ctx, job.ApplicationID, job.JobID, taggedError("transient", cause))
	if err != nil {
		log.Error().Err(err).Msg("Release failed, sweeper will recover the stale claim")
		return
	}
	if !ok {
		metrics.RecordJobDropped("superseded")
		return
	}

	delay := p.backoffFor(job.Attempt)
	log.Info().
		Err(cause).
		Dur("backoff", delay).
		Msg("Transient failure, requeueing")
	metrics.RecordJobRetried()

	next := *job
	next.Attempt = job.Attempt + 1
	next.EnqueuedAt = time.Now().UTC()
	p.scheduleRequeue(ctx, &next, delay)
}

// fail parks the job in the failed lane and marks the application.
func (p *Pool) fail(ctx context.Context, log *zerolog.Logger, job *queue.DocumentJob, cause error, classification string) {
	ok, err := p.store.FailGeneration(ctx, job.ApplicationID, job.JobID, taggedError(classification, cause))
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark generation failure")
		return
	}
	if !ok {
		metrics.RecordJobDropped("superseded")
		return
	}

	now := time.Now().UTC()
	record := &database.FailedJob{
		JobID:          job.JobID,
		ApplicationID:  job.ApplicationID,
		Attempts:       job.Attempt,
		Classification: classification,
		Source:         job.Source,
		Actor:          job.Actor,
		Error:          cause.Error(),
		Payload:        mustPayload(job),
		FirstFailure:   job.EnqueuedAt,
		LastFailure:    now,
	}
	if err := p.store.InsertFailedJob(ctx, record); err != nil {
		log.Error().Err(err).Msg("Failed-lane insert failed")
	}

	p.publishFailedCopy(ctx, log, job, cause)

	metrics.RecordJobFailed(classification)
	metrics.RecordTransition(string(permit.StatusGeneratingPermit), string(permit.StatusGenerationFailed))
	p.notify(job.ApplicationID, permit.StatusGenerationFailed)
	log.Warn().Str("classification", classification).Msg("Job parked in failed lane")
}

// publishFailedCopy mirrors the terminal failure onto the failed
// subject so external consumers can alert on it. Best effort, the
// database record is the source of truth.
func (p *Pool) publishFailedCopy(ctx context.Context, log *zerolog.Logger, job *queue.DocumentJob, cause error) {
	msg, err := job.Message()
	if err != nil {
		return
	}
	// Fresh UUID so stream level dedup never collapses the failure
	// record with the attempt that produced it.
	failed := message.NewMessage(uuid.New().String(), msg.Payload)
	failed.Metadata.Set("job_id", job.JobID)
	failed.Metadata.Set("error", cause.Error())
	if err := p.pub.Publish(ctx, queue.TopicJobsFailed, failed); err != nil {
		log.Error().Err(err).Msg("Failed-lane publish failed")
	}
}

func (p *Pool) notify(applicationID int64, status permit.Status) {
	if p.notifier != nil {
		p.notifier.NotifyStatus(applicationID, status)
	}
}

// taggedError prefixes the stored queue error with its classification
// so the status projection can report the failure kind without leaking
// the message itself.
func taggedError(classification string, cause error) string {
	return classification + ": " + cause.Error()
}

func mustPayload(job *queue.DocumentJob) []byte {
	msg, err := job.Message()
	if err != nil {
		return nil
	}
	return msg.Payload
}
