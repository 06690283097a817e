// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/circulapp/circulapp/internal/database"
	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/metrics"
	"github.com/circulapp/circulapp/internal/permit"
	"github.com/circulapp/circulapp/internal/queue"
)

// Outcome classifies how a webhook delivery was handled. Every outcome
// except OutcomeStoreDown is acknowledged to the gateway.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoOp      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeAnomaly   Outcome = "anomaly"

	// OutcomeStoreDown means the event could not be durably recorded.
	// The handler maps it to 503 so the gateway redelivers.
	OutcomeStoreDown Outcome = "store_down"
)

// Store is the subset of the database layer ingestion needs.
type Store interface {
	GetApplication(ctx context.Context, id int64) (*permit.Application, error)
	FindByPaymentReference(ctx context.Context, ref string) (*permit.Application, error)
	SetPaymentReference(ctx context.Context, id int64, ref string, method permit.PaymentMethod) error
	InsertPaymentEvent(ctx context.Context, ev *permit.PaymentEvent) error
	ApplyPaymentEvent(ctx context.Context, ev *permit.PaymentEvent, from, to permit.Status) (bool, error)
	EnqueueForGeneration(ctx context.Context, id int64, jobID string) (bool, error)
}

// Publisher enqueues generation jobs for paid applications.
type Publisher interface {
	PublishJob(ctx context.Context, job *queue.DocumentJob) error
}

// Auditor records webhook anomalies for forensic review.
type Auditor interface {
	LogWebhookAnomaly(ctx context.Context, gateway, eventID, reason string, payload []byte)
}

// StatusNotifier receives application status changes.
type StatusNotifier interface {
	NotifyStatus(applicationID int64, status permit.Status)
}

// Ingestor verifies, records and applies gateway webhook events.
type Ingestor struct {
	store    Store
	pub      Publisher
	auditor  Auditor
	notifier StatusNotifier
	secret   []byte
}

// NewIngestor creates an ingestor. auditor and notifier may be nil.
func NewIngestor(store Store, pub Publisher, auditor Auditor, notifier StatusNotifier, webhookSecret string) (*Ingestor, error) {
	if store == nil || pub == nil {
		return nil, fmt.Errorf("ingestor requires store and publisher")
	}
	if webhookSecret == "" {
		return nil, fmt.Errorf("webhook secret required")
	}
	return &Ingestor{
		store:    store,
		pub:      pub,
		auditor:  auditor,
		notifier: notifier,
		secret:   []byte(webhookSecret),
	}, nil
}

// VerifySignature checks the hex HMAC-SHA256 signature over the raw
// request body.
func (in *Ingestor) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, in.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Process handles one verified webhook delivery.
func (in *Ingestor) Process(ctx context.Context, gateway string, body []byte) Outcome {
	log := logging.Ctx(ctx)

	ev, err := ParseEvent(body)
	if err != nil {
		log.Warn().Err(err).Str("gateway", gateway).Msg("Unparseable webhook payload")
		in.anomaly(ctx, gateway, "", "unparseable payload: "+err.Error(), body)
		return in.record(ctx, gateway, "unknown", "", 0, body, OutcomeAnomaly)
	}

	domainEvent, relevant := ev.DomainEvent()
	if !relevant {
		log.Debug().Str("gateway", gateway).Str("type", ev.Type).Msg("Ignoring gateway event type")
		metrics.RecordWebhookEvent(gateway, ev.Type, string(OutcomeIgnored))
		return OutcomeIgnored
	}

	app, err := in.resolve(ctx, ev)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Warn().
				Str("gateway", gateway).
				Str("event_id", ev.ID).
				Str("order_id", ev.Data.Object.OrderID).
				Msg("Webhook references unknown application")
			in.anomaly(ctx, gateway, ev.ID, "unknown application", body)
			return in.record(ctx, gateway, ev.Type, ev.ID, 0, body, OutcomeAnomaly)
		}
		log.Error().Err(err).Str("event_id", ev.ID).Msg("Application lookup failed")
		return OutcomeStoreDown
	}

	// The first gateway report on an application carries the reference
	// it can be looked up by from then on. That is usually voucher
	// issuance, but a card paid via the metadata ID must keep its
	// order ID too or later manual retries have nothing to hand the
	// portal.
	if app.PaymentReference == "" && ev.Data.Object.OrderID != "" {
		if err := in.store.SetPaymentReference(ctx, app.ID, ev.Data.Object.OrderID, ev.PaymentMethod()); err != nil {
			log.Error().Err(err).Int64("application_id", app.ID).Msg("Failed to persist payment reference")
			return OutcomeStoreDown
		}
		app.PaymentReference = ev.Data.Object.OrderID
		app.PaymentMethod = ev.PaymentMethod()
	}

	return in.apply(ctx, gateway, ev, domainEvent, app, body)
}

// resolve finds the application the event refers to, preferring the
// explicit metadata ID over the payment reference.
func (in *Ingestor) resolve(ctx context.Context, ev *GatewayEvent) (*permit.Application, error) {
	if id := ev.ApplicationID(); id != 0 {
		return in.store.GetApplication(ctx, id)
	}
	return in.store.FindByPaymentReference(ctx, ev.Data.Object.OrderID)
}

// apply runs the state machine and persists the result atomically with
// the event record.
func (in *Ingestor) apply(ctx context.Context, gateway string, ev *GatewayEvent, domainEvent permit.Event, app *permit.Application, body []byte) Outcome {
	log := logging.Ctx(ctx)

	next, outcome, terr := permit.Transition(app.Status, domainEvent)

	record := &permit.PaymentEvent{
		GatewayEventID: ev.ID,
		Gateway:        gateway,
		EventType:      ev.Type,
		ApplicationID:  app.ID,
		RawPayload:     body,
		ReceivedAt:     time.Now().UTC(),
	}

	switch outcome {
	case permit.OutcomeApplied:
		applied, err := in.store.ApplyPaymentEvent(ctx, record, app.Status, next)
		if err != nil {
			if errors.Is(err, database.ErrDuplicateEvent) {
				log.Info().Str("event_id", ev.ID).Msg("Duplicate webhook delivery")
				metrics.RecordWebhookEvent(gateway, ev.Type, string(OutcomeDuplicate))
				return OutcomeDuplicate
			}
			log.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to apply payment event")
			return OutcomeStoreDown
		}
		if !applied {
			// The row moved between read and CAS. The event is
			// stored, so redelivery dedups; treat as no-op.
			metrics.RecordWebhookEvent(gateway, ev.Type, string(OutcomeNoOp))
			return OutcomeNoOp
		}

		log.Info().
			Int64("application_id", app.ID).
			Str("from", string(app.Status)).
			Str("to", string(next)).
			Str("event_id", ev.ID).
			Msg("Payment event applied")
		metrics.RecordWebhookEvent(gateway, ev.Type, string(OutcomeApplied))
		metrics.RecordTransition(string(app.Status), string(next))
		in.notify(app.ID, next)

		if next == permit.StatusPaymentReceived {
			in.enqueue(ctx, app)
		}
		return OutcomeApplied

	case permit.OutcomeNoOp:
		if err := in.store.InsertPaymentEvent(ctx, record); err != nil {
			if errors.Is(err, database.ErrDuplicateEvent) {
				metrics.RecordWebhookEvent(gateway, ev.Type, string(OutcomeDuplicate))
				return OutcomeDuplicate
			}
			return OutcomeStoreDown
		}
		metrics.RecordWebhookEvent(gateway, ev.Type, string(OutcomeNoOp))
		return OutcomeNoOp

	default:
		log.Warn().
			Err(terr).
			Int64("application_id", app.ID).
			Str("event_id", ev.ID).
			Msg("Webhook event invalid for current status")
		in.anomaly(ctx, gateway, ev.ID, terr.Error(), body)
		return in.record(ctx, gateway, ev.Type, ev.ID, app.ID, body, OutcomeAnomaly)
	}
}

// enqueue moves a paid application into the generation pipeline. The
// row transition and job publish are not atomic: a lost publish leaves
// the row queued with no message, which the sweeper detects and
// republishes.
func (in *Ingestor) enqueue(ctx context.Context, app *permit.Application) {
	log := logging.Ctx(ctx)

	job := queue.NewJob(app.ID, app.PaymentReference)
	ok, err := in.store.EnqueueForGeneration(ctx, app.ID, job.JobID)
	if err != nil {
		log.Error().Err(err).Int64("application_id", app.ID).Msg("Enqueue failed, sweeper will recover")
		return
	}
	if !ok {
		// Already enqueued by a concurrent delivery.
		return
	}

	metrics.RecordTransition(string(permit.StatusPaymentReceived), string(permit.StatusGeneratingPermit))
	in.notify(app.ID, permit.StatusGeneratingPermit)

	if err := in.pub.PublishJob(ctx, job); err != nil {
		log.Error().Err(err).
			Int64("application_id", app.ID).
			Str("job_id", job.JobID).
			Msg("Job publish failed, sweeper will recover")
	}
}

// record persists an anomalous event for dedup and the audit trail.
// Failures here must surface as store_down: an unrecorded anomaly
// would be re-processed as new on redelivery.
func (in *Ingestor) record(ctx context.Context, gateway, eventType, eventID string, appID int64, body []byte, outcome Outcome) Outcome {
	metrics.RecordWebhookEvent(gateway, eventType, string(outcome))
	if eventID == "" {
		// No stable ID to dedup on, nothing to store.
		return outcome
	}
	record := &permit.PaymentEvent{
		GatewayEventID: eventID,
		Gateway:        gateway,
		EventType:      eventType,
		ApplicationID:  appID,
		RawPayload:     body,
		ReceivedAt:     time.Now().UTC(),
	}
	if err := in.store.InsertPaymentEvent(ctx, record); err != nil && !errors.Is(err, database.ErrDuplicateEvent) {
		return OutcomeStoreDown
	}
	return outcome
}

func (in *Ingestor) anomaly(ctx context.Context, gateway, eventID, reason string, body []byte) {
	if in.auditor != nil {
		in.auditor.LogWebhookAnomaly(ctx, gateway, eventID, reason, body)
	}
}

func (in *Ingestor) notify(applicationID int64, status permit.Status) {
	if in.notifier != nil {
		in.notifier.NotifyStatus(applicationID, status)
	}
}
