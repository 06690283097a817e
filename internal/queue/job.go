// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package queue

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// JetStream subjects for document generation jobs. All three are bound
// to the same stream; priority is modeled as a separate subject that
// workers drain first.
const (
	TopicJobsNormal   = "permits.jobs.normal"
	TopicJobsPriority = "permits.jobs.priority"
	TopicJobsFailed   = "permits.jobs.failed"
)

// Job sources. ManualRetry jobs come from the recovery endpoint and are
// published to the priority subject.
const (
	SourceAutomatic   = "automatic"
	SourceManualRetry = "manual-retry"
)

// DocumentJob is the payload carried by a generation job message.
// The job is intentionally thin: the application row is the source of
// truth, the message only identifies which application to process and
// which enqueue generation it belongs to.
type DocumentJob struct {
	// JobID ties the message to the queue_job_id stamped on the
	// application row at enqueue time. A worker only claims the row
	// when the IDs still match, so superseded deliveries drop cleanly.
	JobID         string `json:"job_id"`
	ApplicationID int64  `json:"application_id"`

	// Attempt is the delivery attempt this message represents,
	// starting at 1. Requeued messages carry the next attempt number.
	Attempt int `json:"attempt"`

	Priority         bool      `json:"priority"`
	Source           string    `json:"source"`
	Actor            string    `json:"actor,omitempty"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
}

// NewJob builds a first-attempt job for an application.
func NewJob(applicationID int64, paymentRef string) *DocumentJob {
	return &DocumentJob{
		JobID:            uuid.New().String(),
		ApplicationID:    applicationID,
		Attempt:          1,
		Source:           SourceAutomatic,
		PaymentReference: paymentRef,
		EnqueuedAt:       time.Now().UTC(),
	}
}

// NewRetryJob builds a manual-retry job. Manual retries get a fresh job
// ID so any in-flight automatic delivery for the old ID loses its claim.
func NewRetryJob(applicationID int64, paymentRef, actor string) *DocumentJob {
	j := NewJob(applicationID, paymentRef)
	j.Priority = true
	j.Source = SourceManualRetry
	j.Actor = actor
	return j
}

// Topic returns the subject this job should be published to.
func (j *DocumentJob) Topic() string {
	if j.Priority {
		return TopicJobsPriority
	}
	return TopicJobsNormal
}

// Validate checks the fields a consumer depends on.
func (j *DocumentJob) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job missing job_id")
	}
	if j.ApplicationID <= 0 {
		return fmt.Errorf("job %s has invalid application_id %d", j.JobID, j.ApplicationID)
	}
	if j.Attempt < 1 {
		return fmt.Errorf("job %s has invalid attempt %d", j.JobID, j.Attempt)
	}
	return nil
}

// Message serializes the job into a Watermill message. The message
// UUID is job_id plus the attempt number so JetStream deduplication
// collapses duplicate publishes of one attempt without swallowing the
// backoff requeue of the next.
func (j *DocumentJob) Message() (*message.Message, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job %s: %w", j.JobID, err)
	}
	msg := message.NewMessage(fmt.Sprintf("%s:%d", j.JobID, j.Attempt), data)
	msg.Metadata.Set("job_id", j.JobID)
	msg.Metadata.Set("application_id", fmt.Sprintf("%d", j.ApplicationID))
	msg.Metadata.Set("source", j.Source)
	return msg, nil
}

// ParseJob decodes a job from a consumed message.
func ParseJob(msg *message.Message) (*DocumentJob, error) {
	var j DocumentJob
	if err := json.Unmarshal(msg.Payload, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", msg.UUID, err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}
