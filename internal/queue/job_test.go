// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package queue

import (
	"testing"
)

func TestNewJobDefaults(t *testing.T) {
	j := NewJob(42, "ord_123")

	if j.JobID == "" {
		t.Error("expected generated job ID")
	}
	if j.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", j.Attempt)
	}
	if j.Source != SourceAutomatic {
		t.Errorf("source = %q, want automatic", j.Source)
	}
	if j.Topic() != TopicJobsNormal {
		t.Errorf("topic = %q, want normal tier", j.Topic())
	}
}

func TestNewRetryJob(t *testing.T) {
	j := NewRetryJob(42, "ord_123", "ops@example.com")

	if !j.Priority {
		t.Error("manual retry must be priority")
	}
	if j.Source != SourceManualRetry {
		t.Errorf("source = %q, want manual-retry", j.Source)
	}
	if j.Actor != "ops@example.com" {
		t.Errorf("actor = %q", j.Actor)
	}
	if j.Topic() != TopicJobsPriority {
		t.Errorf("topic = %q, want priority tier", j.Topic())
	}
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DocumentJob)
		wantErr bool
	}{
		{"valid", func(j *DocumentJob) {}, false},
		{"missing job ID", func(j *DocumentJob) { j.JobID = "" }, true},
		{"zero application", func(j *DocumentJob) { j.ApplicationID = 0 }, true},
		{"negative application", func(j *DocumentJob) { j.ApplicationID = -5 }, true},
		{"zero attempt", func(j *DocumentJob) { j.Attempt = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJob(1, "ord_x")
			tt.mutate(j)
			err := j.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobMessageRoundTrip(t *testing.T) {
	j := NewRetryJob(7, "ord_rt", "admin")
	j.Attempt = 2

	msg, err := j.Message()
	if err != nil {
		t.Fatalf("Message: %v", err)
	}

	// Message UUID carries the attempt so redelivery dedup does not
	// collapse distinct attempts of one job.
	if want := j.JobID + ":2"; msg.UUID != want {
		t.Errorf("message UUID = %q, want %q", msg.UUID, want)
	}
	if msg.Metadata.Get("job_id") != j.JobID {
		t.Errorf("job_id metadata = %q", msg.Metadata.Get("job_id"))
	}
	if msg.Metadata.Get("source") != SourceManualRetry {
		t.Errorf("source metadata = %q", msg.Metadata.Get("source"))
	}

	got, err := ParseJob(msg)
	if err != nil {
		t.Fatalf("ParseJob: %v", err)
	}
	if got.ApplicationID != 7 || got.Attempt != 2 || !got.Priority {
		t.Errorf("parsed job = %+v", got)
	}
}

func TestParseJobRejectsGarbage(t *testing.T) {
	j := NewJob(1, "")
	msg, err := j.Message()
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	msg.Payload = []byte("not json")

	if _, err := ParseJob(msg); err == nil {
		t.Error("expected error for malformed payload")
	}
}
