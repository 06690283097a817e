// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/circulapp/circulapp/internal/permit"
)

// fakeSource is a channel-backed MessageSource for relay tests.
type fakeSource struct {
	ch     chan []byte
	closed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan []byte, 16)}
}

func (s *fakeSource) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if topic != TopicStatus {
		panic("unexpected topic: " + topic)
	}
	return s.ch, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func mustMarshalUpdate(t *testing.T, update StatusUpdate) []byte {
	t.Helper()
	data, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestStatusRelay_ForwardsUpdates(t *testing.T) {
	hub := setupHub(t)
	client := createTestClient(hub)
	registerClient(hub, client)

	source := newFakeSource()
	relay := NewStatusRelay(hub, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := relay.Start(ctx); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	defer relay.Stop()

	source.ch <- mustMarshalUpdate(t, StatusUpdate{
		ApplicationID: 310,
		Status:        string(permit.StatusCompleted),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeStatus {
			t.Errorf("message type = %q", msg.Type)
		}
		update, ok := msg.Data.(StatusUpdate)
		if !ok {
			t.Fatalf("message data is %T, want StatusUpdate", msg.Data)
		}
		if update.ApplicationID != 310 {
			t.Errorf("application ID = %d", update.ApplicationID)
		}
		if update.Status != string(permit.StatusCompleted) {
			t.Errorf("status = %q", update.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relayed update not delivered")
	}
}

func TestStatusRelay_DropsMalformed(t *testing.T) {
	hub := setupHub(t)
	client := createTestClient(hub)
	registerClient(hub, client)

	source := newFakeSource()
	relay := NewStatusRelay(hub, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := relay.Start(ctx); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	defer relay.Stop()

	// Garbage, a zero application ID and an empty status must all be
	// dropped without reaching clients.
	source.ch <- []byte("{not json")
	source.ch <- mustMarshalUpdate(t, StatusUpdate{ApplicationID: 0, Status: "COMPLETED"})
	source.ch <- mustMarshalUpdate(t, StatusUpdate{ApplicationID: 5, Status: ""})

	select {
	case msg := <-client.send:
		t.Fatalf("unexpected message delivered: %+v", msg)
	case <-time.After(100 * time.Millisecond):
		// Nothing delivered, as expected
	}
}

func TestStatusRelay_StartIdempotent(t *testing.T) {
	hub := setupHub(t)
	source := newFakeSource()
	relay := NewStatusRelay(hub, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := relay.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := relay.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	relay.Stop()
	relay.Stop()
}

func TestStatusRelay_StopWaitsForProcessor(t *testing.T) {
	hub := setupHub(t)
	source := newFakeSource()
	relay := NewStatusRelay(hub, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := relay.Start(ctx); err != nil {
		t.Fatalf("start relay: %v", err)
	}

	done := make(chan struct{})
	go func() {
		relay.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestNATSNotifier_RequiresConnection(t *testing.T) {
	if _, err := NewNATSNotifier(nil); err == nil {
		t.Error("expected error for nil connection")
	}
}

func TestStatusUpdate_WireFormat(t *testing.T) {
	update := StatusUpdate{
		ApplicationID: 12,
		Status:        string(permit.StatusGeneratingPermit),
		Timestamp:     "2026-08-01T12:00:00Z",
	}

	data, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if id, _ := decoded["application_id"].(float64); int64(id) != 12 {
		t.Errorf("application_id = %v", decoded["application_id"])
	}
	if decoded["status"] != string(permit.StatusGeneratingPermit) {
		t.Errorf("status = %v", decoded["status"])
	}
	if decoded["timestamp"] != "2026-08-01T12:00:00Z" {
		t.Errorf("timestamp = %v", decoded["timestamp"])
	}
}
