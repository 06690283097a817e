// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/permit"
)

// TopicStatus is the broker subject carrying application status
// updates. Core NATS pub/sub, not JetStream: a missed status update is
// cosmetic and the client re-reads the status endpoint on reconnect.
const TopicStatus = "permits.status"

// NATSNotifier publishes status changes to the broker instead of the
// local hub. Every replica's StatusRelay, including this one's,
// receives the update and broadcasts it to its own clients, so a
// change made by one instance reaches users connected to any instance.
type NATSNotifier struct {
	nc *nats.Conn
}

// NewNATSNotifier creates a broker-backed status notifier.
func NewNATSNotifier(nc *nats.Conn) (*NATSNotifier, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	return &NATSNotifier{nc: nc}, nil
}

// NotifyStatus implements the status notifier contract.
func (n *NATSNotifier) NotifyStatus(applicationID int64, status permit.Status) {
	update := StatusUpdate{
		ApplicationID: applicationID,
		Status:        string(status),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(update)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal status update")
		return
	}
	if err := n.nc.Publish(TopicStatus, data); err != nil {
		logging.Warn().Err(err).Int64("application_id", applicationID).Msg("failed to publish status update")
	}
}

// MessageSource delivers raw broker messages for a topic. It exists so
// the relay can be tested without a running broker.
type MessageSource interface {
	// Subscribe subscribes to a topic and returns a channel of messages.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	// Close releases resources.
	Close() error
}

// NATSSource implements MessageSource over a core NATS connection.
type NATSSource struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSSource creates a message source over an existing connection.
func NewNATSSource(nc *nats.Conn) *NATSSource {
	return &NATSSource{nc: nc}
}

// Subscribe subscribes to a subject and adapts it to a byte channel.
// The channel closes when ctx is canceled.
func (s *NATSSource) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	msgs := make(chan *nats.Msg, 256)
	sub, err := s.nc.ChanSubscribe(topic, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				out <- msg.Data
			}
		}
	}()

	return out, nil
}

// Close unsubscribes all active subscriptions.
func (s *NATSSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	return nil
}

// StatusRelay bridges broker status updates to the local hub.
type StatusRelay struct {
	hub     *Hub
	source  MessageSource
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewStatusRelay creates a new broker to WebSocket bridge.
func NewStatusRelay(hub *Hub, source MessageSource) *StatusRelay {
	return &StatusRelay{
		hub:    hub,
		source: source,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins listening for status updates and forwarding them to the
// hub.
func (r *StatusRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	messages, err := r.source.Subscribe(ctx, TopicStatus)
	if err != nil {
		return err
	}

	go r.processMessages(ctx, messages)

	logging.Info().Msg("status relay started")
	return nil
}

// Stop stops the relay.
func (r *StatusRelay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
	logging.Info().Msg("status relay stopped")
}

// processMessages handles incoming broker messages.
func (r *StatusRelay) processMessages(ctx context.Context, messages <-chan []byte) {
	defer close(r.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case data, ok := <-messages:
			if !ok {
				return
			}
			r.handleMessage(data)
		}
	}
}

// handleMessage broadcasts a single status update.
func (r *StatusRelay) handleMessage(data []byte) {
	var update StatusUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		logging.Warn().Err(err).Msg("failed to unmarshal status update")
		return
	}
	if update.ApplicationID == 0 || update.Status == "" {
		logging.Warn().Msg("dropping malformed status update")
		return
	}

	r.hub.BroadcastJSON(MessageTypeStatus, update)
}
