// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package queue

import "time"

// ServerConfig holds embedded NATS server settings.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns defaults for a single-binary deployment.
func DefaultServerConfig(storeDir string) ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          storeDir,
		JetStreamMaxMem:   256 << 20, // 256MB
		JetStreamMaxStore: 2 << 30,   // 2GB
	}
}

// PublisherConfig holds publisher connection settings.
type PublisherConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024, // 8MB
	}
}

// SubscriberConfig holds durable consumer settings.
type SubscriberConfig struct {
	URL              string
	StreamName       string
	DurableName      string
	QueueGroup       string
	SubscribersCount int

	// AckWaitTimeout must exceed the portal job timeout so JetStream
	// does not redeliver a job that is still being processed.
	AckWaitTimeout time.Duration

	MaxDeliver    int
	MaxAckPending int
	CloseTimeout  time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultSubscriberConfig returns production defaults for job consumers.
func DefaultSubscriberConfig(url, streamName string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		StreamName:       streamName,
		DurableName:      "permit-worker",
		QueueGroup:       "workers",
		SubscribersCount: 1,
		AckWaitTimeout:   6 * time.Minute,
		MaxDeliver:       5,
		MaxAckPending:    64,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
	}
}

// StreamConfig defines the permit jobs stream.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns the production stream configuration.
// The failed subject is part of the same stream so failed-lane records
// survive restarts alongside the jobs they mirror.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name: "PERMITS",
		Subjects: []string{
			TopicJobsNormal,
			TopicJobsPriority,
			TopicJobsFailed,
		},
		MaxAge:          14 * 24 * time.Hour,
		MaxBytes:        1 << 30, // 1GB
		MaxMsgs:         -1,
		DuplicateWindow: 20 * time.Second,
		Replicas:        1,
	}
}
