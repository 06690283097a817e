// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package config provides layered configuration loading for Circulapp.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: Override any setting
//
// Config is immutable after Load() and safe for concurrent read access.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Gateway  GatewayConfig  `koanf:"gateway"`
	Portal   PortalConfig   `koanf:"portal"`
	Storage  StorageConfig  `koanf:"storage"`
	Worker   WorkerConfig   `koanf:"worker"`
	Recovery RecoveryConfig `koanf:"recovery"`
	Sweeper  SweeperConfig  `koanf:"sweeper"`
	Audit    AuditConfig    `koanf:"audit"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins is the list of allowed origins for the status API.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs / RateLimitWindow bound request rates per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = use runtime.NumCPU()
}

// NATSConfig holds the JetStream document-queue settings.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	StreamName     string        `koanf:"stream_name"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	AckWait        time.Duration `koanf:"ack_wait"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`

	// FailedLaneTopic receives jobs that exhausted their retries.
	FailedLaneTopic string `koanf:"failed_lane_topic"`
}

// GatewayConfig holds payment-gateway webhook settings.
type GatewayConfig struct {
	// WebhookSecret is the shared secret for HMAC-SHA256 signature
	// verification. Required; the ingestor fails closed without it.
	WebhookSecret string `koanf:"webhook_secret"`

	// SignatureHeader carries the hex-encoded HMAC of the raw body.
	SignatureHeader string `koanf:"signature_header"`

	// VoucherTTL is how long a cash voucher stays payable before the
	// sweeper expires the application.
	VoucherTTL time.Duration `koanf:"voucher_ttl"`
}

// PortalConfig holds settings for the external government portal.
type PortalConfig struct {
	BaseURL  string `koanf:"base_url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// JobTimeout is the overall wall-clock budget for one generation
	// attempt. The portal can simply hang; exceeding the budget tears
	// down the browser session and counts as a transient failure.
	JobTimeout time.Duration `koanf:"job_timeout"`

	// PollInterval is how often the worker polls the portal for each
	// produced document.
	PollInterval time.Duration `koanf:"poll_interval"`

	// RequestsPerSecond throttles portal interactions. The portal has
	// no API and no documented rate limits; being polite keeps the
	// account from being flagged.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// Headless runs the browser without a display. Disable only for
	// local debugging.
	Headless bool `koanf:"headless"`

	// Circuit breaker settings for consecutive portal failures.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenFor     time.Duration `koanf:"breaker_open_for"`
}

// StorageConfig holds object-storage settings for produced documents.
type StorageConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`

	// SignedURLTTL bounds how long a document download link stays valid.
	SignedURLTTL time.Duration `koanf:"signed_url_ttl"`
}

// WorkerConfig holds document-generation worker-pool settings.
type WorkerConfig struct {
	// Concurrency is the number of simultaneous browser sessions. Kept
	// small: each job holds one full browser process.
	Concurrency int `koanf:"concurrency"`

	// MaxAttempts caps automatic retries of transient failures.
	MaxAttempts int `koanf:"max_attempts"`

	// Backoff is the delay schedule between transient retries, indexed
	// by attempt number. The last entry repeats if attempts exceed it.
	Backoff []time.Duration `koanf:"backoff"`
}

// RecoveryConfig holds recovery-controller settings.
type RecoveryConfig struct {
	// MaxBatchSize caps application IDs per manual retry request so a
	// bulk retry cannot overwhelm the bounded worker pool.
	MaxBatchSize int `koanf:"max_batch_size"`

	// StuckAge is the default age threshold for the stuck-application
	// listing.
	StuckAge time.Duration `koanf:"stuck_age"`
}

// SweeperConfig holds reconciliation sweeper settings.
type SweeperConfig struct {
	Interval time.Duration `koanf:"interval"`

	// EnqueueLag is how long an application may sit in PAYMENT_RECEIVED
	// or queued-but-unstarted before the sweeper re-enqueues it.
	EnqueueLag time.Duration `koanf:"enqueue_lag"`

	// ClaimTimeout releases a running claim whose worker is presumed
	// dead. Must exceed the portal job timeout.
	ClaimTimeout time.Duration `koanf:"claim_timeout"`
}

// AuditConfig holds audit-trail settings.
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`

	RetentionDays int `koanf:"retention_days"`
}

// LoggingConfig holds log level and format settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Gateway.WebhookSecret == "" {
		return fmt.Errorf("gateway.webhook_secret is required")
	}
	if len(c.Gateway.WebhookSecret) < 32 {
		return fmt.Errorf("gateway.webhook_secret must be at least 32 characters")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if len(c.Worker.Backoff) == 0 {
		return fmt.Errorf("worker.backoff must have at least one entry")
	}
	if c.Recovery.MaxBatchSize < 1 {
		return fmt.Errorf("recovery.max_batch_size must be at least 1, got %d", c.Recovery.MaxBatchSize)
	}
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if c.Portal.JobTimeout <= 0 {
		return fmt.Errorf("portal.job_timeout must be positive")
	}
	if c.Sweeper.ClaimTimeout <= c.Portal.JobTimeout {
		return fmt.Errorf("sweeper.claim_timeout (%s) must exceed portal.job_timeout (%s)",
			c.Sweeper.ClaimTimeout, c.Portal.JobTimeout)
	}
	return nil
}
