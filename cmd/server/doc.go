// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

/*
Package main is the entry point for the Circulapp permit processor.

Circulapp processes vehicle circulation permit applications: it ingests
payment-gateway webhooks, drives the application status state machine,
and generates permit documents through the government portal with a
supervised worker pool.

# Application Architecture

The server implements a layered architecture with Suture v4 process
supervision:

	RootSupervisor ("circulapp")
	├── DataSupervisor ("data-layer")
	│   ├── Embedded NATS broker (optional)
	│   └── Audit retention cleanup
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── WebSocket hub (live status updates)
	│   ├── Status relay (broker to hub bridge)
	│   ├── Document worker pool
	│   └── Recovery sweeper
	└── APISupervisor ("api-layer")
	    └── HTTP server (webhooks, status, admin recovery)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Database: DuckDB holding applications, payment events, failed jobs
 4. Audit trail: async DuckDB-backed audit logger
 5. Message broker: embedded NATS JetStream or external URL
 6. Job stream: idempotent JetStream stream provisioning
 7. Object storage: MinIO bucket for generated documents
 8. Portal adapter: headless browser with breaker and rate limit
 9. Pipeline: webhook ingestor, worker pool, sweeper, recovery controller
 10. HTTP server: chi router with webhook, status, admin and health routes

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest
priority wins):
  - Environment variables
  - Config file (config.yaml)
  - Built-in defaults

Required settings:
  - DATABASE_PATH: DuckDB file location
  - GATEWAY_WEBHOOK_SECRET: 32+ character HMAC secret for webhook signatures
  - PORTAL_BASE_URL: government portal address

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:
  - Stops accepting new connections
  - Waits for in-flight requests and running jobs (10s timeout)
  - Drains the JetStream subscriber so claimed jobs are redelivered
  - Closes the audit logger and database connections

# Example Usage

Single-binary deployment with the embedded broker:

	export DATABASE_PATH=/data/circulapp.db
	export GATEWAY_WEBHOOK_SECRET=$(openssl rand -hex 32)
	export PORTAL_BASE_URL=https://portal.example.gob
	export PORTAL_USERNAME=operator
	export PORTAL_PASSWORD=secret
	export NATS_EMBEDDED_SERVER=true
	export NATS_STORE_DIR=/data/jetstream
	./circulapp

External broker and storage:

	export NATS_EMBEDDED_SERVER=false
	export NATS_URL=nats://broker:4222
	export STORAGE_ENDPOINT=minio:9000
	export STORAGE_ACCESS_KEY=circulapp
	export STORAGE_SECRET_KEY=secret
	export STORAGE_BUCKET=permit-documents
	./circulapp
*/
package main
