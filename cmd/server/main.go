// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/circulapp/circulapp/internal/api"
	"github.com/circulapp/circulapp/internal/audit"
	"github.com/circulapp/circulapp/internal/config"
	"github.com/circulapp/circulapp/internal/database"
	"github.com/circulapp/circulapp/internal/ingest"
	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/portal"
	"github.com/circulapp/circulapp/internal/queue"
	"github.com/circulapp/circulapp/internal/recovery"
	"github.com/circulapp/circulapp/internal/storage"
	"github.com/circulapp/circulapp/internal/supervisor"
	"github.com/circulapp/circulapp/internal/supervisor/services"
	"github.com/circulapp/circulapp/internal/websocket"
	"github.com/circulapp/circulapp/internal/worker"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("embedded_broker", cfg.NATS.EmbeddedServer).
		Int("worker_concurrency", cfg.Worker.Concurrency).
		Msg("Starting Circulapp permit processor")

	// Initialize DuckDB. The schema (applications, payment events,
	// failed jobs) is created on first open.
	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === AUDIT TRAIL ===
	// DuckDB-backed audit store shares the application database. The
	// webhook and admin paths log asynchronously through it.
	auditStore := audit.NewDuckDBStore(db.Conn())
	if err := auditStore.CreateTable(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to create audit events table")
	}
	auditConfig := audit.DefaultConfig()
	auditConfig.Enabled = cfg.Audit.Enabled
	if cfg.Audit.BufferSize > 0 {
		auditConfig.BufferSize = cfg.Audit.BufferSize
	}
	if cfg.Audit.RetentionDays > 0 {
		auditConfig.RetentionDays = cfg.Audit.RetentionDays
	}
	auditLogger := audit.NewLogger(auditStore, auditConfig)
	defer func() {
		if err := auditLogger.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit logger")
		}
	}()

	// === MESSAGE BROKER ===
	// Single-binary deployments run an embedded NATS server with
	// JetStream persistence; larger deployments point at an external one.
	var broker *queue.EmbeddedServer
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		serverCfg := queue.DefaultServerConfig(cfg.NATS.StoreDir)
		broker, err = queue.NewEmbeddedServer(&serverCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		natsURL = broker.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	// Shared core-NATS connection for status fan-out and stream
	// provisioning. The job publisher and subscriber hold their own
	// connections through Watermill.
	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait),
	)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create JetStream context")
	}

	streamCfg := queue.DefaultStreamConfig()
	if cfg.NATS.StreamName != "" {
		streamCfg.Name = cfg.NATS.StreamName
	}
	streamInit, err := queue.NewStreamInitializer(js, &streamCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stream initializer")
	}
	if _, err := streamInit.EnsureStream(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision job stream")
	}
	logging.Info().Str("stream", streamCfg.Name).Msg("Job stream ready")

	// Watermill logs through the same zerolog backend via slog.
	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger())

	pubCfg := queue.DefaultPublisherConfig(natsURL)
	if cfg.NATS.MaxReconnects != 0 {
		pubCfg.MaxReconnects = cfg.NATS.MaxReconnects
	}
	if cfg.NATS.ReconnectWait > 0 {
		pubCfg.ReconnectWait = cfg.NATS.ReconnectWait
	}
	pub, err := queue.NewPublisher(pubCfg, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create job publisher")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}()
	pub.SetCircuitBreaker(gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:    "queue-publish",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Publish circuit breaker state changed")
		},
	}))

	subCfg := queue.DefaultSubscriberConfig(natsURL, streamCfg.Name)
	if cfg.NATS.DurableName != "" {
		subCfg.DurableName = cfg.NATS.DurableName
	}
	if cfg.NATS.QueueGroup != "" {
		subCfg.QueueGroup = cfg.NATS.QueueGroup
	}
	if cfg.NATS.AckWait > 0 {
		subCfg.AckWaitTimeout = cfg.NATS.AckWait
	}
	if cfg.NATS.CloseTimeout > 0 {
		subCfg.CloseTimeout = cfg.NATS.CloseTimeout
	}
	sub, err := queue.NewSubscriber(&subCfg, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create job subscriber")
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing subscriber")
		}
	}()

	// === OBJECT STORAGE ===
	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create object store")
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		// The worker fails jobs transiently until storage comes back,
		// so a missing bucket at boot is not fatal.
		logging.Warn().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("Object storage not reachable at startup")
	}

	// === PORTAL ADAPTER ===
	portalClient, err := portal.NewClient(portal.Config{
		BaseURL:      cfg.Portal.BaseURL,
		Username:     cfg.Portal.Username,
		Password:     cfg.Portal.Password,
		Headless:     cfg.Portal.Headless,
		PollInterval: cfg.Portal.PollInterval,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create portal client")
	}
	adapter := portal.NewResilientAdapter(portalClient, portal.ResilienceConfig{
		JobTimeout:         cfg.Portal.JobTimeout,
		SessionsPerMinute:  cfg.Portal.RequestsPerSecond * 60,
		BreakerMaxFailures: cfg.Portal.BreakerMaxFailures,
		BreakerOpenFor:     cfg.Portal.BreakerOpenFor,
	})

	// === STATUS FAN-OUT ===
	// Status updates travel through core NATS so every instance's hub
	// sees them, then the relay bridges them to local clients.
	hub := websocket.NewHub()
	notifier, err := websocket.NewNATSNotifier(nc)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create status notifier")
	}
	relay := websocket.NewStatusRelay(hub, websocket.NewNATSSource(nc))

	// === CORE PIPELINE ===
	ingestor, err := ingest.NewIngestor(db, pub, auditLogger, notifier, cfg.Gateway.WebhookSecret)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create webhook ingestor")
	}

	pool, err := worker.NewPool(worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		MaxAttempts: cfg.Worker.MaxAttempts,
		Backoff:     cfg.Worker.Backoff,
	}, db, pub, sub, adapter, objects, notifier)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create worker pool")
	}

	sweeperCfg := ingest.DefaultSweeperConfig()
	if cfg.Sweeper.Interval > 0 {
		sweeperCfg.Interval = cfg.Sweeper.Interval
	}
	if cfg.Sweeper.EnqueueLag > 0 {
		sweeperCfg.EnqueueLag = cfg.Sweeper.EnqueueLag
	}
	if cfg.Sweeper.ClaimTimeout > 0 {
		sweeperCfg.ClaimTimeout = cfg.Sweeper.ClaimTimeout
	}
	if cfg.Gateway.VoucherTTL > 0 {
		sweeperCfg.VoucherTTL = cfg.Gateway.VoucherTTL
	}
	sweeper := ingest.NewSweeper(sweeperCfg, db, pub, notifier)

	controller, err := recovery.NewController(db, pub, auditLogger, notifier)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create recovery controller")
	}

	// === HTTP SURFACE ===
	router, err := api.NewRouter(api.RouterConfig{
		Processor:        ingestor,
		SignatureAuditor: auditLogger,
		StatusStore:      db,
		Signer:           objects,
		Retry:            controller,
		Hub:              hub,
		Checkers: map[string]api.HealthChecker{
			"database": api.HealthCheckFunc(db.Ping),
			"broker": api.HealthCheckFunc(func(ctx context.Context) error {
				if !nc.IsConnected() {
					return errors.New("nats connection down")
				}
				return nil
			}),
			"storage": api.HealthCheckFunc(objects.Ping),
		},
		Server:          cfg.Server,
		SignatureHeader: cfg.Gateway.SignatureHeader,
		SignedURLTTL:    cfg.Storage.SignedURLTTL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create router")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// === SUPERVISOR TREE ===
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Data layer
	if broker != nil {
		tree.AddDataService(services.NewBrokerService(broker, 10*time.Second))
	}
	tree.AddDataService(services.NewRetentionService(auditLogger))

	// Pipeline layer
	tree.AddPipelineService(services.NewWebSocketHubService(hub))
	tree.AddPipelineService(services.NewRelayService(relay))
	tree.AddPipelineService(services.NewRunnableService("document-workers", pool))
	tree.AddPipelineService(services.NewRunnableService("recovery-sweeper", sweeper))

	// API layer
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
