// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/circulapp/circulapp/internal/config"
	"github.com/circulapp/circulapp/internal/websocket"
)

// RouterConfig carries the dependencies of the HTTP surface.
type RouterConfig struct {
	// Processor ingests gateway webhook deliveries. Required.
	Processor WebhookProcessor

	// SignatureAuditor records rejected deliveries. Optional.
	SignatureAuditor SignatureAuditor

	// StatusStore serves the citizen status projection. Required.
	StatusStore StatusStore

	// Signer mints document download URLs. Required.
	Signer DocumentSigner

	// Retry is the administrative recovery controller. Required.
	Retry RetryController

	// Hub serves live status updates. Optional; without it the
	// websocket endpoint reports unavailable.
	Hub *websocket.Hub

	// Checkers are the readiness probes, keyed by component name.
	// The "database" component gates readiness.
	Checkers map[string]HealthChecker

	// Server carries CORS, rate limit and timeout settings.
	Server config.ServerConfig

	// SignatureHeader is the request header carrying the gateway HMAC.
	SignatureHeader string

	// SignedURLTTL bounds document link validity.
	SignedURLTTL time.Duration
}

// Router is the HTTP surface: gateway webhooks, the citizen status
// projection, administrative recovery, health and live updates.
type Router struct {
	processor        WebhookProcessor
	signatureAuditor SignatureAuditor
	statusStore      StatusStore
	signer           DocumentSigner
	retry            RetryController
	hub              *websocket.Hub
	checkers         map[string]HealthChecker

	signatureHeader string
	signedURLTTL    time.Duration
	wsOrigins       []string

	validate *validator.Validate
	handler  http.Handler
}

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Processor == nil || cfg.StatusStore == nil || cfg.Signer == nil || cfg.Retry == nil {
		return nil, fmt.Errorf("router requires processor, status store, signer and retry controller")
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Webhook-Signature"
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}

	rt := &Router{
		processor:        cfg.Processor,
		signatureAuditor: cfg.SignatureAuditor,
		statusStore:      cfg.StatusStore,
		signer:           cfg.Signer,
		retry:            cfg.Retry,
		hub:              cfg.Hub,
		checkers:         cfg.Checkers,
		signatureHeader:  cfg.SignatureHeader,
		signedURLTTL:     cfg.SignedURLTTL,
		wsOrigins:        cfg.Server.CORSOrigins,
		validate:         validator.New(),
	}

	mw := NewMiddleware(&MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization"},
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Server.RateLimitReqs,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
		RateLimitDisabled:  cfg.Server.RateLimitReqs <= 0,
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.Recoverer)
	r.Use(SecurityHeaders())
	r.Use(Metrics())
	if cfg.Server.Timeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.Server.Timeout))
	}

	// Health and metrics sit outside CORS: they are probed by
	// infrastructure, not browsers.
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimitHealth())
		r.Get("/health/live", rt.handleLive)
		r.Get("/health/ready", rt.handleReady)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The gateway webhook carries its own authentication (the HMAC
	// signature); CORS does not apply to server-to-server calls.
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimitWebhook())
		r.Post("/webhook/{gateway}", rt.handleWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.CORS())
		r.Use(mw.RateLimit())

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/applications/{id}/status", rt.handleApplicationStatus)

			r.Route("/admin/retry", func(r chi.Router) {
				r.Post("/permit-generation", rt.handleRetryGeneration)
				r.Get("/stuck-applications", rt.handleListStuck)
				r.Get("/failed-jobs", rt.handleListFailedJobs)
			})
		})
	})

	r.Get("/ws/status", rt.handleStatusSocket)

	rt.handler = r
	return rt, nil
}

// Handler returns the root http.Handler.
func (rt *Router) Handler() http.Handler {
	return rt.handler
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}
