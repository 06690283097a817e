// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package api

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker reports readiness of one dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to the HealthChecker interface.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// healthCheckTimeout bounds each dependency probe so a hung dependency
// cannot hang the readiness endpoint.
const healthCheckTimeout = 5 * time.Second

// ComponentHealth is the status of one dependency.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the aggregate health report.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// handleLive reports process liveness. It never checks dependencies:
// a live process with a down dependency should be kept running, not
// restarted.
//
// GET /health/live
func (rt *Router) handleLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

// handleReady reports whether the service can do useful work. The
// event store is the only hard dependency: without it webhooks cannot
// be recorded and the gateway must hold deliveries. Broker and object
// storage degrade the service but the sweeper recovers once they
// return, so they are reported without failing readiness.
//
// GET /health/ready
func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]ComponentHealth, len(rt.checkers))
	ready := true
	for name, checker := range rt.checkers {
		if err := checker.Ping(ctx); err != nil {
			components[name] = ComponentHealth{Status: "down", Error: err.Error()}
			if name == "database" {
				ready = false
			}
			continue
		}
		components[name] = ComponentHealth{Status: "ok"}
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: components,
		Timestamp:  time.Now().UTC(),
	}

	rw := NewResponseWriter(w, r)
	if !ready {
		resp.Status = "unavailable"
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "service not ready", resp)
		return
	}
	rw.Success(resp)
}
