// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package portal

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/metrics"
	"github.com/circulapp/circulapp/internal/permit"
)

// ResilienceConfig bounds portal sessions.
type ResilienceConfig struct {
	// JobTimeout caps one full portal session. Must stay below the
	// queue AckWait or JetStream will redeliver mid-session.
	JobTimeout time.Duration

	// SessionsPerMinute throttles how fast we hit the portal.
	SessionsPerMinute float64

	BreakerMaxFailures uint32
	BreakerOpenFor     time.Duration
}

// DefaultResilienceConfig returns production defaults.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		JobTimeout:         5 * time.Minute,
		SessionsPerMinute:  10,
		BreakerMaxFailures: 5,
		BreakerOpenFor:     2 * time.Minute,
	}
}

// ResilientAdapter wraps an Adapter with a session timeout, a rate
// limiter and a circuit breaker. Breaker rejections and limiter waits
// surface as transient errors so jobs fall into the normal retry path.
type ResilientAdapter struct {
	inner   Adapter
	breaker *gobreaker.CircuitBreaker[*Documents]
	limiter *rate.Limiter
	timeout time.Duration
}

// NewResilientAdapter wraps inner with the configured protections.
func NewResilientAdapter(inner Adapter, cfg ResilienceConfig) *ResilientAdapter {
	settings := gobreaker.Settings{
		Name:    "portal",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		IsSuccessful: func(err error) bool {
			// Permanent errors are the caller's data being wrong, not
			// the portal being down. They must not trip the breaker.
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Portal circuit breaker state changed")
			metrics.SetPortalBreakerOpen(to == gobreaker.StateOpen)
		},
	}

	return &ResilientAdapter{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*Documents](settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.SessionsPerMinute/60.0), 1),
		timeout: cfg.JobTimeout,
	}
}

// Submit runs one protected portal session.
func (r *ResilientAdapter) Submit(ctx context.Context, app *permit.Application) (*Documents, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, NewTransientError("portal rate limiter", err)
	}

	start := time.Now()
	docs, err := r.breaker.Execute(func() (*Documents, error) {
		sessionCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.inner.Submit(sessionCtx, app)
	})

	switch {
	case err == nil:
		metrics.RecordPortalSubmission("success", time.Since(start))
		return docs, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordPortalSubmission("transient_error", time.Since(start))
		return nil, NewTransientError("portal circuit breaker open", err)
	case IsPermanent(err):
		metrics.RecordPortalSubmission("permanent_error", time.Since(start))
		return nil, err
	default:
		metrics.RecordPortalSubmission("transient_error", time.Since(start))
		return nil, Classify(err)
	}
}

// BreakerState returns the breaker state for health reporting.
func (r *ResilientAdapter) BreakerState() string {
	return r.breaker.State().String()
}
