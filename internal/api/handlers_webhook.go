// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/circulapp/circulapp/internal/ingest"
	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/metrics"
)

// maxWebhookBody bounds gateway payload size. Conekta events are a few
// KB; anything larger is not a legitimate webhook.
const maxWebhookBody = 256 * 1024

// WebhookProcessor verifies and applies one gateway delivery.
type WebhookProcessor interface {
	VerifySignature(body []byte, signature string) bool
	Process(ctx context.Context, gateway string, body []byte) ingest.Outcome
}

// SignatureAuditor records rejected webhook deliveries.
type SignatureAuditor interface {
	LogSignatureFailure(ctx context.Context, gateway, remoteAddr string)
}

// handleWebhook ingests one payment-gateway webhook delivery.
//
// POST /webhook/{gateway}
//
// The response tells the gateway whether to redeliver: 200 means the
// event is accounted for (applied, duplicate, no-op, ignored, or
// recorded as an anomaly) and must not be retried; 503 means the event
// store was unreachable and the gateway should redeliver later. 401
// means the signature did not verify and the body was never parsed.
func (rt *Router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		NewResponseWriter(w, r).BadRequest("failed to read request body")
		return
	}
	if len(body) > maxWebhookBody {
		NewResponseWriter(w, r).BadRequest("payload too large")
		return
	}

	signature := r.Header.Get(rt.signatureHeader)
	if !rt.processor.VerifySignature(body, signature) {
		metrics.RecordSignatureFailure(gateway)
		if rt.signatureAuditor != nil {
			rt.signatureAuditor.LogSignatureFailure(r.Context(), gateway, r.RemoteAddr)
		}
		logging.Ctx(r.Context()).Warn().
			Str("gateway", gateway).
			Str("remote_addr", r.RemoteAddr).
			Msg("webhook signature verification failed")
		NewResponseWriter(w, r).Unauthorized("invalid signature")
		return
	}

	outcome := rt.processor.Process(r.Context(), gateway, body)
	if outcome == ingest.OutcomeStoreDown {
		NewResponseWriter(w, r).ServiceUnavailable("event store unavailable, please retry")
		return
	}

	NewResponseWriter(w, r).Success(map[string]string{
		"outcome": string(outcome),
	})
}
