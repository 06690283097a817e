// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

/*
Package api is the HTTP surface of the permit service.

Endpoints:

	POST /webhook/{gateway}                        gateway webhook ingestion
	GET  /api/v1/applications/{id}/status          citizen status projection
	POST /api/v1/admin/retry/permit-generation     manual retry batch
	GET  /api/v1/admin/retry/stuck-applications    stuck application listing
	GET  /api/v1/admin/retry/failed-jobs           failed-job lane listing
	GET  /ws/status                                live status updates
	GET  /health/live                              process liveness
	GET  /health/ready                             dependency readiness
	GET  /metrics                                  Prometheus metrics

Response contract: every JSON endpoint wraps its payload in APIResponse
with a request ID for tracing. The webhook endpoint's status codes are
a protocol with the gateway: 200 means never redeliver, 503 means
redeliver later, 401 means the signature failed.

The citizen status projection is deliberately coarse. It exposes the
status name, a three-valued state (processing, ready, failed), the
attempt count, an error classification tag, and signed document URLs
once completed. Gateway payloads and portal error text never leave the
admin surface.

The router is built on chi with go-chi/cors for CORS and go-chi/httprate
for per-IP rate limiting. Request bodies are size-capped before parsing.
*/
package api
