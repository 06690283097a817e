// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package audit provides an operational audit trail for compliance and
// forensic analysis.
//
// It records webhook anomalies (unknown applications, invalid state
// transitions, signature failures), operator recovery actions (manual
// retries and forced overrides), and other administrative actions.
//
// # Overview
//
// The audit system provides:
//   - Structured event logging with typed event categories
//   - DuckDB persistence for durable audit trail storage
//   - Asynchronous buffered writes for minimal latency impact
//   - Automatic retention policy enforcement with configurable cleanup
//   - Flexible querying with multi-dimensional filters
//
// # Event Types
//
// Webhook events:
//   - webhook.anomaly: deliveries that could not be applied
//   - webhook.signature_failure: deliveries with a bad HMAC signature
//
// Recovery events:
//   - retry.manual: operator re-enqueued a failed application
//   - retry.forced_override: operator re-drove an application outside
//     GENERATION_FAILED
//
// Administrative events:
//   - admin.action: any other operator action
//
// # Usage
//
//	store := audit.NewDuckDBStore(db.Conn())
//	if err := store.CreateTable(ctx); err != nil {
//		return err
//	}
//	logger := audit.NewLogger(store, audit.DefaultConfig())
//	defer logger.Close()
//
//	logger.LogManualRetry(ctx, applicationID, actor, jobID, priorError)
//
// Writes are buffered and asynchronous; Close drains the buffer. The
// anomaly payload is preserved verbatim so an event rejected by the
// state machine can be replayed by hand after the underlying bug is
// fixed.
package audit
