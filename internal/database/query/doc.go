// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package query provides SQL query building utilities for the database package.
//
// This package reduces code duplication and provides type-safe query construction
// for parameterized SQL WHERE clauses. It ensures consistent parameter handling
// and prevents SQL injection vulnerabilities.
//
// # Overview
//
// The WhereBuilder is the primary component, providing a fluent interface for
// constructing WHERE clauses with properly parameterized queries:
//
//	wb := query.NewWhereBuilder()
//	wb.AddStatuses(permit.StatusPaymentReceived, permit.StatusGenerationFailed)
//	wb.AddOlderThan("updated_at", cutoff)
//	wb.AddPaymentMethod(permit.PaymentMethodCard)
//	whereClause, args := wb.Build()
//	// Result: "status IN (?, ?) AND updated_at < ? AND payment_method = ?"
//
// # Usage Example
//
// Building the stuck-application listing with optional filters:
//
//	func (db *DB) ListStuck(ctx context.Context, filter StuckFilter) ([]*permit.Application, error) {
//	    where, args := query.NewWhereBuilder().
//	        AddStatuses(permit.StatusPaymentReceived, permit.StatusGenerationFailed).
//	        AddOlderThan("updated_at", filter.OlderThan).
//	        AddPaymentMethod(filter.PaymentMethod).
//	        BuildWithPrefix()
//	    ...
//	}
//
// Empty or zero filter values are skipped, so one builder covers both
// the filtered and the unfiltered listing.
//
// # Safety
//
// All values travel as bound parameters; the builder never interpolates
// user input into SQL text. Column names passed to AddOlderThan must be
// compile-time constants from the calling package.
package query
