// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package query provides SQL query building utilities for the database package.
// It reduces code duplication and provides type-safe query construction.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/circulapp/circulapp/internal/permit"
)

// WhereBuilder constructs SQL WHERE clauses with parameterized arguments.
// It ensures consistent parameter handling and reduces SQL injection risks.
//
// Example usage:
//
//	wb := query.NewWhereBuilder()
//	wb.AddStatuses(permit.StatusPaymentReceived, permit.StatusGenerationFailed)
//	wb.AddOlderThan("updated_at", cutoff)
//	whereClause, args := wb.Build()
//	// WHERE status IN (?, ?) AND updated_at < ?
type WhereBuilder struct {
	clauses []string
	args    []interface{}
}

// NewWhereBuilder creates an empty WHERE clause builder.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{
		clauses: []string{},
		args:    []interface{}{},
	}
}

// AddClause adds a raw WHERE clause with its arguments.
// This is useful for custom conditions not covered by helper methods.
//
// Parameters:
//   - clause: SQL condition fragment (e.g., "queue_job_id = ?")
//   - args: Arguments to bind to placeholders in the clause
func (wb *WhereBuilder) AddClause(clause string, args ...interface{}) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddStatuses adds an application status filter using an IN clause.
// Generates "status IN (?, ?, ...)" with proper parameterization.
// An empty list is skipped.
func (wb *WhereBuilder) AddStatuses(statuses ...permit.Status) *WhereBuilder {
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			wb.args = append(wb.args, status)
		}
		wb.clauses = append(wb.clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	return wb
}

// AddPaymentMethod adds a payment method filter.
// An empty method is skipped, allowing "all methods" queries.
func (wb *WhereBuilder) AddPaymentMethod(method permit.PaymentMethod) *WhereBuilder {
	if method != "" {
		wb.clauses = append(wb.clauses, "payment_method = ?")
		wb.args = append(wb.args, method)
	}
	return wb
}

// AddOlderThan adds an upper bound on a timestamp column.
// Generates "column < ?". A zero value is skipped.
func (wb *WhereBuilder) AddOlderThan(column string, cutoff time.Time) *WhereBuilder {
	if !cutoff.IsZero() {
		wb.clauses = append(wb.clauses, column+" < ?")
		wb.args = append(wb.args, cutoff)
	}
	return wb
}

// Build constructs the final WHERE clause and returns it with arguments.
// Clauses are joined with "AND". Returns ("1=1", []) if no clauses were added.
//
// Returns:
//   - string: Complete WHERE clause (without "WHERE" keyword)
//   - []interface{}: Arguments to bind to placeholders
//
// Example:
//
//	whereClause, args := wb.Build()
//	query := fmt.Sprintf("SELECT * FROM applications WHERE %s", whereClause)
//	db.Query(query, args...)
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "1=1", []interface{}{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns the WHERE clause with "WHERE " prefix.
// Useful for direct SQL construction without manual prefix addition.
func (wb *WhereBuilder) BuildWithPrefix() (string, []interface{}) {
	whereClause, args := wb.Build()
	return "WHERE " + whereClause, args
}

// Count returns the number of clauses added to the builder.
func (wb *WhereBuilder) Count() int {
	return len(wb.clauses)
}

// IsEmpty returns true if no clauses have been added.
func (wb *WhereBuilder) IsEmpty() bool {
	return len(wb.clauses) == 0
}
