// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/circulapp/circulapp/internal/database"
	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/permit"
	"github.com/circulapp/circulapp/internal/recovery"
)

// maxAdminBody bounds admin request payloads.
const maxAdminBody = 64 * 1024

// RetryController is the administrative recovery surface.
type RetryController interface {
	RetryBatch(ctx context.Context, req recovery.RetryRequest) ([]recovery.RetryResult, error)
	ListStuck(ctx context.Context, q recovery.StuckQuery) ([]*permit.Application, error)
	ListFailedJobs(ctx context.Context, limit, offset int) ([]*database.FailedJob, error)
}

// handleRetryGeneration re-drives document generation for a batch of
// applications.
//
// POST /api/v1/admin/retry/permit-generation
func (rt *Router) handleRetryGeneration(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req recovery.RetryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAdminBody)).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}

	if err := rt.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fe.Field()+" failed "+fe.Tag())
			}
			rw.ValidationError("invalid retry request", details)
			return
		}
		rw.BadRequest("invalid retry request")
		return
	}

	results, err := rt.retry.RetryBatch(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, recovery.ErrEmptyBatch),
			errors.Is(err, recovery.ErrBatchTooLarge),
			errors.Is(err, recovery.ErrActorRequired):
			rw.BadRequest(err.Error())
		default:
			logging.Ctx(r.Context()).Error().Err(err).Msg("retry batch failed")
			rw.InternalError("retry batch failed")
		}
		return
	}

	accepted := 0
	for _, res := range results {
		if res.Outcome != recovery.RetryRejected {
			accepted++
		}
	}

	rw.Success(map[string]interface{}{
		"results":  results,
		"accepted": accepted,
		"rejected": len(results) - accepted,
	})
}

// StuckApplication is the operator-facing view of a stuck application.
// Unlike the citizen projection it exposes the queue error verbatim.
type StuckApplication struct {
	ApplicationID    int64     `json:"application_id"`
	Status           string    `json:"status"`
	PaymentMethod    string    `json:"payment_method,omitempty"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	QueueStatus      string    `json:"queue_status,omitempty"`
	QueueJobID       string    `json:"queue_job_id,omitempty"`
	Attempts         int       `json:"attempts"`
	QueueError       string    `json:"queue_error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// handleListStuck lists applications sitting in a non-terminal status
// past the age threshold.
//
// GET /api/v1/admin/retry/stuck-applications?age_threshold=30m&payment_method=card&limit=50&offset=0
func (rt *Router) handleListStuck(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	q := recovery.StuckQuery{}

	if raw := r.URL.Query().Get("age_threshold"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			rw.BadRequest("invalid age_threshold, expected a duration like 30m")
			return
		}
		q.AgeThreshold = d
	}

	if raw := r.URL.Query().Get("payment_method"); raw != "" {
		method := permit.PaymentMethod(raw)
		if method != permit.PaymentMethodCard && method != permit.PaymentMethodVoucher {
			rw.BadRequest("invalid payment_method, expected card or cash_voucher")
			return
		}
		q.PaymentMethod = method
	}

	var err error
	if q.Limit, err = parseIntParam(r, "limit", 0); err != nil {
		rw.BadRequest("invalid limit")
		return
	}
	if q.Offset, err = parseIntParam(r, "offset", 0); err != nil {
		rw.BadRequest("invalid offset")
		return
	}

	apps, err := rt.retry.ListStuck(r.Context(), q)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("stuck application listing failed")
		rw.InternalError("failed to list stuck applications")
		return
	}

	out := make([]StuckApplication, 0, len(apps))
	for _, app := range apps {
		out = append(out, StuckApplication{
			ApplicationID:    app.ID,
			Status:           string(app.Status),
			PaymentMethod:    string(app.PaymentMethod),
			PaymentReference: app.PaymentReference,
			QueueStatus:      string(app.QueueStatus),
			QueueJobID:       app.QueueJobID,
			Attempts:         app.QueueAttempts,
			QueueError:       app.QueueError,
			UpdatedAt:        app.UpdatedAt,
		})
	}

	rw.SuccessWithPagination(out, &PaginationMeta{
		Count:   len(out),
		Offset:  q.Offset,
		Limit:   q.Limit,
		HasMore: q.Limit > 0 && len(out) == q.Limit,
	})
}

// handleListFailedJobs exposes the failed-job lane for inspection.
//
// GET /api/v1/admin/retry/failed-jobs?limit=50&offset=0
func (rt *Router) handleListFailedJobs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		rw.BadRequest("invalid limit")
		return
	}
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		rw.BadRequest("invalid offset")
		return
	}

	jobs, err := rt.retry.ListFailedJobs(r.Context(), limit, offset)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed job listing failed")
		rw.InternalError("failed to list failed jobs")
		return
	}

	rw.SuccessWithPagination(jobs, &PaginationMeta{
		Count:   len(jobs),
		Offset:  offset,
		Limit:   limit,
		HasMore: limit > 0 && len(jobs) == limit,
	})
}

// parseIntParam parses a non-negative integer query parameter.
func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}
