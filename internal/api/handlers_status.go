// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/circulapp/circulapp/internal/database"
	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/permit"
)

// StatusStore looks up applications for the status projection.
type StatusStore interface {
	GetApplication(ctx context.Context, id int64) (*permit.Application, error)
}

// DocumentSigner mints time-limited download URLs for stored documents.
type DocumentSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// StatusResponse is the coarse, user-facing status projection. It never
// carries gateway payloads, portal internals, or raw error messages;
// failures surface as a classification tag only.
type StatusResponse struct {
	ApplicationID int64  `json:"application_id"`
	Status        string `json:"status"`
	State         string `json:"state"`

	QueueStatus string `json:"queue_status,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`

	// ErrorKind is "transient" or "permanent" when generation has
	// failed, empty otherwise.
	ErrorKind string `json:"error_kind,omitempty"`

	Documents *DocumentURLs `json:"documents,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentURLs are signed download links, present only when the
// application is COMPLETED.
type DocumentURLs struct {
	Permit          string `json:"permit"`
	Certificate     string `json:"certificate"`
	Plates          string `json:"plates"`
	Recommendations string `json:"recommendations"`
}

// handleApplicationStatus serves the citizen-facing status projection.
//
// GET /api/v1/applications/{id}/status
func (rt *Router) handleApplicationStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		rw.BadRequest("invalid application ID")
		return
	}

	app, err := rt.statusStore.GetApplication(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			rw.NotFound("application not found")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Int64("application_id", id).Msg("status lookup failed")
		rw.InternalError("failed to load application")
		return
	}

	resp := StatusResponse{
		ApplicationID: app.ID,
		Status:        string(app.Status),
		State:         string(app.Status.Coarse()),
		QueueStatus:   string(app.QueueStatus),
		Attempts:      app.QueueAttempts,
		ErrorKind:     app.ErrorKind(),
		UpdatedAt:     app.UpdatedAt,
	}

	if app.Status == permit.StatusCompleted && app.Documents.Complete() {
		urls, err := rt.signDocuments(r.Context(), app.Documents)
		if err != nil {
			// The documents exist; a signing hiccup should not hide the
			// completed status.
			logging.Ctx(r.Context()).Error().Err(err).Int64("application_id", id).Msg("failed to sign document URLs")
		} else {
			resp.Documents = urls
		}
	}

	rw.Success(resp)
}

func (rt *Router) signDocuments(ctx context.Context, keys permit.DocumentKeys) (*DocumentURLs, error) {
	urls := &DocumentURLs{}
	for _, doc := range []struct {
		key string
		dst *string
	}{
		{keys.Permit, &urls.Permit},
		{keys.Certificate, &urls.Certificate},
		{keys.Plates, &urls.Plates},
		{keys.Recommendations, &urls.Recommendations},
	} {
		u, err := rt.signer.SignedURL(ctx, doc.key, rt.signedURLTTL)
		if err != nil {
			return nil, err
		}
		*doc.dst = u
	}
	return urls, nil
}
