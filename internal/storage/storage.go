// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package storage persists generated permit documents in S3-compatible
// object storage. The database keeps only object keys, never document
// bytes, and download links are short-lived presigned URLs.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/circulapp/circulapp/internal/permit"
	"github.com/circulapp/circulapp/internal/portal"
)

// ObjectStore stores document blobs and issues presigned download URLs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// DocumentKeys returns the object keys for one application's document
// set. Keys embed the job ID so a retried generation never overwrites
// a half-written predecessor in place.
func DocumentKeys(applicationID int64, jobID string) permit.DocumentKeys {
	prefix := fmt.Sprintf("applications/%d/%s", applicationID, jobID)
	return permit.DocumentKeys{
		Permit:          prefix + "/permiso.pdf",
		Certificate:     prefix + "/certificado.pdf",
		Plates:          prefix + "/placas.pdf",
		Recommendations: prefix + "/recomendaciones.pdf",
	}
}

// StoreDocuments uploads a complete document set and returns its keys.
// Uploads are sequential; if one fails the job retries and writes under
// a fresh prefix, so partial sets never become visible.
func StoreDocuments(ctx context.Context, store ObjectStore, applicationID int64, jobID string, docs *portal.Documents) (permit.DocumentKeys, error) {
	keys := DocumentKeys(applicationID, jobID)

	uploads := []struct {
		key  string
		data []byte
	}{
		{keys.Permit, docs.Permit},
		{keys.Certificate, docs.Certificate},
		{keys.Plates, docs.Plates},
		{keys.Recommendations, docs.Recommendations},
	}

	for _, u := range uploads {
		if err := store.Put(ctx, u.key, u.data, "application/pdf"); err != nil {
			return permit.DocumentKeys{}, fmt.Errorf("store %s: %w", u.key, err)
		}
	}

	return keys, nil
}
