// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package portal

import (
	"context"
	"fmt"

	"github.com/circulapp/circulapp/internal/permit"
)

// Documents holds the four PDFs issued by the portal for one
// application. All four must be present for a submission to count as
// successful.
type Documents struct {
	Permit          []byte
	Certificate     []byte
	Plates          []byte
	Recommendations []byte
}

// Validate checks that every document was captured.
func (d *Documents) Validate() error {
	if len(d.Permit) == 0 {
		return NewPermanentError("portal returned empty permit document", nil)
	}
	if len(d.Certificate) == 0 {
		return NewPermanentError("portal returned empty certificate document", nil)
	}
	if len(d.Plates) == 0 {
		return NewPermanentError("portal returned empty plates document", nil)
	}
	if len(d.Recommendations) == 0 {
		return NewPermanentError("portal returned empty recommendations document", nil)
	}
	return nil
}

// Adapter submits an application to the government portal and returns
// the issued documents. Errors are classified with the package taxonomy.
type Adapter interface {
	Submit(ctx context.Context, app *permit.Application) (*Documents, error)
}

// ValidateApplication checks an application carries the vehicle data
// the portal form requires. Returns a permanent error on missing
// fields, retrying cannot supply them.
func ValidateApplication(app *permit.Application) error {
	if app.Vehicle.VIN == "" {
		return NewPermanentError(fmt.Sprintf("application %d has no VIN", app.ID), nil)
	}
	if app.Vehicle.OwnerName == "" {
		return NewPermanentError(fmt.Sprintf("application %d has no owner name", app.ID), nil)
	}
	return nil
}
