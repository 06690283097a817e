// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package recovery implements the administrative retry path. Operators
// re-drive failed applications in audited batches, with an explicit
// force flag for overriding applications outside GENERATION_FAILED, and
// inspect the stuck-application and failed-job backlogs.
package recovery
