// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

// Package portal drives the government circulation-permit portal
// through a headless browser to generate the four permit documents.
//
// The portal has no API, so submission is browser automation: log in,
// fill the vehicle form, then capture each issued document as PDF.
// Failures are classified at this boundary into transient errors
// (worth retrying: timeouts, connection resets, portal maintenance
// pages) and permanent errors (retry cannot help: rejected data,
// front-end changes that break selectors). The worker layer keys its
// retry decision entirely off that classification.
//
// A resilience wrapper adds per-session timeouts, request rate
// limiting and a circuit breaker so a down portal sheds load quickly
// instead of tying up workers.
package portal
