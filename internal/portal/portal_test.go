// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package portal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/circulapp/circulapp/internal/permit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{"nil passthrough", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"maintenance page", errors.New("portal returned 503 maintenance"), true},
		{"rejected data", errors.New("submission rechazada: datos incorrectos"), false},
		{"selector miss", errors.New("chromedp: node not found for #vin"), false},
		{"unknown defaults transient", errors.New("something odd happened"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("Classify(nil) = %v", got)
				}
				return
			}
			if IsTransient(got) != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v (err %v)", IsTransient(got), tt.wantTransient, got)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error does not wrap the original")
			}
		})
	}
}

func TestClassifyPreservesTypedErrors(t *testing.T) {
	perm := NewPermanentError("already classified", nil)
	if got := Classify(fmt.Errorf("wrapped: %w", perm)); !IsPermanent(got) {
		t.Error("wrapped permanent error reclassified")
	}
}

func TestDocumentsValidate(t *testing.T) {
	full := &Documents{
		Permit:          []byte("p"),
		Certificate:     []byte("c"),
		Plates:          []byte("l"),
		Recommendations: []byte("r"),
	}
	if err := full.Validate(); err != nil {
		t.Errorf("complete documents rejected: %v", err)
	}

	missing := &Documents{Permit: []byte("p")}
	err := missing.Validate()
	if err == nil {
		t.Fatal("incomplete documents accepted")
	}
	if !IsPermanent(err) {
		t.Errorf("missing document should be permanent, got %v", err)
	}
}

func TestValidateApplication(t *testing.T) {
	app := &permit.Application{
		ID:      1,
		Vehicle: permit.VehicleData{VIN: "X", OwnerName: "Y"},
	}
	if err := ValidateApplication(app); err != nil {
		t.Errorf("valid application rejected: %v", err)
	}

	app.Vehicle.VIN = ""
	if err := ValidateApplication(app); !IsPermanent(err) {
		t.Errorf("missing VIN should be permanent, got %v", err)
	}
}

// fakeAdapter scripts Submit outcomes for resilience tests.
type fakeAdapter struct {
	calls int
	fn    func(call int) (*Documents, error)
}

func (f *fakeAdapter) Submit(ctx context.Context, app *permit.Application) (*Documents, error) {
	f.calls++
	return f.fn(f.calls)
}

func testApp() *permit.Application {
	return &permit.Application{
		ID:      1,
		Vehicle: permit.VehicleData{VIN: "VIN1", OwnerName: "Owner"},
	}
}

func fastResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		JobTimeout:         time.Second,
		SessionsPerMinute:  60000, // effectively unthrottled for tests
		BreakerMaxFailures: 2,
		BreakerOpenFor:     time.Minute,
	}
}

func TestResilientAdapter_BreakerOpensOnTransientFailures(t *testing.T) {
	inner := &fakeAdapter{fn: func(int) (*Documents, error) {
		return nil, NewTransientError("portal down", nil)
	}}
	r := NewResilientAdapter(inner, fastResilienceConfig())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := r.Submit(ctx, testApp()); !IsTransient(err) {
			t.Fatalf("call %d: expected transient, got %v", i, err)
		}
	}

	// Breaker is open now: the inner adapter must not be called again.
	callsBefore := inner.calls
	_, err := r.Submit(ctx, testApp())
	if !IsTransient(err) {
		t.Fatalf("open breaker should yield transient error, got %v", err)
	}
	if inner.calls != callsBefore {
		t.Error("inner adapter called while breaker open")
	}
	if r.BreakerState() != "open" {
		t.Errorf("breaker state = %q, want open", r.BreakerState())
	}
}

func TestResilientAdapter_PermanentErrorsDoNotTrip(t *testing.T) {
	inner := &fakeAdapter{fn: func(int) (*Documents, error) {
		return nil, NewPermanentError("rejected", nil)
	}}
	r := NewResilientAdapter(inner, fastResilienceConfig())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := r.Submit(ctx, testApp()); !IsPermanent(err) {
			t.Fatalf("call %d: expected permanent, got %v", i, err)
		}
	}
	if r.BreakerState() != "closed" {
		t.Errorf("breaker state = %q, want closed after permanent errors", r.BreakerState())
	}
}

func TestResilientAdapter_Success(t *testing.T) {
	want := &Documents{
		Permit:          []byte("p"),
		Certificate:     []byte("c"),
		Plates:          []byte("l"),
		Recommendations: []byte("r"),
	}
	inner := &fakeAdapter{fn: func(int) (*Documents, error) { return want, nil }}
	r := NewResilientAdapter(inner, fastResilienceConfig())

	got, err := r.Submit(context.Background(), testApp())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != want {
		t.Error("documents not passed through")
	}
}
