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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/circulapp/circulapp/internal/config"
	"github.com/circulapp/circulapp/internal/database"
	"github.com/circulapp/circulapp/internal/ingest"
	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/permit"
	"github.com/circulapp/circulapp/internal/recovery"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// fakeProcessor scripts webhook verification and processing.
type fakeProcessor struct {
	validSignature string
	outcome        ingest.Outcome

	gotGateway string
	gotBody    []byte
}

func (p *fakeProcessor) VerifySignature(body []byte, signature string) bool {
	return signature == p.validSignature
}

func (p *fakeProcessor) Process(ctx context.Context, gateway string, body []byte) ingest.Outcome {
	p.gotGateway = gateway
	p.gotBody = body
	return p.outcome
}

// fakeSignatureAuditor records signature failures.
type fakeSignatureAuditor struct {
	failures []string
}

func (a *fakeSignatureAuditor) LogSignatureFailure(ctx context.Context, gateway, remoteAddr string) {
	a.failures = append(a.failures, gateway)
}

// fakeStatusStore holds applications by ID.
type fakeStatusStore struct {
	apps map[int64]*permit.Application
	err  error
}

func (s *fakeStatusStore) GetApplication(ctx context.Context, id int64) (*permit.Application, error) {
	if s.err != nil {
		return nil, s.err
	}
	app, ok := s.apps[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return app, nil
}

// fakeSigner mints predictable URLs.
type fakeSigner struct {
	err error
}

func (s *fakeSigner) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://storage.example/" + key + "?signed=1", nil
}

// fakeRetry scripts the recovery controller.
type fakeRetry struct {
	results []recovery.RetryResult
	err     error
	stuck   []*permit.Application
	jobs    []*database.FailedJob

	gotRequest recovery.RetryRequest
	gotQuery   recovery.StuckQuery
}

func (f *fakeRetry) RetryBatch(ctx context.Context, req recovery.RetryRequest) ([]recovery.RetryResult, error) {
	f.gotRequest = req
	return f.results, f.err
}

func (f *fakeRetry) ListStuck(ctx context.Context, q recovery.StuckQuery) ([]*permit.Application, error) {
	f.gotQuery = q
	return f.stuck, f.err
}

func (f *fakeRetry) ListFailedJobs(ctx context.Context, limit, offset int) ([]*database.FailedJob, error) {
	return f.jobs, f.err
}

type testDeps struct {
	processor *fakeProcessor
	auditor   *fakeSignatureAuditor
	store     *fakeStatusStore
	signer    *fakeSigner
	retry     *fakeRetry
}

func newTestRouter(t *testing.T, mutate func(*testDeps)) (*Router, *testDeps) {
	t.Helper()

	deps := &testDeps{
		processor: &fakeProcessor{validSignature: "good", outcome: ingest.OutcomeApplied},
		auditor:   &fakeSignatureAuditor{},
		store:     &fakeStatusStore{apps: map[int64]*permit.Application{}},
		signer:    &fakeSigner{},
		retry:     &fakeRetry{},
	}
	if mutate != nil {
		mutate(deps)
	}

	rt, err := NewRouter(RouterConfig{
		Processor:        deps.processor,
		SignatureAuditor: deps.auditor,
		StatusStore:      deps.store,
		Signer:           deps.signer,
		Retry:            deps.retry,
		Checkers: map[string]HealthChecker{
			"database": HealthCheckFunc(func(ctx context.Context) error { return nil }),
		},
		Server: config.ServerConfig{
			CORSOrigins: []string{"https://app.example"},
		},
		SignatureHeader: "X-Webhook-Signature",
		SignedURLTTL:    time.Minute,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return rt, deps
}

func doRequest(rt *Router, method, path, signature string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func TestNewRouter_RequiresDependencies(t *testing.T) {
	_, err := NewRouter(RouterConfig{})
	if err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestWebhook_Applied(t *testing.T) {
	rt, deps := newTestRouter(t, nil)

	rec := doRequest(rt, http.MethodPost, "/webhook/conekta", "good", `{"type":"charge.paid"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("expected success response")
	}
	data := resp.Data.(map[string]interface{})
	if data["outcome"] != "applied" {
		t.Errorf("outcome = %v", data["outcome"])
	}
	if deps.processor.gotGateway != "conekta" {
		t.Errorf("gateway = %q", deps.processor.gotGateway)
	}
	if string(deps.processor.gotBody) != `{"type":"charge.paid"}` {
		t.Errorf("body = %q", deps.processor.gotBody)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	rt, deps := newTestRouter(t, nil)

	rec := doRequest(rt, http.MethodPost, "/webhook/conekta", "forged", `{"type":"charge.paid"}`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if deps.processor.gotBody != nil {
		t.Error("body must not be processed on signature failure")
	}
	if len(deps.auditor.failures) != 1 || deps.auditor.failures[0] != "conekta" {
		t.Errorf("signature failure not audited: %v", deps.auditor.failures)
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	rec := doRequest(rt, http.MethodPost, "/webhook/conekta", "", `{"type":"charge.paid"}`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhook_StoreDown(t *testing.T) {
	rt, _ := newTestRouter(t, func(d *testDeps) {
		d.processor.outcome = ingest.OutcomeStoreDown
	})

	rec := doRequest(rt, http.MethodPost, "/webhook/conekta", "good", `{"type":"charge.paid"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 so the gateway redelivers", rec.Code)
	}
}

func TestWebhook_AnomalyStillAccepted(t *testing.T) {
	rt, _ := newTestRouter(t, func(d *testDeps) {
		d.processor.outcome = ingest.OutcomeAnomaly
	})

	rec := doRequest(rt, http.MethodPost, "/webhook/conekta", "good", `{"type":"charge.paid"}`)

	// Anomalies are recorded server-side; redelivery would not help.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatus_Processing(t *testing.T) {
	rt, _ := newTestRouter(t, func(d *testDeps) {
		d.store.apps[10] = &permit.Application{
			ID:            10,
			Status:        permit.StatusGeneratingPermit,
			QueueStatus:   permit.QueueStatusRunning,
			QueueAttempts: 1,
			UpdatedAt:     time.Now(),
		}
	})

	rec := doRequest(rt, http.MethodGet, "/api/v1/applications/10/status", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["status"] != "GENERATING_PERMIT" {
		t.Errorf("status = %v", data["status"])
	}
	if data["state"] != "processing" {
		t.Errorf("state = %v", data["state"])
	}
	if _, present := data["documents"]; present {
		t.Error("documents must be absent before completion")
	}
	if _, present := data["error_kind"]; present {
		t.Error("error_kind must be absent while processing")
	}
}

func TestStatus_CompletedCarriesSignedURLs(t *testing.T) {
	rt, _ := newTestRouter(t, func(d *testDeps) {
		d.store.apps[11] = &permit.Application{
			ID:     11,
			Status: permit.StatusCompleted,
			Documents: permit.DocumentKeys{
				Permit:          "applications/11/permit.pdf",
				Certificate:     "applications/11/certificate.pdf",
				Plates:          "applications/11/plates.pdf",
				Recommendations: "applications/11/recommendations.pdf",
			},
			UpdatedAt: time.Now(),
		}
	})

	rec := doRequest(rt, http.MethodGet, "/api/v1/applications/11/status", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["state"] != "ready" {
		t.Errorf("state = %v", data["state"])
	}
	docs, ok := data["documents"].(map[string]interface{})
	if !ok {
		t.Fatalf("documents missing: %v", data)
	}
	permitURL, _ := docs["permit"].(string)
	if !strings.Contains(permitURL, "applications/11/permit.pdf") {
		t.Errorf("permit URL = %q", permitURL)
	}
	if !strings.Contains(permitURL, "signed=1") {
		t.Errorf("permit URL not signed: %q", permitURL)
	}
}

func TestStatus_FailedExposesClassificationOnly(t *testing.T) {
	rt, _ := newTestRouter(t, func(d *testDeps) {
		d.store.apps[12] = &permit.Application{
			ID:          12,
			Status:      permit.StatusGenerationFailed,
			QueueStatus: permit.QueueStatusFailed,
			QueueError:  "permanent: portal rejected VIN check digit",
			UpdatedAt:   time.Now(),
		}
	})

	rec := doRequest(rt, http.MethodGet, "/api/v1/applications/12/status", "", "")

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["state"] != "failed" {
		t.Errorf("state = %v", data["state"])
	}
	if data["error_kind"] != "permanent" {
		t.Errorf("error_kind = %v", data["error_kind"])
	}
	if strings.Contains(rec.Body.String(), "VIN") {
		t.Error("raw error message leaked to citizen projection")
	}
}

func TestStatus_SigningFailureStillReportsCompleted(t *testing.T) {
	rt, _ := newTestRouter(t, func(d *testDeps) {
		d.signer.err = errors.New("storage unreachable")
		d.store.apps[13] = &permit.Application{
			ID:     13,
			Status: permit.StatusCompleted,
			Documents: permit.DocumentKeys{
				Permit: "a", Certificate: "b", Plates: "c", Recommendations: "d",
			},
			UpdatedAt: time.Now(),
		}
	})

	rec := doRequest(rt, http.MethodGet, "/api/v1/applications/13/status", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["state"] != "ready" {
		t.Errorf("state = %v", data["state"])
	}
	if _, present := data["documents"]; present {
		t.Error("documents must be omitted when signing fails")
	}
}

func TestStatus_NotFound(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	rec := doRequest(rt, http.MethodGet, "/api/v1/applications/999/status", "", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatus_InvalidID(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	for _, path := range []string{
		"/api/v1/applications/abc/status",
		"/api/v1/applications/-1/status",
		"/api/v1/applications/0/status",
	} {
		rec := doRequest(rt, http.MethodGet, path, "", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestHealth_Live(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	rec := doRequest(rt, http.MethodGet, "/health/live", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth_ReadyReportsComponents(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	rec := doRequest(rt, http.MethodGet, "/health/ready", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "database") {
		t.Error("components missing from readiness report")
	}
}

func TestHealth_DatabaseDownFailsReadiness(t *testing.T) {
	deps := &testDeps{
		processor: &fakeProcessor{validSignature: "good"},
		store:     &fakeStatusStore{},
		signer:    &fakeSigner{},
		retry:     &fakeRetry{},
	}

	rt, err := NewRouter(RouterConfig{
		Processor:   deps.processor,
		StatusStore: deps.store,
		Signer:      deps.signer,
		Retry:       deps.retry,
		Checkers: map[string]HealthChecker{
			"database": HealthCheckFunc(func(ctx context.Context) error { return errors.New("locked") }),
			"broker":   HealthCheckFunc(func(ctx context.Context) error { return nil }),
		},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	rec := doRequest(rt, http.MethodGet, "/health/ready", "", "")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealth_BrokerDownDoesNotFailReadiness(t *testing.T) {
	deps := &testDeps{
		processor: &fakeProcessor{validSignature: "good"},
		store:     &fakeStatusStore{},
		signer:    &fakeSigner{},
		retry:     &fakeRetry{},
	}

	rt, err := NewRouter(RouterConfig{
		Processor:   deps.processor,
		StatusStore: deps.store,
		Signer:      deps.signer,
		Retry:       deps.retry,
		Checkers: map[string]HealthChecker{
			"database": HealthCheckFunc(func(ctx context.Context) error { return nil }),
			"broker":   HealthCheckFunc(func(ctx context.Context) error { return errors.New("down") }),
		},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	rec := doRequest(rt, http.MethodGet, "/health/ready", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; a broker outage degrades but does not fail readiness", rec.Code)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	rec := doRequest(rt, http.MethodGet, "/api/v1/nope", "", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRouter_RequestIDHeader(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	rec := doRequest(rt, http.MethodGet, "/health/live", "", "")

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	rec := doRequest(rt, http.MethodGet, "/health/live", "", "")

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("X-Content-Type-Options missing")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("X-Frame-Options missing")
	}
}
