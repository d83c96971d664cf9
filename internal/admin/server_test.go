package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/oracle"
	"github.com/emperorhan/verification-registry/internal/registry"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestServer wires the API to a real in-memory registry with a fixed clock.
func newTestServer(t *testing.T, outcome oracle.Outcome, opts ...ServerOption) (http.Handler, *registry.Registry) {
	t.Helper()
	reg := registry.New(
		registry.WithClock(func() time.Time { return testNow }),
		registry.WithOracle(oracle.Fixed(outcome)),
		registry.WithLogger(testLogger()),
	)
	return NewServer(reg, testLogger(), opts...).Handler(), reg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var verified = oracle.Outcome{Verified: true, Confidence: 0.9}

func createRequest(t *testing.T, h http.Handler, contentID string, content any) model.VerificationRequest {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/requests", map[string]any{
		"content_id":        contentID,
		"content":           content,
		"verification_type": "authenticity",
		"requester":         "cms",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.VerificationRequest](t, rec)
}

// --- Requests ---

func TestRequestVerification_Created(t *testing.T) {
	h, _ := newTestServer(t, verified)

	req := createRequest(t, h, "article-1", "hello world")
	assert.True(t, strings.HasPrefix(req.ID, "vr_"))
	assert.Equal(t, "article-1", req.ContentID)
	assert.Equal(t, model.ContentTypeText, req.ContentType)
	assert.Equal(t, "cms", req.Requester)
	assert.Equal(t, model.NetworkEthereum, req.Network)
	assert.True(t, testNow.Equal(req.Timestamp))
}

func TestRequestVerification_JSONContentIsCompacted(t *testing.T) {
	h, _ := newTestServer(t, verified)

	spaced := `{"content_id":"doc","verification_type":"integrity","content":{ "a" : 1,  "b": [1, 2] }}`
	compact := `{"content_id":"doc","verification_type":"integrity","content":{"a":1,"b":[1,2]}}`

	first := doJSON(t, h, http.MethodPost, "/api/v1/requests", spaced)
	second := doJSON(t, h, http.MethodPost, "/api/v1/requests", compact)
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)

	a := decode[model.VerificationRequest](t, first)
	b := decode[model.VerificationRequest](t, second)
	assert.Equal(t, model.ContentTypeJSON, a.ContentType)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestRequestVerification_BadInput(t *testing.T) {
	h, _ := newTestServer(t, verified)

	tests := []struct {
		name string
		body any
	}{
		{name: "malformed json", body: "{not json"},
		{name: "missing content id", body: map[string]any{"content": "x", "verification_type": "authenticity"}},
		{name: "missing content", body: map[string]any{"content_id": "c", "verification_type": "authenticity"}},
		{name: "unknown type", body: map[string]any{"content_id": "c", "content": "x", "verification_type": "vibes"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/requests", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestVerifyAndStatus(t *testing.T) {
	h, _ := newTestServer(t, verified)
	req := createRequest(t, h, "article-1", "hello")

	status := doJSON(t, h, http.MethodGet, "/api/v1/requests/"+req.ID, nil)
	require.Equal(t, http.StatusOK, status.Code)
	pending := decode[model.VerificationResult](t, status)
	assert.Equal(t, model.StatusPending, pending.Status)
	assert.Empty(t, pending.Evidence)

	verify := doJSON(t, h, http.MethodPost, "/api/v1/requests/"+req.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, verify.Code)
	res := decode[model.VerificationResult](t, verify)
	assert.Equal(t, model.StatusVerified, res.Status)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.True(t, strings.HasPrefix(res.BlockchainTx, "0x"))
	assert.NotEmpty(t, res.Evidence)

	status = doJSON(t, h, http.MethodGet, "/api/v1/requests/"+req.ID, nil)
	assert.Equal(t, model.StatusVerified, decode[model.VerificationResult](t, status).Status)
}

func TestUnknownRequest_NotFound(t *testing.T) {
	h, _ := newTestServer(t, verified)

	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/api/v1/requests/vr_missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodPost, "/api/v1/requests/vr_missing/verify", nil).Code)
}

func TestBatch(t *testing.T) {
	h, _ := newTestServer(t, verified)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/batch", map[string]any{
		"items": []map[string]any{
			{"content_id": "a", "content": "one", "verification_type": "authenticity"},
			{"content_id": "", "content": "bad", "verification_type": "authenticity"},
			{"content_id": "b", "content": map[string]int{"n": 2}, "verification_type": "integrity"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[batchResponse](t, rec)
	assert.Equal(t, 3, resp.Requested)
	assert.Equal(t, 2, resp.Succeeded)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].ContentID)
	assert.Equal(t, "b", resp.Results[1].ContentID)
}

func TestBatch_Limits(t *testing.T) {
	h, _ := newTestServer(t, verified)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/api/v1/batch", map[string]any{"items": []any{}}).Code)

	items := make([]map[string]any, maxBatchItems+1)
	for i := range items {
		items[i] = map[string]any{"content_id": "c", "content": "x", "verification_type": "custom"}
	}
	assert.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/api/v1/batch", map[string]any{"items": items}).Code)
}

func TestHistory(t *testing.T) {
	h, _ := newTestServer(t, verified)

	empty := doJSON(t, h, http.MethodGet, "/api/v1/content/nothing/history", nil)
	require.Equal(t, http.StatusOK, empty.Code)
	assert.JSONEq(t, `[]`, empty.Body.String())

	req := createRequest(t, h, "article-1", "hello")
	doJSON(t, h, http.MethodPost, "/api/v1/requests/"+req.ID+"/verify", nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/content/article-1/history", nil)
	history := decode[[]model.VerificationResult](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, req.ID, history[0].RequestID)
}

// --- Provenance ---

func TestProvenance_AppendAndVerifyChain(t *testing.T) {
	h, _ := newTestServer(t, verified)
	createRequest(t, h, "article-1", "hello")

	add := doJSON(t, h, http.MethodPost, "/api/v1/content/article-1/provenance", map[string]any{
		"action":    "modify",
		"actor":     "editor",
		"data_hash": "abc",
	})
	require.Equal(t, http.StatusCreated, add.Code, add.Body.String())
	rec := decode[model.ProvenanceRecord](t, add)
	assert.True(t, strings.HasPrefix(rec.ID, "pr_"))
	assert.NotEmpty(t, rec.PreviousRecordID)

	get := doJSON(t, h, http.MethodGet, "/api/v1/content/article-1/provenance?verify=true", nil)
	require.Equal(t, http.StatusOK, get.Code)
	resp := decode[provenanceResponse](t, get)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, model.ProvenanceVerify, resp.Records[0].Action)
	assert.Equal(t, resp.Records[0].ID, resp.Records[1].PreviousRecordID)
	require.NotNil(t, resp.ChainValid)
	assert.True(t, *resp.ChainValid)
}

func TestProvenance_BrokenChainReported(t *testing.T) {
	h, _ := newTestServer(t, verified)
	createRequest(t, h, "article-1", "hello")
	doJSON(t, h, http.MethodPost, "/api/v1/content/article-1/provenance", map[string]any{
		"action":             "transfer",
		"actor":              "bob",
		"previous_record_id": "pr_bogus",
	})

	resp := decode[provenanceResponse](t, doJSON(t, h, http.MethodGet, "/api/v1/content/article-1/provenance?verify=1", nil))
	require.NotNil(t, resp.ChainValid)
	assert.False(t, *resp.ChainValid)
	assert.Contains(t, resp.ChainError, "pr_bogus")
}

func TestProvenance_WithoutVerifyOmitsChainFields(t *testing.T) {
	h, _ := newTestServer(t, verified)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/content/none/provenance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content_id":"none","records":[]}`, rec.Body.String())
}

func TestProvenance_InvalidAction(t *testing.T) {
	h, _ := newTestServer(t, verified)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/content/c/provenance", map[string]any{"action": "delete"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Reputation & contracts ---

func TestReputation(t *testing.T) {
	h, _ := newTestServer(t, verified)

	neutral := decode[model.ReputationScore](t, doJSON(t, h, http.MethodGet, "/api/v1/reputation/unknown", nil))
	assert.Equal(t, 50.0, neutral.Score)
	assert.Zero(t, neutral.EvidenceCount)

	req := createRequest(t, h, "article-1", "hello")
	doJSON(t, h, http.MethodPost, "/api/v1/requests/"+req.ID+"/verify", nil)

	score := decode[model.ReputationScore](t, doJSON(t, h, http.MethodGet, "/api/v1/reputation/article-1", nil))
	assert.Equal(t, 51.0, score.Score)
	assert.Equal(t, 1, score.PositiveEvidence)
}

func TestContracts(t *testing.T) {
	h, _ := newTestServer(t, verified)

	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/api/v1/contracts/base", nil).Code)

	put := doJSON(t, h, http.MethodPut, "/api/v1/contracts/base", map[string]any{
		"address": "0x2222222222222222222222222222222222222222",
		"abi":     []string{"function verify(bytes32)"},
		"version": "2.0.0",
	})
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())

	got := decode[model.VerificationSmartContract](t, doJSON(t, h, http.MethodGet, "/api/v1/contracts/base", nil))
	assert.Equal(t, model.NetworkBase, got.Network)
	assert.Equal(t, "2.0.0", got.Version)
	assert.True(t, testNow.Equal(got.DeployedAt))

	missing := doJSON(t, h, http.MethodPut, "/api/v1/contracts/base", map[string]any{"version": "3"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

// --- Stats, report, cleanup ---

func TestStatsAndReport(t *testing.T) {
	h, _ := newTestServer(t, verified)
	a := createRequest(t, h, "article-1", "hello")
	createRequest(t, h, "article-2", "world")
	doJSON(t, h, http.MethodPost, "/api/v1/requests/"+a.ID+"/verify", nil)

	stats := decode[registry.Stats](t, doJSON(t, h, http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, 2, stats.TotalRequests)
	assert.Equal(t, 1, stats.Verified)
	assert.Equal(t, 1, stats.Pending)

	report := decode[registry.Report](t, doJSON(t, h, http.MethodGet, "/api/v1/report?content_id=article-1", nil))
	assert.Equal(t, 1, report.TotalVerifications)
	assert.InDelta(t, 1.0, report.SuccessRate, 1e-9)

	window := "/api/v1/report?start=2026-03-01T11:00:00Z&end=2026-03-01T13:00:00Z"
	rec := doJSON(t, h, http.MethodGet, window, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[registry.Report](t, rec).TotalVerifications)

	outside := "/api/v1/report?start=2026-01-01T00:00:00Z&end=2026-01-02T00:00:00Z"
	assert.Zero(t, decode[registry.Report](t, doJSON(t, h, http.MethodGet, outside, nil)).TotalVerifications)
}

func TestReport_BadTimeframe(t *testing.T) {
	h, _ := newTestServer(t, verified)

	for _, q := range []string{
		"start=2026-03-01T00:00:00Z",
		"start=yesterday&end=2026-03-01T00:00:00Z",
		"start=2026-03-01T00:00:00Z&end=later",
		"start=2026-03-02T00:00:00Z&end=2026-03-01T00:00:00Z",
	} {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/report?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestCleanup(t *testing.T) {
	h, _ := newTestServer(t, verified)
	req := createRequest(t, h, "article-1", "hello")
	doJSON(t, h, http.MethodPost, "/api/v1/requests/"+req.ID+"/verify", nil)

	// default retention keeps fresh data
	kept := decode[registry.CleanupResult](t, doJSON(t, h, http.MethodPost, "/api/v1/cleanup", nil))
	assert.Zero(t, kept.RequestsDeleted)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/cleanup", map[string]any{"max_age_days": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[registry.CleanupResult](t, rec)
	assert.Equal(t, 1, res.RequestsDeleted)
	assert.Equal(t, 1, res.ResultsDeleted)

	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/api/v1/requests/"+req.ID, nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/api/v1/cleanup", map[string]any{"max_age_days": -1}).Code)
}

func TestCleanup_RejectsAgesOutsideDurationRange(t *testing.T) {
	h, _ := newTestServer(t, verified)
	req := createRequest(t, h, "article-1", "hello")

	for _, days := range []float64{maxCleanupAgeDays + 1, 200000, 1e300} {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/cleanup", map[string]any{"max_age_days": days})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "max_age_days=%v", days)
		assert.Contains(t, rec.Body.String(), "at most")
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/cleanup", map[string]any{"max_age_days": maxCleanupAgeDays})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[registry.CleanupResult](t, rec).RequestsDeleted)
	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/api/v1/requests/"+req.ID, nil).Code)
}

// --- Health & errors ---

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, verified,
		WithHealthCheck("store", func(context.Context) error { return nil }),
	)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","dependencies":{"store":"ok"}}`, rec.Body.String())

	degraded, _ := newTestServer(t, verified,
		WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)
	rec = doJSON(t, degraded, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

type failingRegistry struct {
	Registry
}

func (failingRegistry) GetStats(context.Context) (registry.Stats, error) {
	return registry.Stats{}, errors.New("db exploded: secret dsn")
}

func TestInternalErrorsAreHidden(t *testing.T) {
	h := NewServer(failingRegistry{}, testLogger()).Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestServer(t, verified)

	rec := doJSON(t, h, http.MethodDelete, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
