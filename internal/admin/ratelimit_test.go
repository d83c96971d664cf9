package admin

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func newTestRateLimiter(t *testing.T) *RateLimitMiddleware {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	rl := NewRateLimitMiddleware(logger, rate.Limit(1), 5)
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsNormalRequests(t *testing.T) {
	rl := newTestRateLimiter(t)

	called := false
	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_BlocksExcessiveRequests(t *testing.T) {
	rl := newTestRateLimiter(t)
	handler := rl.Wrap(okHandler())

	// cleanup: burst of 1
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cleanup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/api/v1/cleanup", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
	assert.NotEmpty(t, rec2.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_DefaultBurstFromArgs(t *testing.T) {
	rl := newTestRateLimiter(t)
	handler := rl.Wrap(okHandler())

	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
		codes = append(codes, rec.Code)
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, codes[i], "request %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, codes[5])
}

func TestRateLimitMiddleware_DifferentEndpointsIndependent(t *testing.T) {
	rl := newTestRateLimiter(t)
	handler := rl.Wrap(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/cleanup", nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/batch", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_PerClientIP(t *testing.T) {
	rl := newTestRateLimiter(t)
	handler := rl.Wrap(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/api/v1/cleanup", nil)
	first.Header.Set("X-Forwarded-For", "10.0.0.1, 192.168.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), first)

	other := httptest.NewRequest(http.MethodPost, "/api/v1/cleanup", nil)
	other.Header.Set("X-Real-IP", "10.0.0.2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, rl.LimiterCount())
}

func TestRateLimitMiddleware_EvictStale(t *testing.T) {
	rl := newTestRateLimiter(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.nowFunc = func() time.Time { return now }

	rl.Wrap(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, 1, rl.LimiterCount())

	now = now.Add(staleLimiterTTL + time.Second)
	rl.evictStale()
	assert.Equal(t, 0, rl.LimiterCount())
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded list", headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, remote: "9.9.9.9:1", want: "1.1.1.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 3.3.3.3 "}, remote: "9.9.9.9:1", want: "3.3.3.3"},
		{name: "remote addr", remote: "4.4.4.4:5678", want: "4.4.4.4"},
		{name: "remote without port", remote: "5.5.5.5", want: "5.5.5.5"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, extractClientIP(r))
		})
	}
}

func TestRateLimitMiddleware_RuleFor(t *testing.T) {
	rl := newTestRateLimiter(t)

	tests := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/api/v1/cleanup", "cleanup"},
		{http.MethodPost, "/api/v1/batch", "batch"},
		{http.MethodPut, "/api/v1/contracts/base", "contracts"},
		{http.MethodGet, "/api/v1/contracts/base", "default"},
		{http.MethodGet, "/api/v1/cleanup", "default"},
		{http.MethodGet, "/healthz", "default"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, rl.rules[rl.ruleFor(tc.method, tc.path)].name, tc.method+" "+tc.path)
	}
}
