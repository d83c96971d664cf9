package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/emperorhan/verification-registry/internal/metrics"
)

const (
	// staleLimiterTTL is how long a per-IP limiter can be idle before cleanup.
	staleLimiterTTL = 10 * time.Minute

	// cleanupInterval is how often the background goroutine sweeps stale entries.
	cleanupInterval = 1 * time.Minute
)

// endpointRule limits requests whose method and path prefix match. An empty
// method or prefix matches anything.
type endpointRule struct {
	name   string
	method string
	prefix string
	rps    rate.Limit
	burst  int
}

func (r endpointRule) matches(method, path string) bool {
	if r.method != "" && !strings.EqualFold(r.method, method) {
		return false
	}
	return r.prefix == "" || strings.HasPrefix(path, r.prefix)
}

type limiterKey struct {
	rule     int
	clientIP string
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies token buckets per endpoint rule and client IP.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[limiterKey]*limiterEntry
	rules    []endpointRule // last rule is the catch-all
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimitMiddleware creates a rate limiting middleware. Cleanup, batch and
// contract writes get fixed tighter limits; everything else uses
// defaultRPS/defaultBurst. Call Stop to end the background sweep.
func NewRateLimitMiddleware(logger *slog.Logger, defaultRPS rate.Limit, defaultBurst int) *RateLimitMiddleware {
	if defaultBurst <= 0 {
		defaultBurst = 1
	}
	rl := &RateLimitMiddleware{
		limiters: make(map[limiterKey]*limiterEntry),
		logger:   logger.With("component", "ratelimit"),
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
		rules: []endpointRule{
			{name: "cleanup", method: http.MethodPost, prefix: "/api/v1/cleanup", rps: rate.Limit(1.0 / 60), burst: 1},
			{name: "batch", method: http.MethodPost, prefix: "/api/v1/batch", rps: rate.Limit(10.0 / 60), burst: 3},
			{name: "contracts", method: http.MethodPut, prefix: "/api/v1/contracts", rps: rate.Limit(10.0 / 60), burst: 3},
			{name: "default", rps: defaultRPS, burst: defaultBurst},
		},
	}

	go rl.cleanupLoop()
	return rl
}

// Stop shuts down the background cleanup goroutine. Safe to call multiple times.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// LimiterCount returns the number of live per-IP limiters.
func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Wrap rejects requests over their rule's budget with 429.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		rule := rl.ruleFor(r.Method, r.URL.Path)

		if !rl.limiter(limiterKey{rule: rule, clientIP: clientIP}).Allow() {
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			metrics.APIRateLimited.Inc()
			rl.logger.Warn("registry API rate limit exceeded",
				"rule", rl.rules[rule].name,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ruleFor returns the index of the first matching rule.
func (rl *RateLimitMiddleware) ruleFor(method, path string) int {
	for i, rule := range rl.rules {
		if rule.matches(method, path) {
			return i
		}
	}
	return len(rl.rules) - 1
}

func (rl *RateLimitMiddleware) limiter(key limiterKey) *rate.Limiter {
	now := rl.nowFunc()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	rule := rl.rules[key.rule]
	entry := &limiterEntry{limiter: rate.NewLimiter(rule.rps, rule.burst), lastSeen: now}
	rl.limiters[key] = entry
	return entry.limiter
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
