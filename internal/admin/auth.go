package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

const (
	apiKeyHeader    = "X-API-Key"
	requesterHeader = "X-Requester"
)

// APIKeyMiddleware rejects /api/ requests whose X-API-Key does not match key.
// An empty key disables the check. /healthz is never guarded.
func APIKeyMiddleware(key string, logger *slog.Logger, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	logger = logger.With("component", "auth")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			logger.Warn("rejected request with invalid API key",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", extractClientIP(r),
			)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
