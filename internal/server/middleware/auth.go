// Package middleware provides HTTP filters for authentication and request logging.
package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	pkglog "RouteLane/pkg/log"

	kratoshttp "github.com/go-kratos/kratos/v2/transport/http"
)

// openPaths are reachable without an API key.
var openPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// Auth returns an HTTP filter that validates the inbound API key against
// the configured key list. The key is read from the Authorization header
// ("Bearer {key}") or, failing that, from X-API-Key. Health and metrics
// endpoints are exempt.
//
// With an empty key list authentication is disabled and every request
// passes; a startup warning is logged instead.
func Auth(keys []string, logger *pkglog.LogHelper) kratoshttp.FilterFunc {
	if len(keys) == 0 {
		logger.Warnw("msg", "no inbound API keys configured, authentication is disabled")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, open := openPaths[r.URL.Path]; open || len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := extractAPIKey(r)
			if apiKey == "" {
				writeAuthError(w, "missing API key")
				return
			}

			if !keyAllowed(apiKey, keys) {
				logger.Auth("Rejected request with invalid API key",
					"api_key_masked", maskAPIKey(apiKey),
					"path", r.URL.Path,
				)
				writeAuthError(w, "invalid API key")
				return
			}

			pkglog.SetMetadata(r.Context(), "api_key_masked", maskAPIKey(apiKey))
			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey reads the client credential from the request.
func extractAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		key := strings.TrimPrefix(authHeader, "Bearer ")
		return strings.TrimSpace(key)
	}
	return r.Header.Get("X-API-Key")
}

// keyAllowed compares the presented key against each configured key in
// constant time.
func keyAllowed(presented string, keys []string) bool {
	allowed := false
	for _, key := range keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			allowed = true
		}
	}
	return allowed
}

// maskAPIKey redacts an API key, showing only the first 8 characters.
// Example: "sk-1234567890abcdef" -> "sk-12345***"
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "***"
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"authentication_error"}}`, msg)
}
