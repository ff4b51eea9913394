// Package identity authenticates API callers with a shared key.
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "x-api-key"

type contextKey int

const callerKey contextKey = iota

// CallerFromContext returns the fingerprint of the key that authenticated the
// request, or "" for unauthenticated requests.
func CallerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey).(string); ok {
		return v
	}
	return ""
}

// Authenticate checks the request's API key against expected.
func Authenticate(r *http.Request, expected string) error {
	got := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if got == "" {
		return domain.ErrAuthMissing
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return domain.ErrAuthInvalid
	}
	return nil
}

// Fingerprint returns a short, non-reversible label for a key.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// Middleware rejects requests without a valid API key: 401 when the header is
// missing, 403 when it does not match.
func Middleware(apiKey string) func(http.Handler) http.Handler {
	caller := Fingerprint(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch err := Authenticate(r, apiKey); err {
			case nil:
			case domain.ErrAuthMissing:
				http.Error(w, `{"error":"api key missing"}`, http.StatusUnauthorized)
				return
			default:
				http.Error(w, `{"error":"api key invalid"}`, http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
