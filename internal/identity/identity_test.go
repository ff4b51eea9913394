package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	var seenCaller string
	h := Middleware("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCaller = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"blank", "   ", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusForbidden},
		{"valid", "s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions/x", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}

	if seenCaller != Fingerprint("s3cret") {
		t.Fatalf("expected caller fingerprint in context, got %q", seenCaller)
	}
}

func TestFingerprintIsStableAndShort(t *testing.T) {
	a, b := Fingerprint("k"), Fingerprint("k")
	if a != b || len(a) != 8 {
		t.Fatalf("unexpected fingerprint %q / %q", a, b)
	}
	if Fingerprint("other") == a {
		t.Fatal("expected different keys to differ")
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := IPFromRequest(req); got != "10.0.0.7" {
		t.Fatalf("unexpected ip %q", got)
	}
	req.RemoteAddr = "weird"
	if got := IPFromRequest(req); got != "weird" {
		t.Fatalf("unexpected ip %q", got)
	}
}
