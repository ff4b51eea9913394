// Package middleware provides HTTP middleware for the honeypot API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/scam-honeypot/internal/identity"
)

// CORSOptions configures cross-origin access to the API. Empty method and
// header lists select what the honeypot API accepts.
type CORSOptions struct {
	AllowedOrigins []string // "*" admits any origin
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration // how long browsers may cache a preflight
}

type corsPolicy struct {
	anyOrigin bool
	origins   map[string]struct{}
	methods   string
	headers   string
	maxAge    string
}

func newCORSPolicy(opts CORSOptions) corsPolicy {
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = []string{"Content-Type", http.CanonicalHeaderKey(identity.APIKeyHeader)}
	}

	p := corsPolicy{
		origins: make(map[string]struct{}, len(opts.AllowedOrigins)),
		methods: strings.Join(opts.AllowedMethods, ", "),
		headers: strings.Join(opts.AllowedHeaders, ", "),
	}
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	if opts.MaxAge > 0 {
		p.maxAge = strconv.Itoa(int(opts.MaxAge.Seconds()))
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS returns middleware that admits browser calls from the configured
// origins. Preflight requests are answered here since they never carry the
// API key.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	policy := newCORSPolicy(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			if !policy.allows(origin) {
				if preflight {
					http.Error(w, "origin not allowed", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Origin", origin)

			if !preflight {
				next.ServeHTTP(w, r)
				return
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", policy.methods)
			h.Set("Access-Control-Allow-Headers", policy.headers)
			if policy.maxAge != "" {
				h.Set("Access-Control-Max-Age", policy.maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
