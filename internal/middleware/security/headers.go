package security

import (
	"fmt"
	"net/http"
)

// HeadersConfig selects which security headers are written on every
// response. Zero-valued fields are omitted.
type HeadersConfig struct {
	CSP string

	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	PermissionsPolicy   string
	CrossOriginOpener   string
	CrossOriginResource string

	// CacheControl applies to every response. Balances and summaries
	// are per-user financial data; keep shared caches out of the path.
	CacheControl string
}

// DefaultHeadersConfig returns defaults tuned for a JSON API. The
// restrictive CSP matters for error pages and anything a browser might
// render directly; API clients ignore it.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP: "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",

		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		HSTSPreload:           true,

		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		PermissionsPolicy:   "geolocation=(), microphone=(), camera=(), payment=()",
		CrossOriginOpener:   "same-origin",
		CrossOriginResource: "same-origin",

		CacheControl: "no-store",
	}
}

// HeadersMiddleware writes a fixed set of security headers on every
// response. The set is assembled once at construction.
type HeadersMiddleware struct {
	static [][2]string
	hsts   string
}

// NewHeadersMiddleware precomputes the header set from the config.
func NewHeadersMiddleware(cfg HeadersConfig) *HeadersMiddleware {
	m := &HeadersMiddleware{}
	add := func(name, value string) {
		if value != "" {
			m.static = append(m.static, [2]string{name, value})
		}
	}

	add("X-Content-Type-Options", cfg.XContentTypeOptions)
	add("X-Frame-Options", cfg.XFrameOptions)
	add("Content-Security-Policy", cfg.CSP)
	add("Referrer-Policy", cfg.ReferrerPolicy)
	add("Permissions-Policy", cfg.PermissionsPolicy)
	add("Cross-Origin-Opener-Policy", cfg.CrossOriginOpener)
	add("Cross-Origin-Resource-Policy", cfg.CrossOriginResource)
	add("Cache-Control", cfg.CacheControl)

	if cfg.HSTSMaxAge > 0 {
		m.hsts = fmt.Sprintf("max-age=%d", cfg.HSTSMaxAge)
		if cfg.HSTSIncludeSubdomains {
			m.hsts += "; includeSubDomains"
		}
		if cfg.HSTSPreload {
			m.hsts += "; preload"
		}
	}
	return m
}

// Middleware returns the wrapping handler.
func (m *HeadersMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range m.static {
			h.Set(kv[0], kv[1])
		}
		// HSTS only means anything over TLS.
		if m.hsts != "" && r.TLS != nil {
			h.Set("Strict-Transport-Security", m.hsts)
		}
		next.ServeHTTP(w, r)
	})
}
