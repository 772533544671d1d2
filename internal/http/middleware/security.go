package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests. Enable
	// only when traffic is HTTPS end to end.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days.
	HSTSMaxAge time.Duration
	// NoStorePrefixes marks responses under these path prefixes as
	// uncacheable. Assignment, session and mobile-link responses carry phone
	// numbers and session IDs.
	NoStorePrefixes []string
	// TrustForwardedProto treats X-Forwarded-Proto: https as HTTPS.
	TrustForwardedProto bool
}

// The API only serves JSON, plain text, XML for the provider, and redirects,
// so nothing may be framed, embedded or scripted.
var staticSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
}

// SecurityHeaders sets hardening headers on every response, no-store cache
// headers under NoStorePrefixes, and HSTS on HTTPS requests when enabled.
// The Swagger UI route is left without a CSP so it can load its assets.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		path := c.Request.URL.Path
		for _, kv := range staticSecurityHeaders {
			if kv[0] == "Content-Security-Policy" && strings.HasPrefix(path, "/swagger/") {
				continue
			}
			h.Set(kv[0], kv[1])
		}

		if hasAnyPrefix(path, opt.NoStorePrefixes) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
		}

		if opt.EnableHSTS && isHTTPS(c.Request, opt.TrustForwardedProto) {
			h.Set("Strict-Transport-Security", hsts)
		}

		c.Next()
	}
}

func isHTTPS(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	return trustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
