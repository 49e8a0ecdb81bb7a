package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// exposedHeaders are the response headers browser clients of the board need
// to read across origins.
var exposedHeaders = []string{requestIDHeader, HeaderIdempotencyReplayed, "Retry-After", "ETag"}

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // only when traffic is HTTPS end to end
	HSTSMaxAge   time.Duration // defaults to 180 days
	NoStore      bool          // Cache-Control: no-store unless the handler overrides it
	EnablePolicy bool          // Permissions-Policy and X-Permitted-Cross-Domain-Policies
}

// SecurityHeaders sets hardening headers before the handler runs, so handlers
// that emit validators (ETag) can still replace Cache-Control.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	if opt.HSTSMaxAge <= 0 {
		opt.HSTSMaxAge = 180 * 24 * time.Hour
	}
	hsts := "max-age=" + strconv.Itoa(int(opt.HSTSMaxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		h.Set("Access-Control-Expose-Headers", mergeHeaderList(h.Get("Access-Control-Expose-Headers"), exposedHeaders))

		c.Next()
	}
}

// mergeHeaderList appends the names in add missing from the comma-separated
// list cur, comparing case-insensitively.
func mergeHeaderList(cur string, add []string) string {
	have := map[string]struct{}{}
	var out []string
	for _, p := range strings.Split(cur, ",") {
		if p = strings.TrimSpace(p); p != "" {
			have[strings.ToLower(p)] = struct{}{}
			out = append(out, p)
		}
	}
	for _, a := range add {
		if _, ok := have[strings.ToLower(a)]; !ok {
			have[strings.ToLower(a)] = struct{}{}
			out = append(out, a)
		}
	}
	return strings.Join(out, ", ")
}

// isHTTPS reports whether r arrived over TLS, directly or behind a proxy that
// set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
