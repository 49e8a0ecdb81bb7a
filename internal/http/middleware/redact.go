package middleware

import (
	"regexp"
	"strings"
)

// Redactor scrubs identifiers that would otherwise leak into access logs:
// UUIDs (feature and notification ids), email addresses and phone numbers.
// Sensitive headers are masked whole.
type Redactor struct {
	mask map[string]struct{}
}

var (
	// UUIDs go first so the looser phone pattern never eats their digit runs.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// NewRedactor masks Authorization, Cookie, Set-Cookie and X-Admin-Token plus
// any extra header names given (case-insensitive).
func NewRedactor(extraHeaders ...string) *Redactor {
	r := &Redactor{mask: map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		strings.ToLower(HeaderAdminToken): {},
	}}
	for _, h := range extraHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.mask[h] = struct{}{}
		}
	}
	return r
}

// String replaces identifiers in s with placeholders.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// Header returns the loggable form of header name's values.
func (r *Redactor) Header(name string, values []string) string {
	if _, ok := r.mask[strings.ToLower(name)]; ok {
		return "[REDACTED]"
	}
	return r.String(strings.Join(values, ", "))
}
