// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for unsafe requests. The key is
// validated and stashed in the context; when a lookup finds a completed
// request with the same (user, scope, key), the stored event id is stashed
// too so the handler can answer with the original result instead of acting
// again, and the rate limiter lets the replay through without spending a
// token. The scope is the target resource id taken from a route parameter,
// so the same key may be reused against different features.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set on responses served from a stored result.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemEvent  = "idem.event" // uint64: event id of the original request
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// ReplayedEvent returns the event id recorded for this key by an earlier
// request, if any.
func ReplayedEvent(c *gin.Context) (uint64, bool) {
	id, ok := c.Value(ctxKeyIdemEvent).(uint64)
	return id, ok && id != 0
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts the key alphabet; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// ScopeParam names the route parameter used as scope; "" means "id".
	ScopeParam string
	// Routes, when set, limits the check to these registered route paths
	// (c.FullPath()). Keys sent to other routes are ignored.
	Routes []string
}

// IdempotencyLookup returns the event id stored for (userID, scope, key) and
// whether a still-valid record exists. Expiry is the lookup's concern.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (eventID uint64, found bool, err error)

// IdempotencyValidator validates Idempotency-Key on unsafe methods and marks
// replays. Invalid keys are rejected with 400; lookup errors are ignored so
// that a storage hiccup degrades to normal processing.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	param := opts.ScopeParam
	if param == "" {
		param = "id"
	}
	var routes map[string]struct{}
	if len(opts.Routes) > 0 {
		routes = make(map[string]struct{}, len(opts.Routes))
		for _, r := range opts.Routes {
			routes[r] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if routes != nil {
			if _, ok := routes[c.FullPath()]; !ok {
				c.Next()
				return
			}
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if id, found, err := lookup(c.Request.Context(), UserID(c), c.Param(param), key, time.Now().UTC()); err == nil && found {
				c.Set(ctxKeyIdemEvent, id)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
