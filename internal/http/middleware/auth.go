// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's identity. With a JWT secret configured,
// requests must carry "Authorization: Bearer <HS256 token>" whose user_id (or
// sub) claim names the user. Without a secret the X-User-ID header is trusted,
// which is meant for local development and tests only.
package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// userIDKey is the Gin context key holding the authenticated user id.
	userIDKey = "userID"
	// HeaderUserID carries the user id when no JWT secret is configured.
	HeaderUserID = "X-User-ID"
	// HeaderAdminToken authorizes operator endpoints.
	HeaderAdminToken = "X-Admin-Token"
)

// Claims are the JWT claims the API understands.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// subject returns user_id, falling back to sub.
func (c *Claims) subject() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// Secret is the HS256 signing key. Empty enables header identity.
	Secret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

var errNoIdentity = errors.New("missing identity")

// Authenticate stores the caller's user id in the context or rejects the
// request with 401.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(opts.Issuer))
	}
	parser := jwt.NewParser(popts...)
	key := []byte(opts.Secret)

	return func(c *gin.Context) {
		var (
			uid string
			err error
		)
		if opts.Secret == "" {
			uid = strings.TrimSpace(c.GetHeader(HeaderUserID))
			if uid == "" {
				err = errNoIdentity
			}
		} else {
			uid, err = bearerSubject(c.GetHeader("Authorization"), parser, key)
		}
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="feature-board"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "authentication required",
			})
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

func bearerSubject(header string, parser *jwt.Parser, key []byte) (string, error) {
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(raw) == "" {
		return "", errNoIdentity
	}
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil || !tok.Valid {
		return "", errNoIdentity
	}
	uid := claims.subject()
	if uid == "" {
		return "", errNoIdentity
	}
	return uid, nil
}

// IssueToken signs an HS256 token for userID valid for ttl. It serves tests
// and operator tooling; production tokens come from the identity provider.
func IssueToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// UserID returns the authenticated user id, or "" outside Authenticate.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// AdminOnly guards operator endpoints with a shared token. An empty token
// disables the endpoints entirely.
func AdminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderAdminToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "forbidden",
				"message":    "admin token required",
			})
			return
		}
		c.Next()
	}
}
