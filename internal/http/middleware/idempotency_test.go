package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func withUser(uid string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(userIDKey, uid)
		c.Next()
	}
}

func TestIdempotencyValidator_NoHeaderOrSafeMethodSkipsLookup(t *testing.T) {
	called := false
	lookup := func(context.Context, string, string, string, time.Time) (uint64, bool, error) {
		called = true
		return 0, false, nil
	}
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.GET("/features/:id", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("key stashed on GET")
		}
		c.Status(http.StatusNoContent)
	})
	r.POST("/features/:id/comments", func(c *gin.Context) { c.Status(http.StatusCreated) })

	req := httptest.NewRequest(http.MethodGet, "/features/f1", nil)
	req.Header.Set(HeaderIdempotencyKey, "k1")
	serve(r, req)
	serve(r, httptest.NewRequest(http.MethodPost, "/features/f1/comments", nil))

	if called {
		t.Fatalf("lookup called without an applicable key")
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"default alphabet", IdempotencyOptions{}, "has space"},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
	}
	for _, tc := range cases {
		r := gin.New()
		r.Use(IdempotencyValidator(tc.opts, nil))
		r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(HeaderIdempotencyKey, tc.key)
		w := serve(r, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d; want 400", tc.name, w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["code"] != "bad_idempotency_key" {
			t.Fatalf("%s: body = %s", tc.name, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_LookupUsesUserScopeAndKey(t *testing.T) {
	var gotUser, gotScope, gotKey string
	stored := map[string]uint64{"u1/f1/k1": 42}
	lookup := func(_ context.Context, uid, scope, key string, _ time.Time) (uint64, bool, error) {
		gotUser, gotScope, gotKey = uid, scope, key
		id, ok := stored[uid+"/"+scope+"/"+key]
		return id, ok, nil
	}

	r := gin.New()
	r.Use(withUser("u1"), IdempotencyValidator(IdempotencyOptions{}, lookup))
	var replayed uint64
	var bypass bool
	r.POST("/features/:id/comments", func(c *gin.Context) {
		replayed, _ = ReplayedEvent(c)
		bypass = IsRateBypass(c)
		c.Status(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/features/f1/comments", nil)
	req.Header.Set(HeaderIdempotencyKey, "k1")
	serve(r, req)
	if gotUser != "u1" || gotScope != "f1" || gotKey != "k1" {
		t.Fatalf("lookup args = %q %q %q", gotUser, gotScope, gotKey)
	}
	if replayed != 42 || !bypass {
		t.Fatalf("replayed=%d bypass=%v; want 42 true", replayed, bypass)
	}

	// Same key on another feature is a different scope.
	req = httptest.NewRequest(http.MethodPost, "/features/f2/comments", nil)
	req.Header.Set(HeaderIdempotencyKey, "k1")
	serve(r, req)
	if replayed != 0 || bypass {
		t.Fatalf("other scope replayed=%d bypass=%v", replayed, bypass)
	}
}

func TestIdempotencyValidator_LookupErrorProceeds(t *testing.T) {
	lookup := func(context.Context, string, string, string, time.Time) (uint64, bool, error) {
		return 7, true, errors.New("db locked")
	}
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/features/:id/comments", func(c *gin.Context) {
		if _, ok := ReplayedEvent(c); ok {
			t.Fatalf("replay marked despite lookup error")
		}
		if key, _ := GetIdempotencyKey(c); key != "k-9" {
			t.Fatalf("key = %q", key)
		}
		c.Status(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/features/f1/comments", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-9")
	if w := serve(r, req); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestIdempotencyValidator_RoutesLimitTheCheck(t *testing.T) {
	var scopes []string
	lookup := func(_ context.Context, _, scope, _ string, _ time.Time) (uint64, bool, error) {
		scopes = append(scopes, scope)
		return 9, true, nil
	}
	r := gin.New()
	r.Use(withUser("u1"), IdempotencyValidator(IdempotencyOptions{Routes: []string{"/features/:id/comments"}}, lookup))

	var replayed []bool
	record := func(c *gin.Context) {
		_, ok := ReplayedEvent(c)
		replayed = append(replayed, ok)
		c.Status(http.StatusOK)
	}
	r.POST("/features/:id/comments", record)
	r.PUT("/features/:id/status", record)

	for _, p := range []struct{ method, path string }{
		{http.MethodPost, "/features/f1/comments"},
		{http.MethodPut, "/features/f1/status"},
	} {
		req := httptest.NewRequest(p.method, p.path, nil)
		req.Header.Set(HeaderIdempotencyKey, "k1")
		serve(r, req)
	}

	if len(scopes) != 1 || scopes[0] != "f1" {
		t.Fatalf("lookups = %v, want one for f1", scopes)
	}
	if len(replayed) != 2 || !replayed[0] || replayed[1] {
		t.Fatalf("replayed = %v, want [true false]", replayed)
	}
}
