package httpapi

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-feature-board/internal/cache"
	"github.com/tbourn/go-feature-board/internal/config"
	"github.com/tbourn/go-feature-board/internal/http/handlers"
	"github.com/tbourn/go-feature-board/internal/http/middleware"
	"github.com/tbourn/go-feature-board/internal/live"
	"github.com/tbourn/go-feature-board/internal/repo"
	"github.com/tbourn/go-feature-board/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		AdminToken:  "ops",
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newEngine(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	db := newTestDB(t)
	hub := live.NewHub(4)
	t.Cleanup(hub.Close)

	events := services.NewEventStore(db)
	fan := services.NewFanout(db, hub)
	stats := cache.NewMemory(cache.FromDB(db), 0)
	idem := services.NewIdempotency(db)
	h := handlers.New(handlers.Deps{
		Board:         services.NewBoardService(db, events, fan, stats),
		Notifications: &services.NotificationService{DB: db, Fanout: fan},
		Stats:         stats,
		Idempotency:   idem,
		Live:          hub,
		Digest:        nil,
	}, handlers.Options{KeepAlive: time.Hour})

	r := gin.New()
	RegisterRoutes(r, h, idem.Lookup, cfg)
	return r
}

func send(r http.Handler, method, path string, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return er.Code
}

func TestRegisterRoutes_OperationalEndpoints(t *testing.T) {
	r := newEngine(t, testConfig())

	w := send(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://any.test"})
	if w.Code != http.StatusOK || w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("GET /health = %d, headers %v", w.Code, w.Header())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-all CORS expected '*', got %q", got)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}

	w = send(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("metrics body missing http collectors")
	}

	w = send(r, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != handlers.ErrCodeNotFound {
		t.Fatalf("NoRoute = %d %s", w.Code, w.Body.String())
	}
	w = send(r, http.MethodPatch, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed || errorCode(t, w) != handlers.ErrCodeMethodNotAllowed {
		t.Fatalf("NoMethod = %d %s", w.Code, w.Body.String())
	}

	if w := send(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger served while disabled: %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerDoc(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	cfg.APIBasePath = "/board"
	r := newEngine(t, cfg)

	w := send(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
	var doc struct {
		BasePath string                     `json:"basePath"`
		Info     struct{ Title string }     `json:"info"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("doc.json is not JSON: %v", err)
	}
	if doc.BasePath != "/board" || doc.Info.Title != "Feature Board API" {
		t.Fatalf("doc header = %q %q", doc.BasePath, doc.Info.Title)
	}
	if _, ok := doc.Paths["/notifications/stream"]; !ok {
		t.Fatalf("stream path missing from doc")
	}
}

func TestRegisterRoutes_GzipSkipsStream(t *testing.T) {
	r := newEngine(t, testConfig())

	w := send(r, http.MethodGet, "/api/v1/notifications/unread-count", "", map[string]string{
		middleware.HeaderUserID: "bob",
		"Accept-Encoding":       "gzip",
	})
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("unread-count = %d, encoding %q", w.Code, w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, _ := io.ReadAll(zr)
	if !bytes.Contains(raw, []byte(`"unread_count":0`)) {
		t.Fatalf("body = %s", raw)
	}
}

func TestRegisterRoutes_APIRequiresIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "s3cret"
	cfg.JWTIssuer = "board"
	r := newEngine(t, cfg)

	w := send(r, http.MethodPost, "/api/v1/projects", `{"name":"Web"}`, nil)
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != handlers.ErrCodeUnauthorized {
		t.Fatalf("anonymous = %d %s", w.Code, w.Body.String())
	}
	// header identity is only trusted without a secret
	w = send(r, http.MethodPost, "/api/v1/projects", `{"name":"Web"}`, map[string]string{middleware.HeaderUserID: "bob"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("header identity accepted with JWT configured: %d", w.Code)
	}

	tok, err := middleware.IssueToken(cfg.JWTSecret, cfg.JWTIssuer, "bob", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	w = send(r, http.MethodPost, "/api/v1/projects", `{"name":"Web"}`, map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusCreated {
		t.Fatalf("authorized = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_AdminToken(t *testing.T) {
	r := newEngine(t, testConfig())

	w := send(r, http.MethodGet, "/api/v1/admin/digest-failures", "", nil)
	if w.Code != http.StatusForbidden || errorCode(t, w) != handlers.ErrCodeForbidden {
		t.Fatalf("no token = %d %s", w.Code, w.Body.String())
	}
	// digest is disabled in this engine, so a valid token reaches the handler
	w = send(r, http.MethodGet, "/api/v1/admin/digest-failures", "", map[string]string{middleware.HeaderAdminToken: "ops"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("with token = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_RateLimitAndReplayBypass(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.01
	cfg.RateBurst = 3
	r := newEngine(t, cfg)
	alice := map[string]string{middleware.HeaderUserID: "alice"}

	w := send(r, http.MethodPost, "/api/v1/projects", `{"name":"Web"}`, alice)
	var p struct{ ID string }
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil || w.Code != http.StatusCreated {
		t.Fatalf("create project = %d %s", w.Code, w.Body.String())
	}
	w = send(r, http.MethodPost, "/api/v1/projects/"+p.ID+"/features", `{"title":"Dark mode"}`, alice)
	var fr handlers.FeatureResponse
	if err := json.Unmarshal(w.Body.Bytes(), &fr); err != nil || w.Code != http.StatusCreated {
		t.Fatalf("create feature = %d %s", w.Code, w.Body.String())
	}

	keyed := map[string]string{middleware.HeaderUserID: "alice", middleware.HeaderIdempotencyKey: "c-1"}
	path := "/api/v1/features/" + fr.Feature.ID + "/comments"
	if w := send(r, http.MethodPost, path, `{"body":"hi"}`, keyed); w.Code != http.StatusCreated {
		t.Fatalf("comment = %d %s", w.Code, w.Body.String())
	}

	// bucket is empty now
	w = send(r, http.MethodGet, "/api/v1/notifications", "", alice)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("over limit = %d", w.Code)
	}
	w = send(r, http.MethodPost, path, `{"body":"hi"}`, keyed)
	if w.Code != http.StatusOK || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay = %d %s", w.Code, w.Body.String())
	}
	// other users keep their own bucket
	if w := send(r, http.MethodGet, "/api/v1/notifications", "", map[string]string{middleware.HeaderUserID: "bob"}); w.Code != http.StatusOK {
		t.Fatalf("bob = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r := newEngine(t, cfg)

	w := send(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://example.com"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); w.Code != http.StatusOK || got != "http://example.com" {
		t.Fatalf("allowed origin = %d %q", w.Code, got)
	}
	w = send(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.test"})
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin echoed")
	}
}

func TestLimitBody(t *testing.T) {
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})
	if w := send(r, http.MethodPost, "/echo", "0123456789AB", nil); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body = %d", w.Code)
	}
	if w := send(r, http.MethodPost, "/echo", "short", nil); w.Code != http.StatusOK {
		t.Fatalf("small body = %d", w.Code)
	}
}

func TestGroupWithPrefixAndJoinPath(t *testing.T) {
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.Status(http.StatusOK) })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	for _, p := range []string{"/one", "/api/ping"} {
		if w := send(r, http.MethodGet, p, "", nil); w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", p, w.Code)
		}
	}
	if joinPath("/", "/x") != "/x" || joinPath("/api/v1", "/x") != "/api/v1/x" {
		t.Fatalf("joinPath")
	}
}
