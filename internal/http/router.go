// Package httpapi assembles the Gin engine: global middleware, operational
// endpoints and the versioned API group.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-feature-board/docs"
	"github.com/tbourn/go-feature-board/internal/config"
	"github.com/tbourn/go-feature-board/internal/http/handlers"
	"github.com/tbourn/go-feature-board/internal/http/middleware"
)

const maxBodyBytes = 1 << 20

var (
	corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID", "If-None-Match",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
	}
)

// RegisterRoutes installs middleware and routes on r. lookup resolves
// Idempotency-Key replays for the comment endpoint.
func RegisterRoutes(r *gin.Engine, h *handlers.Handlers, lookup middleware.IdempotencyLookup, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	streamPath := joinPath(cfg.APIBasePath, handlers.StreamPath)

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		Redactor: middleware.NewRedactor(),
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics(middleware.MetricsOptions{Streaming: []string{streamPath}}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// compressing the event stream would buffer frames
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{streamPath, "/metrics"})))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	admin := api.Group("/admin", middleware.AdminOnly(cfg.AdminToken))

	user := api.Group("",
		middleware.Authenticate(middleware.AuthOptions{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}),
		// before the limiter, so replays skip it
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{
			MaxLen: 200,
			Routes: []string{joinPath(cfg.APIBasePath, handlers.CommentsPath)},
		}, lookup),
		rl.Handler(),
	)
	h.Mount(user, admin)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     corsMethods,
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", middleware.HeaderIdempotencyReplayed},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
