// Command server runs the feature board API together with the digest
// trigger and worker pool.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/cache"
	"github.com/tbourn/go-feature-board/internal/config"
	"github.com/tbourn/go-feature-board/internal/digest"
	httpapi "github.com/tbourn/go-feature-board/internal/http"
	"github.com/tbourn/go-feature-board/internal/http/handlers"
	"github.com/tbourn/go-feature-board/internal/live"
	"github.com/tbourn/go-feature-board/internal/mail"
	"github.com/tbourn/go-feature-board/internal/observability"
	"github.com/tbourn/go-feature-board/internal/repo"
	"github.com/tbourn/go-feature-board/internal/services"
	"github.com/tbourn/go-feature-board/internal/sysutil"
)

// set with -ldflags "-X main.version=..."
var version string

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	logCloser := sysutil.SetupLogging(cfg)
	defer logCloser.Close()

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("server stopped")
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	stats, closeStats, err := newStatsCache(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStats()

	hub := live.NewHub(cfg.PushBuffer)
	events := services.NewEventStore(db)
	fan := services.NewFanout(db, hub)
	board := services.NewBoardService(db, events, fan, stats)
	idem := services.NewIdempotency(db)
	idem.TTL = cfg.IdempotencyTTL
	scheduler := digest.NewScheduler(db)

	h := handlers.New(handlers.Deps{
		Board:         board,
		Notifications: &services.NotificationService{DB: db, Fanout: fan},
		Stats:         stats,
		Idempotency:   idem,
		Live:          hub,
		Digest:        scheduler,
	}, handlers.Options{KeepAlive: cfg.StreamKeepAlive, DigestInterval: cfg.Digest.Interval})

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, h, idem.Lookup, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := fan.Flush(sctx); err != nil {
			log.Warn().Err(err).Msg("unread pushes still queued at shutdown")
		}
		// open streams only end once their handles are released
		hub.Close()
		return srv.Shutdown(sctx)
	})

	if cfg.Digest.Enabled {
		worker := digest.NewWorker(db, events, newMailer(cfg), cfg.Digest)
		trigger := digest.NewTrigger(scheduler, cfg.Digest.Interval)
		g.Go(func() error { return trigger.Run(gctx) })
		g.Go(func() error { return worker.Run(gctx) })
		log.Info().
			Dur("interval", cfg.Digest.Interval).
			Int("workers", cfg.Digest.Workers).
			Msg("digest scheduling enabled")
	}

	return g.Wait()
}

// newStatsCache picks Redis when an address is configured and the
// in-process cache otherwise.
func newStatsCache(ctx context.Context, cfg config.Config, db *gorm.DB) (cache.Stats, func(), error) {
	load := cache.FromDB(db)
	if cfg.Redis.Addr == "" {
		return cache.NewMemory(load, cfg.StatsTTL), func() {}, nil
	}
	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("stats cache on redis")
	return cache.NewRedis(rdb, load, cfg.StatsTTL), func() { _ = rdb.Close() }, nil
}

func newMailer(cfg config.Config) mail.Sender {
	if cfg.SMTP.Host == "" {
		log.Warn().Msg("SMTP_HOST not set; digests are logged instead of sent")
		return mail.NewLog(log.With().Str("component", "mail").Logger())
	}
	return mail.NewSMTP(cfg.SMTP)
}
