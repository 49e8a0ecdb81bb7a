package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-feature-board/internal/config"
	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/observability"
)

// NewRedisClient connects to Redis and verifies the connection with PING.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is empty")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// redisEntry is the stored value. Gen is the project generation observed
// before the recompute began.
type redisEntry struct {
	Gen   int64               `json:"gen"`
	Stats domain.ProjectStats `json:"stats"`
}

// Redis is a Stats cache shared by every process pointing at the same
// Redis. Entries expire through Redis TTLs.
type Redis struct {
	rdb    goredis.UniversalClient
	load   Loader
	ttl    time.Duration
	prefix string
}

// NewRedis returns a Redis-backed cache. A ttl <= 0 selects DefaultTTL.
func NewRedis(rdb goredis.UniversalClient, load Loader, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, load: load, ttl: ttl, prefix: "featureboard:stats:"}
}

func (r *Redis) entryKey(projectID string) string { return r.prefix + "entry:" + projectID }
func (r *Redis) genKey(projectID string) string   { return r.prefix + "gen:" + projectID }

// Get returns the cached stats for projectID, recomputing them on a miss or
// when the stored generation is behind the current one. When Redis cannot be
// read the stats come straight from the loader and nothing is stored.
func (r *Redis) Get(ctx context.Context, projectID string) (domain.ProjectStats, error) {
	vals, err := r.rdb.MGet(ctx, r.entryKey(projectID), r.genKey(projectID)).Result()
	if err != nil {
		observability.StatsCacheRequests.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("project_id", projectID).Msg("stats cache unavailable, loading directly")
		return r.load(ctx, projectID)
	}
	gen := parseGen(vals[1])

	if raw, ok := vals[0].(string); ok {
		var e redisEntry
		if json.Unmarshal([]byte(raw), &e) == nil && e.Gen == gen {
			observability.StatsCacheRequests.WithLabelValues("hit").Inc()
			return e.Stats, nil
		}
	}

	stats, err := r.load(ctx, projectID)
	if err != nil {
		observability.StatsCacheRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.StatsCacheRequests.WithLabelValues("miss").Inc()

	buf, err := json.Marshal(redisEntry{Gen: gen, Stats: stats})
	if err != nil {
		return stats, nil
	}
	// A failed store only costs a recompute on the next read.
	_ = r.rdb.Set(ctx, r.entryKey(projectID), buf, r.ttl).Err()
	return stats, nil
}

// Invalidate deletes the entry and advances the generation. The generation
// key outlives any entry stored against it by a ttl, then expires so idle
// projects leave nothing behind.
func (r *Redis) Invalidate(ctx context.Context, projectID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.entryKey(projectID))
	pipe.Incr(ctx, r.genKey(projectID))
	pipe.Expire(ctx, r.genKey(projectID), 2*r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func parseGen(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var (
	_ Stats = (*Redis)(nil)
	_ Stats = (*Memory)(nil)
)