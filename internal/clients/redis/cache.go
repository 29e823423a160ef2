package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/platform/envutil"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
)

// SessionCache keeps recent session snapshots in redis so turn handling can
// skip the database read on the hot path. The database row stays the source
// of truth; a cache miss always falls through to the repo.
type SessionCache interface {
	Get(ctx context.Context, id string) (*domain.CounselSession, error)
	Put(ctx context.Context, rec *domain.CounselSession, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Close() error
}

type cache struct {
	rdb *goredis.Client
	log *logger.Logger
}

func NewSessionCache(baseLog *logger.Logger) (SessionCache, error) {
	log := baseLog.With("client", "redis")
	addr := envutil.Str("REDIS_ADDR", "localhost:6379")
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: envutil.Str("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info("redis connected", "addr", addr)
	return &cache{rdb: rdb, log: log}, nil
}

func key(id string) string { return "counsel:session:" + id }

func (c *cache) Get(ctx context.Context, id string) (*domain.CounselSession, error) {
	raw, err := c.rdb.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec domain.CounselSession
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A corrupt snapshot is treated as a miss; the repo copy wins.
		c.log.Warn("dropping corrupt session snapshot", "session_id", id, "error", err.Error())
		_ = c.rdb.Del(ctx, key(id)).Err()
		return nil, nil
	}
	return &rec, nil
}

func (c *cache) Put(ctx context.Context, rec *domain.CounselSession, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, key(rec.ID.String()), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *cache) Delete(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *cache) Close() error { return c.rdb.Close() }
