// Package cache holds the Redis-backed conversation list cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/pkg/logger"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// ConversationLists caches each user's paginated conversation list.
// Invalidation bumps a per-user version so every cached page is orphaned at once.
type ConversationLists interface {
	Get(ctx context.Context, userID string, page, limit int) (*model.ListConversationsResponse, bool)
	Set(ctx context.Context, userID string, page, limit int, resp *model.ListConversationsResponse)
	Invalidate(ctx context.Context, userIDs ...string)
}

// RedisConversationLists implements ConversationLists on Redis.
// Cache failures are logged and treated as misses.
type RedisConversationLists struct {
	rdb redis.UniversalClient
	ttl time.Duration
	log *logger.Logger
}

// NewRedisConversationLists creates a cache whose entries live for ttl.
func NewRedisConversationLists(rdb redis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisConversationLists {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisConversationLists{rdb: rdb, ttl: ttl, log: log}
}

func versionKey(userID string) string { return "freetalk:convlist:ver:" + userID }

func pageKey(userID string, version int64, page, limit int) string {
	return fmt.Sprintf("freetalk:convlist:%s:v%d:p%d:l%d", userID, version, page, limit)
}

func (c *RedisConversationLists) version(ctx context.Context, userID string) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

func (c *RedisConversationLists) Get(ctx context.Context, userID string, page, limit int) (*model.ListConversationsResponse, bool) {
	v, err := c.version(ctx, userID)
	if err != nil {
		c.log.Debug("conversation cache version lookup failed", zap.Error(err))
		return nil, false
	}
	data, err := c.rdb.Get(ctx, pageKey(userID, v, page, limit)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("conversation cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var resp model.ListConversationsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (c *RedisConversationLists) Set(ctx context.Context, userID string, page, limit int, resp *model.ListConversationsResponse) {
	v, err := c.version(ctx, userID)
	if err != nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, pageKey(userID, v, page, limit), data, c.ttl).Err(); err != nil {
		c.log.Debug("conversation cache write failed", zap.Error(err))
	}
}

func (c *RedisConversationLists) Invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, id := range userIDs {
		pipe.Incr(ctx, versionKey(id))
		pipe.Expire(ctx, versionKey(id), 24*time.Hour)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("conversation cache invalidation failed", zap.Error(err))
	}
}

// Noop never caches.
type Noop struct{}

func (Noop) Get(context.Context, string, int, int) (*model.ListConversationsResponse, bool) {
	return nil, false
}
func (Noop) Set(context.Context, string, int, int, *model.ListConversationsResponse) {}
func (Noop) Invalidate(context.Context, ...string)                                  {}
