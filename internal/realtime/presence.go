package realtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL bounds how long a node that stopped heartbeating keeps users online.
const DefaultPresenceTTL = 90 * time.Second

// RedisPresence stores each online user as a hash of session id to node id.
// The key expires unless some session of the user keeps refreshing it.
type RedisPresence struct {
	rdb    redis.UniversalClient
	nodeID string
	ttl    time.Duration
}

// NewRedisPresence creates a presence mirror for nodeID.
func NewRedisPresence(rdb redis.UniversalClient, nodeID string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresence{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

func presenceKey(userID string) string { return "freetalk:presence:" + userID }

func (p *RedisPresence) SetOnline(ctx context.Context, userID, sessionID string) error {
	key := presenceKey(userID)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, sessionID, p.nodeID)
	pipe.Expire(ctx, key, p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) SetOffline(ctx context.Context, userID, sessionID string) error {
	return p.rdb.HDel(ctx, presenceKey(userID), sessionID).Err()
}

func (p *RedisPresence) Refresh(ctx context.Context, userID string) error {
	return p.rdb.Expire(ctx, presenceKey(userID), p.ttl).Err()
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.HLen(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
