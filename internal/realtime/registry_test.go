package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freetalk/messaging/pkg/logger"
)

func TestRegistryMultiDevice(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, logger.Nop())

	first, err := r.Register(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = r.Register(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.False(t, first)

	assert.ElementsMatch(t, []string{"s1", "s2"}, r.SessionsOf("u1"))
	assert.True(t, r.IsOnline(ctx, "u1"))

	user, last := r.Unregister(ctx, "s1")
	assert.Equal(t, "u1", user)
	assert.False(t, last)
	assert.True(t, r.IsOnline(ctx, "u1"))

	_, last = r.Unregister(ctx, "s2")
	assert.True(t, last)
	assert.False(t, r.IsOnline(ctx, "u1"))
	assert.Empty(t, r.SessionsOf("u1"))
}

func TestRegistrySessionBelongsToOneUser(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, logger.Nop())

	_, err := r.Register(ctx, "u1", "s1")
	require.NoError(t, err)
	_, err = r.Register(ctx, "u2", "s1")
	assert.ErrorIs(t, err, ErrSessionOwned)
	assert.Empty(t, r.SessionsOf("u2"))

	_, last := r.Unregister(ctx, "unknown")
	assert.False(t, last)
}

func TestRegistryConcurrentChurn(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, logger.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("s%d", i)
			_, err := r.Register(ctx, "u", sid)
			assert.NoError(t, err)
			if i%2 == 0 {
				r.Unregister(ctx, sid)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.SessionsOf("u"), 25)
	assert.Equal(t, 1, r.OnlineUsers())
}

func TestRegistryConsultsPresenceForRemoteUsers(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	nodeA := NewRegistry(NewRedisPresence(rdb, "node-a", time.Minute), logger.Nop())
	nodeB := NewRegistry(NewRedisPresence(rdb, "node-b", time.Minute), logger.Nop())

	_, err := nodeA.Register(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.True(t, nodeB.IsOnline(ctx, "u1"), "visible from another node")

	nodeA.Unregister(ctx, "s1")
	assert.False(t, nodeB.IsOnline(ctx, "u1"))
}

func TestRedisPresenceExpires(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	p := NewRedisPresence(rdb, "node", 30*time.Second)
	require.NoError(t, p.SetOnline(ctx, "u1", "s1"))

	mr.FastForward(20 * time.Second)
	require.NoError(t, p.Refresh(ctx, "u1"))
	mr.FastForward(20 * time.Second)
	online, err := p.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online, "refresh extended the lease")

	mr.FastForward(31 * time.Second)
	online, err = p.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)
}
