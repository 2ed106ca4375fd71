package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store/memory"
	"github.com/freetalk/messaging/pkg/logger"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Notification
	err  error
	wait time.Duration
}

func (f *fakeSender) Send(ctx context.Context, n Notification) error {
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func TestEligible(t *testing.T) {
	u := &model.User{ID: "u", DeviceToken: "tok", Settings: model.UserSettings{PushEnabled: true, MutedConversations: []string{"muted"}}}

	assert.True(t, Eligible(u, "c1"))
	assert.True(t, Eligible(u, ""))
	assert.False(t, Eligible(u, "muted"))
	assert.False(t, Eligible(nil, "c1"))
	assert.False(t, Eligible(&model.User{DeviceToken: "tok"}, "c1"), "push disabled")
	assert.False(t, Eligible(&model.User{Settings: model.UserSettings{PushEnabled: true}}, "c1"), "no token")
}

func TestDispatchSends(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, memory.NewUsers(), time.Second, logger.Nop())

	d.Dispatch("u", Notification{Token: "tok", Title: "Alice", Body: "hello"})
	d.Wait()

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "hello", sender.sent[0].Body)
}

func TestUnregisteredTokenIsCleared(t *testing.T) {
	users := memory.NewUsers(&model.User{ID: "u", DeviceToken: "tok"})
	sender := &fakeSender{err: ErrUnregistered}
	d := NewDispatcher(sender, users, time.Second, logger.Nop())

	d.Dispatch("u", Notification{Token: "tok"})
	d.Wait()

	u, err := users.Get(context.Background(), "u")
	require.NoError(t, err)
	assert.Empty(t, u.DeviceToken)
}

func TestOtherFailuresKeepToken(t *testing.T) {
	users := memory.NewUsers(&model.User{ID: "u", DeviceToken: "tok"})
	d := NewDispatcher(&fakeSender{err: errors.New("provider down")}, users, time.Second, logger.Nop())

	d.Dispatch("u", Notification{Token: "tok"})
	d.Wait()

	u, err := users.Get(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "tok", u.DeviceToken)
}

func TestDispatchHasItsOwnTimeout(t *testing.T) {
	sender := &fakeSender{wait: time.Second}
	d := NewDispatcher(sender, memory.NewUsers(), 20*time.Millisecond, logger.Nop())

	start := time.Now()
	d.Dispatch("u", Notification{Token: "tok"})
	assert.Less(t, time.Since(start), 10*time.Millisecond, "dispatch does not block")
	d.Wait()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, sender.sent)
}
