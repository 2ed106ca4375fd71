// Package service implements the messaging core: conversations, the delivery
// engine and notifications. Every real-time emission originates here.
package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/push"
	"github.com/freetalk/messaging/internal/store"
	"github.com/freetalk/messaging/pkg/logger"
)

// Emitter routes an event to every session in a room.
type Emitter interface {
	Emit(ctx context.Context, room, event string, payload any) error
}

// Presence answers whether a user holds a live session.
type Presence interface {
	IsOnline(ctx context.Context, userID string) bool
}

// Pusher delivers mobile pushes without blocking the caller.
type Pusher interface {
	Dispatch(userID string, n push.Notification)
}

// BlockChecker reports whether either user blocks the other.
type BlockChecker interface {
	Blocked(ctx context.Context, a, b string) (bool, error)
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page normalises 1-based pagination input and returns the store offset.
func Page(page, limit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit, (page - 1) * limit
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// storeErr classifies a store error for the caller.
func storeErr(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(notFound)
	case errors.Is(err, store.ErrVersionConflict):
		return apperr.Unavailable(err, "concurrent update, retry")
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Unavailable(err, "storage unavailable")
}

// emit sends one event and logs failures. Nothing is sent once ctx is done:
// the durable write stands and clients catch up by fetching.
func emit(ctx context.Context, e Emitter, log *logger.Logger, room, event string, payload any) {
	if ctx.Err() != nil {
		return
	}
	if err := e.Emit(ctx, room, event, payload); err != nil {
		log.Warn("emit failed", zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}

const lockStripes = 256

// stripedLock serializes work per key with a fixed set of mutexes.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
