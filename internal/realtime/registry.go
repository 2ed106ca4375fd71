// Package realtime implements the push channel: the connection registry, the
// room-addressed gateway and the websocket sessions it serves.
package realtime

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/freetalk/messaging/pkg/logger"
	"github.com/freetalk/messaging/pkg/metrics"
)

// ErrSessionOwned is returned when a session id is already registered to another user.
var ErrSessionOwned = errors.New("realtime: session registered to another user")

// Presence mirrors local registry changes into a store shared by all nodes.
type Presence interface {
	SetOnline(ctx context.Context, userID, sessionID string) error
	SetOffline(ctx context.Context, userID, sessionID string) error
	Refresh(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

const userStripes = 64

// Registry tracks the live sessions of each user on this node.
// Changes for one user are serialized, including the presence mirror write.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
	owner  map[string]string // session id -> user id

	stripes  [userStripes]sync.Mutex
	presence Presence
	log      *logger.Logger
}

// NewRegistry creates a registry. presence may be nil for a single node.
func NewRegistry(presence Presence, log *logger.Logger) *Registry {
	return &Registry{
		byUser:   make(map[string]map[string]struct{}),
		owner:    make(map[string]string),
		presence: presence,
		log:      log,
	}
}

func (r *Registry) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.stripes[h.Sum32()%userStripes]
}

// Register adds sessionID to userID's set and reports whether the user just came online.
func (r *Registry) Register(ctx context.Context, userID, sessionID string) (bool, error) {
	lock := r.stripe(userID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if owner, ok := r.owner[sessionID]; ok {
		r.mu.Unlock()
		if owner == userID {
			return false, nil
		}
		return false, ErrSessionOwned
	}
	set := r.byUser[userID]
	first := set == nil
	if first {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[sessionID] = struct{}{}
	r.owner[sessionID] = userID
	r.mu.Unlock()

	metrics.SessionsActive.Inc()
	if first {
		metrics.UsersOnline.Inc()
	}
	if r.presence != nil {
		if err := r.presence.SetOnline(ctx, userID, sessionID); err != nil {
			r.log.Warn("presence mirror failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return first, nil
}

// Unregister removes sessionID and reports its user and whether that was the user's last session.
func (r *Registry) Unregister(ctx context.Context, sessionID string) (string, bool) {
	r.mu.RLock()
	userID, ok := r.owner[sessionID]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}

	lock := r.stripe(userID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if r.owner[sessionID] != userID {
		r.mu.Unlock()
		return "", false
	}
	delete(r.owner, sessionID)
	set := r.byUser[userID]
	delete(set, sessionID)
	last := len(set) == 0
	if last {
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	metrics.SessionsActive.Dec()
	if last {
		metrics.UsersOnline.Dec()
	}
	if r.presence != nil {
		if err := r.presence.SetOffline(ctx, userID, sessionID); err != nil {
			r.log.Warn("presence mirror failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return userID, last
}

// SessionsOf returns the session ids of userID on this node.
func (r *Registry) SessionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether userID holds a session on this node or, with a
// presence mirror, on any node.
func (r *Registry) IsOnline(ctx context.Context, userID string) bool {
	r.mu.RLock()
	_, local := r.byUser[userID]
	r.mu.RUnlock()
	if local || r.presence == nil {
		return local
	}

	online, err := r.presence.IsOnline(ctx, userID)
	if err != nil {
		r.log.Warn("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return online
}

// Heartbeat extends the user's presence lease.
func (r *Registry) Heartbeat(ctx context.Context, userID string) {
	if r.presence == nil {
		return
	}
	if err := r.presence.Refresh(ctx, userID); err != nil {
		r.log.Debug("presence refresh failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// OnlineUsers returns the number of users with a session on this node.
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
