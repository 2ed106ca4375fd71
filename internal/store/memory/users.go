package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

// Users is an in-memory user directory.
type Users struct {
	mu   sync.RWMutex
	byID map[string]*model.User
}

// NewUsers creates a directory seeded with users.
func NewUsers(users ...*model.User) *Users {
	s := &Users{byID: make(map[string]*model.User)}
	for _, u := range users {
		s.Put(u)
	}
	return s
}

// Put inserts or replaces a user.
func (s *Users) Put(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[u.ID] = cloneUser(u)
}

func (s *Users) Get(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Users) GetMany(ctx context.Context, ids []string) (map[string]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.byID[id]; ok {
			out[id] = cloneUser(u)
		}
	}
	return out, nil
}

func (s *Users) ClearDeviceToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return store.ErrNotFound
	}
	if u.DeviceToken == token {
		u.DeviceToken = ""
	}
	return nil
}

func cloneUser(u *model.User) *model.User {
	cp := *u
	cp.BlockedUsers = slices.Clone(u.BlockedUsers)
	cp.Settings.MutedConversations = slices.Clone(u.Settings.MutedConversations)
	return &cp
}
