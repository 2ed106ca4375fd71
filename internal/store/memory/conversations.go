// Package memory provides in-process store implementations used for development and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

// Conversations is an in-memory store.Conversations.
type Conversations struct {
	mu     sync.RWMutex
	byID   map[string]*model.Conversation
	direct map[string]string // direct key -> id
}

// NewConversations creates an empty conversation store.
func NewConversations() *Conversations {
	return &Conversations{
		byID:   make(map[string]*model.Conversation),
		direct: make(map[string]string),
	}
}

func (s *Conversations) Create(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[c.ID]; exists {
		return store.ErrDuplicate
	}
	if c.DirectKey != "" {
		if _, exists := s.direct[c.DirectKey]; exists {
			return store.ErrDuplicate
		}
		s.direct[c.DirectKey] = c.ID
	}
	s.byID[c.ID] = c.Clone()
	return nil
}

func (s *Conversations) Get(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Conversations) GetDirect(ctx context.Context, directKey string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.direct[directKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *Conversations) Update(ctx context.Context, id string, fn store.ConversationMutation) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	s.byID[id] = next
	return next.Clone(), nil
}

func (s *Conversations) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Conversation
	for _, c := range s.byID {
		if !c.IsParticipant(userID) || slices.Contains(c.DeletedBy, userID) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *Conversations) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.DirectKey != "" {
		delete(s.direct, c.DirectKey)
	}
	delete(s.byID, id)
	return nil
}
