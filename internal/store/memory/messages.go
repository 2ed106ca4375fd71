package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

// Messages is an in-memory store.Messages.
type Messages struct {
	mu     sync.RWMutex
	byID   map[string]*model.Message
	byConv map[string][]string // conversation id -> message ids in insertion order
}

// NewMessages creates an empty message store.
func NewMessages() *Messages {
	return &Messages{
		byID:   make(map[string]*model.Message),
		byConv: make(map[string][]string),
	}
}

func (s *Messages) Insert(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[m.ID]; exists {
		return store.ErrDuplicate
	}
	s.byID[m.ID] = m.Clone()
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return nil
}

func (s *Messages) Get(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Messages) GetMany(ctx context.Context, ids []string) (map[string]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*model.Message, len(ids))
	for _, id := range ids {
		if m, ok := s.byID[id]; ok {
			out[id] = m.Clone()
		}
	}
	return out, nil
}

// visibleLocked returns the viewer's messages of a conversation, oldest first.
func (s *Messages) visibleLocked(conversationID, viewer string) []*model.Message {
	var out []*model.Message
	for _, id := range s.byConv[conversationID] {
		m := s.byID[id]
		if m == nil || m.HiddenFor(viewer) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *Messages) List(ctx context.Context, q store.MessageQuery) ([]*model.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := s.visibleLocked(q.ConversationID, q.Viewer)
	slices.Reverse(visible)
	return page(visible, q.Offset, q.Limit), len(visible), nil
}

func (s *Messages) Search(ctx context.Context, q store.SearchQuery) ([]*model.Message, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		m     *model.Message
		score int
	}
	var hits []scored
	for _, m := range s.visibleLocked(q.ConversationID, q.Viewer) {
		if m.DeletedForEveryone {
			continue
		}
		if score := textScore(m, terms); score > 0 {
			hits = append(hits, scored{m: m, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[j].m.Before(hits[i].m)
	})

	ranked := make([]*model.Message, len(hits))
	for i, h := range hits {
		ranked[i] = h.m
	}
	return page(ranked, q.Offset, q.Limit), len(ranked), nil
}

func textScore(m *model.Message, terms []string) int {
	haystack := strings.ToLower(m.Content)
	if m.Media != nil {
		haystack += " " + strings.ToLower(m.Media.Filename)
	}
	score := 0
	for _, t := range terms {
		score += strings.Count(haystack, t)
	}
	return score
}

func (s *Messages) Export(ctx context.Context, conversationID, viewer string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := s.visibleLocked(conversationID, viewer)
	out := make([]*model.Message, len(visible))
	for i, m := range visible {
		out[i] = m.Clone()
	}
	return out, nil
}

func (s *Messages) Update(ctx context.Context, id string, fn store.MessageMutation) (*model.Message, error) {
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

func (s *Messages) MarkRead(ctx context.Context, conversationID, reader string, cutoff, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range s.byConv[conversationID] {
		m := s.byID[id]
		if m == nil || m.SenderID == reader || m.CreatedAt.After(cutoff) {
			continue
		}
		if m.RecipientID != "" {
			if m.RecipientID == reader && !m.IsRead {
				readAt := at
				m.IsRead = true
				m.ReadAt = &readAt
				n++
			}
			continue
		}
		if _, seen := m.ReadBy[reader]; !seen {
			if m.ReadBy == nil {
				m.ReadBy = make(map[string]time.Time)
			}
			m.ReadBy[reader] = at
			n++
		}
	}
	return n, nil
}

func (s *Messages) HideAll(ctx context.Context, conversationID, userID string, cutoff time.Time, participants []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hidden int64
	kept := s.byConv[conversationID][:0]
	for _, id := range s.byConv[conversationID] {
		m := s.byID[id]
		if m == nil {
			continue
		}
		if !m.HiddenFor(userID) && !m.CreatedAt.After(cutoff) {
			m.DeletedBy = append(m.DeletedBy, userID)
			hidden++
		}
		if coversAll(m.DeletedBy, participants) {
			delete(s.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	s.byConv[conversationID] = kept
	return hidden, nil
}

func (s *Messages) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.byID, id)
	ids := s.byConv[m.ConversationID]
	if i := slices.Index(ids, id); i >= 0 {
		s.byConv[m.ConversationID] = slices.Delete(ids, i, i+1)
	}
	return nil
}

func (s *Messages) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byConv[conversationID]
	for _, id := range ids {
		delete(s.byID, id)
	}
	delete(s.byConv, conversationID)
	return int64(len(ids)), nil
}

func coversAll(set, required []string) bool {
	for _, r := range required {
		if !slices.Contains(set, r) {
			return false
		}
	}
	return len(required) > 0
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
