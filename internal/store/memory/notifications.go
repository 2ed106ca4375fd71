package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

// Notifications is an in-memory store.Notifications.
type Notifications struct {
	mu   sync.Mutex
	byID map[string]*model.Notification
	now  func() time.Time
}

// NewNotifications creates an empty notification store.
func NewNotifications() *Notifications {
	return &Notifications{byID: make(map[string]*model.Notification), now: time.Now}
}

// SetClock replaces the time source used for dedup windows and expiry.
func (s *Notifications) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Notifications) Record(ctx context.Context, n *model.Notification, window time.Duration) (*model.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if n.PostID != "" {
		for _, existing := range s.byID {
			if existing.RecipientID != n.RecipientID || existing.SenderID != n.SenderID ||
				existing.Type != n.Type || existing.PostID != n.PostID {
				continue
			}
			if now.Sub(existing.CreatedAt) > window {
				continue
			}
			existing.CreatedAt = n.CreatedAt
			existing.ExpiresAt = n.ExpiresAt
			existing.IsRead = false
			existing.ReactionType = n.ReactionType
			existing.Preview = n.Preview
			cp := *existing
			return &cp, true, nil
		}
	}

	if _, exists := s.byID[n.ID]; exists {
		return nil, false, store.ErrDuplicate
	}
	cp := *n
	s.byID[n.ID] = &cp
	out := cp
	return &out, false, nil
}

// liveLocked returns a recipient's unexpired notifications, newest first.
func (s *Notifications) liveLocked(recipientID string, unreadOnly bool) []*model.Notification {
	now := s.now()
	var out []*model.Notification
	for _, n := range s.byID {
		if n.RecipientID != recipientID || (unreadOnly && n.IsRead) {
			continue
		}
		if !n.ExpiresAt.IsZero() && !n.ExpiresAt.After(now) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Notifications) List(ctx context.Context, q store.NotificationQuery) ([]*model.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.liveLocked(q.RecipientID, q.UnreadOnly)
	paged := page(live, q.Offset, q.Limit)
	out := make([]*model.Notification, len(paged))
	for i, n := range paged {
		cp := *n
		out[i] = &cp
	}
	return out, len(live), nil
}

func (s *Notifications) CountUnread(ctx context.Context, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.liveLocked(recipientID, true)), nil
}

func (s *Notifications) MarkRead(ctx context.Context, id, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	if !ok || n.RecipientID != recipientID {
		return store.ErrNotFound
	}
	n.IsRead = true
	return nil
}

func (s *Notifications) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, n := range s.byID {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (s *Notifications) Delete(ctx context.Context, id, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	if !ok || n.RecipientID != recipientID {
		return store.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *Notifications) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, n := range s.byID {
		if n.RecipientID == recipientID {
			delete(s.byID, id)
			removed++
		}
	}
	return removed, nil
}
