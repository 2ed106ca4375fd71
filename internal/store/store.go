// Package store declares the persistence contracts of the messaging core.
// Implementations live in store/memory and store/mongostore.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/freetalk/messaging/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist or is not visible to the caller.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrVersionConflict is returned when an optimistic update lost a race.
	ErrVersionConflict = errors.New("store: version conflict")
)

// MaxUpdateRetries bounds optimistic retry loops.
const MaxUpdateRetries = 8

// ConversationMutation edits a conversation in place. Returning an error aborts the write.
type ConversationMutation func(c *model.Conversation) error

// MessageMutation edits a message in place. Returning an error aborts the write.
type MessageMutation func(m *model.Message) error

// Conversations persists conversation records.
type Conversations interface {
	// Create inserts c. Returns ErrDuplicate when a direct key already exists.
	Create(ctx context.Context, c *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
	GetDirect(ctx context.Context, directKey string) (*model.Conversation, error)
	// Update applies fn atomically to the current record and returns the stored result.
	Update(ctx context.Context, id string, fn ConversationMutation) (*model.Conversation, error)
	// ListForUser returns every conversation of userID not soft-deleted by them,
	// newest activity first with id as tie breaker.
	ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// MessageQuery selects a page of a conversation visible to a viewer.
type MessageQuery struct {
	ConversationID string
	Viewer         string
	Offset         int
	Limit          int
}

// SearchQuery is a MessageQuery with a full-text term.
type SearchQuery struct {
	MessageQuery
	Text string
}

// Messages persists message records.
type Messages interface {
	Insert(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	GetMany(ctx context.Context, ids []string) (map[string]*model.Message, error)
	// List returns newest first and the total visible count.
	List(ctx context.Context, q MessageQuery) ([]*model.Message, int, error)
	// Search ranks by text score then recency.
	Search(ctx context.Context, q SearchQuery) ([]*model.Message, int, error)
	// Export returns every message visible to viewer in chronological order.
	Export(ctx context.Context, conversationID, viewer string) ([]*model.Message, error)
	Update(ctx context.Context, id string, fn MessageMutation) (*model.Message, error)
	// MarkRead flags messages created at or before cutoff and addressed to
	// reader as read, and records group reads.
	MarkRead(ctx context.Context, conversationID, reader string, cutoff, at time.Time) (int64, error)
	// HideAll adds userID to deleted-by on every message of the conversation
	// created at or before cutoff and removes the messages now hidden by all of
	// participants.
	HideAll(ctx context.Context, conversationID, userID string, cutoff time.Time, participants []string) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteByConversation(ctx context.Context, conversationID string) (int64, error)
}

// NotificationQuery selects a page of a recipient's notifications.
type NotificationQuery struct {
	RecipientID string
	UnreadOnly  bool
	Offset      int
	Limit       int
}

// Notifications persists notification records.
type Notifications interface {
	// Record inserts n unless a record with the same recipient, sender, type and post
	// was created within window; that record is refreshed, re-flagged unread and returned
	// with deduplicated set.
	Record(ctx context.Context, n *model.Notification, window time.Duration) (stored *model.Notification, deduplicated bool, err error)
	List(ctx context.Context, q NotificationQuery) ([]*model.Notification, int, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, id, recipientID string) error
	DeleteAll(ctx context.Context, recipientID string) (int64, error)
}

// Users reads identity records owned by the identity subsystem.
type Users interface {
	Get(ctx context.Context, id string) (*model.User, error)
	GetMany(ctx context.Context, ids []string) (map[string]*model.User, error)
	// ClearDeviceToken removes token from userID if it is still the stored token.
	ClearDeviceToken(ctx context.Context, userID, token string) error
}
