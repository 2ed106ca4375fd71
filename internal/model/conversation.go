// Package model defines the records persisted and exchanged by the messaging core.
package model

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// ConversationKind distinguishes direct and group conversations.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// MinGroupParticipants is the smallest group, creator included.
const MinGroupParticipants = 3

// Conversation links a set of participants to an ordered sequence of messages.
type Conversation struct {
	ID           string           `bson:"_id" json:"id"`
	Kind         ConversationKind `bson:"kind" json:"kind"`
	Participants []string         `bson:"participants" json:"participants"`
	// DirectKey is the canonical "a:b" pair key, set for direct conversations only.
	DirectKey string `bson:"directKey,omitempty" json:"-"`

	Name        string   `bson:"name,omitempty" json:"name,omitempty"`
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	Avatar      string   `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Admins      []string `bson:"admins,omitempty" json:"admins,omitempty"`
	Creator     string   `bson:"creator,omitempty" json:"creator,omitempty"`

	LastMessageID string         `bson:"lastMessage,omitempty" json:"lastMessageId,omitempty"`
	LastMessageAt time.Time      `bson:"lastMessageAt" json:"lastMessageAt"`
	UnreadCounts  map[string]int `bson:"unreadCounts" json:"-"`
	DeletedBy     []string       `bson:"deletedBy" json:"-"`
	ArchivedBy    []string       `bson:"archivedBy" json:"-"`

	// Version increments on every write and guards optimistic updates.
	Version   int64     `bson:"version" json:"-"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// DirectKey canonicalises an unordered user pair.
func DirectKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return strings.Join(p, ":")
}

// IsParticipant reports whether userID belongs to c.
func (c *Conversation) IsParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// IsAdmin reports whether userID administers the group c.
func (c *Conversation) IsAdmin(userID string) bool {
	return slices.Contains(c.Admins, userID)
}

// Counterparty returns the other participant of a direct conversation.
func (c *Conversation) Counterparty(userID string) string {
	if c.Kind != KindDirect {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// Others returns every participant except userID.
func (c *Conversation) Others(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy so stores never hand out shared slices or maps.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.Admins = slices.Clone(c.Admins)
	cp.DeletedBy = slices.Clone(c.DeletedBy)
	cp.ArchivedBy = slices.Clone(c.ArchivedBy)
	cp.UnreadCounts = make(map[string]int, len(c.UnreadCounts))
	for k, v := range c.UnreadCounts {
		cp.UnreadCounts[k] = v
	}
	return &cp
}

// GroupPatch carries the optional fields of a group update.
type GroupPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

// ConversationView is the caller-specific projection returned by the API.
type ConversationView struct {
	ID            string           `json:"id"`
	Kind          ConversationKind `json:"kind"`
	Participants  []UserSummary    `json:"participants"`
	Name          string           `json:"name,omitempty"`
	Description   string           `json:"description,omitempty"`
	Avatar        string           `json:"avatar,omitempty"`
	Admins        []string         `json:"admins,omitempty"`
	Creator       string           `json:"creator,omitempty"`
	LastMessage   *MessageView     `json:"lastMessage,omitempty"`
	LastMessageAt time.Time        `json:"lastMessageAt"`
	UnreadCount   int              `json:"unreadCount"`
	IsArchived    bool             `json:"isArchived"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// ListConversationsResponse is the paginated conversation list.
type ListConversationsResponse struct {
	Conversations []ConversationView `json:"conversations"`
	Page          int                `json:"page"`
	Limit         int                `json:"limit"`
	Total         int                `json:"total"`
	HasMore       bool               `json:"hasMore"`
}
