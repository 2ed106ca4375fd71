package model

import "strings"

// Event names on the push channel. The strings are part of the client contract.
const (
	EventMessageNew         = "message:new"
	EventMessageUnreadCount = "message:unread-count"
	EventMessageRead        = "message:read"
	EventMessageDeleted     = "message:deleted"
	EventMessageReacted     = "message:reacted"
	EventMessageUnreacted   = "message:unreacted"

	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"

	EventNotificationNew         = "notification:new"
	EventNotificationUnreadCount = "notification:unread-count"

	EventGroupCreated            = "group:created"
	EventGroupUpdated            = "group:updated"
	EventGroupParticipantAdded   = "group:participant-added"
	EventGroupParticipantRemoved = "group:participant-removed"
	EventGroupRemoved            = "group:removed"
	EventGroupAdminAdded         = "group:admin-added"
	EventGroupAdminRemoved       = "group:admin-removed"

	EventPostCreated        = "post:created"
	EventPostUpdated        = "post:updated"
	EventPostDeleted        = "post:deleted"
	EventPostShared         = "post:shared"
	EventPostReacted        = "post:reacted"
	EventPostCommented      = "post:commented"
	EventCommentReplied     = "comment:replied"
	EventCommentReacted     = "comment:reacted"
	EventCommentUnreacted   = "comment:unreacted"
	EventReplyReacted       = "reply:reacted"
	EventReplyUnreacted     = "reply:unreacted"
	EventReplyReplied       = "reply:replied"
	EventStoryCreated       = "story:created"
	EventStoryDeleted       = "story:deleted"
	EventStoryViewed        = "story:viewed"
	EventStoryReaction      = "story:reaction"
	EventStoryReactionGone  = "story:reaction-removed"
	EventPokeReceived       = "poke:received"
	EventProfileVisited     = "profile:visited"
	EventProfileUpdated     = "profile:updated"
	EventUserFollowed       = "user:followed"
	EventUserUnfollowed     = "user:unfollowed"
	EventUserBlocked        = "user:blocked"
	EventUserUnblocked      = "user:unblocked"
	EventUserSettingsUpdate = "user:settings-updated"
	EventAccountSuspended   = "account_suspended"
	EventAccountBanned      = "account_banned"
	EventAccountDeleted     = "account_deleted"
)

// Push-channel control events exchanged with clients.
const (
	ClientAuthenticate = "authenticate"
	ClientSubscribe    = "subscribe"
	ClientUnsubscribe  = "unsubscribe"
	ClientPing         = "ping"

	ServerAuthenticated = "authenticated"
	ServerSubscribed    = "subscribed"
	ServerUnsubscribed  = "unsubscribed"
	ServerPong          = "pong"
	ServerError         = "error"
)

const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
)

// UserRoom is the per-user fan-out address.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// ConversationRoom is the optional per-conversation address.
func ConversationRoom(conversationID string) string {
	return conversationRoomPrefix + conversationID
}

// ParseRoom splits a room name into its kind prefix and id.
func ParseRoom(room string) (kind, id string, ok bool) {
	kind, id, ok = strings.Cut(room, ":")
	if !ok || id == "" {
		return "", "", false
	}
	switch kind {
	case "user", "conversation":
		return kind, id, true
	}
	return "", "", false
}

// Envelope is the JSON frame exchanged on the push channel.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// UnreadCountEvent is the payload of message:unread-count.
type UnreadCountEvent struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int    `json:"unreadCount"`
	Increment      int    `json:"increment"`
}

// ReadReceiptEvent is the payload of message:read.
type ReadReceiptEvent struct {
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
	ReadAt         string `json:"readAt"`
	Count          int64  `json:"count"`
}

// MessageDeletedEvent is the payload of message:deleted.
type MessageDeletedEvent struct {
	MessageID          string `json:"messageId"`
	ConversationID     string `json:"conversationId"`
	DeletedForEveryone bool   `json:"deletedForEveryone"`
	Content            string `json:"content,omitempty"`
}

// ReactionEvent is the payload of message:reacted and message:unreacted.
type ReactionEvent struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	Emoji          string     `json:"emoji,omitempty"`
	Reactions      []Reaction `json:"reactions"`
}

// TypingEvent is the payload of typing:start and typing:stop.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	DisplayName    string `json:"displayName"`
}

// GroupEvent is the payload of group:* events.
type GroupEvent struct {
	Conversation *ConversationView `json:"conversation,omitempty"`
	GroupID      string            `json:"groupId"`
	ActorID      string            `json:"actorId"`
	UserID       string            `json:"userId,omitempty"`
}

// NotificationCountEvent is the payload of notification:unread-count.
type NotificationCountEvent struct {
	UnreadCount int `json:"unreadCount"`
}
