package model

import "time"

// NotificationType enumerates notification kinds.
type NotificationType string

const (
	NotifyReaction         NotificationType = "reaction"
	NotifyComment          NotificationType = "comment"
	NotifyReply            NotificationType = "reply"
	NotifyPostMention      NotificationType = "post_mention"
	NotifyFollow           NotificationType = "follow"
	NotifyMessage          NotificationType = "message"
	NotifyStory            NotificationType = "story"
	NotifyMessageReaction  NotificationType = "message_reaction"
	NotifyStoryReaction    NotificationType = "story_reaction"
	NotifyPostShare        NotificationType = "post_share"
	NotifyTag              NotificationType = "tag"
	NotifyPoke             NotificationType = "poke"
	NotifyReportUpdate     NotificationType = "report_update"
	NotifyModerationAction NotificationType = "moderation_action"
)

// NotificationTTL is how long a notification lives before expiry.
const NotificationTTL = 30 * 24 * time.Hour

// DedupWindow is the duplicate suppression window for {recipient, sender, type, post}.
const DedupWindow = 60 * time.Second

// Notification is a typed notification record.
type Notification struct {
	ID          string           `bson:"_id" json:"id"`
	RecipientID string           `bson:"recipient" json:"recipientId"`
	SenderID    string           `bson:"sender" json:"senderId"`
	Type        NotificationType `bson:"type" json:"type"`

	PostID         string `bson:"post,omitempty" json:"postId,omitempty"`
	StoryID        string `bson:"story,omitempty" json:"storyId,omitempty"`
	VideoID        string `bson:"video,omitempty" json:"videoId,omitempty"`
	CommentID      string `bson:"comment,omitempty" json:"commentId,omitempty"`
	ConversationID string `bson:"conversation,omitempty" json:"conversationId,omitempty"`
	MessageID      string `bson:"messageRef,omitempty" json:"messageId,omitempty"`
	PokeID         string `bson:"poke,omitempty" json:"pokeId,omitempty"`
	ReportID       string `bson:"report,omitempty" json:"reportId,omitempty"`
	ReactionType   string `bson:"reactionType,omitempty" json:"reactionType,omitempty"`

	Preview   string    `bson:"message" json:"message"`
	IsRead    bool      `bson:"isRead" json:"isRead"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	ExpiresAt time.Time `bson:"expiresAt" json:"-"`
}

// NotificationView adds the sender summary for clients.
type NotificationView struct {
	Notification
	Sender *UserSummary `json:"sender,omitempty"`
}

// ListNotificationsResponse is a page of notifications, newest first.
type ListNotificationsResponse struct {
	Notifications []NotificationView `json:"notifications"`
	Page          int                `json:"page"`
	Limit         int                `json:"limit"`
	Total         int                `json:"total"`
	UnreadCount   int                `json:"unreadCount"`
	HasMore       bool               `json:"hasMore"`
}
