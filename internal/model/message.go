package model

import (
	"slices"
	"time"
)

// MessageType tags the payload of a message.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeVoice       MessageType = "voice"
	TypeDocument    MessageType = "document"
	TypeGIF         MessageType = "gif"
	TypeSharedPost  MessageType = "shared_post"
	TypeSharedStory MessageType = "shared_story"
)

// Tombstone replaces the content of a message deleted for everyone.
const Tombstone = "This message was deleted"

// DeleteForEveryoneWindow bounds how old a message may be when its sender retracts it.
const DeleteForEveryoneWindow = time.Hour

// Media describes an attached file. Fields are populated per type.
type Media struct {
	URL       string    `bson:"url" json:"url"`
	Filename  string    `bson:"filename,omitempty" json:"filename,omitempty"`
	MimeType  string    `bson:"mimeType,omitempty" json:"mimeType,omitempty"`
	Size      int64     `bson:"size,omitempty" json:"size,omitempty"`
	Thumbnail string    `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	Duration  float64   `bson:"duration,omitempty" json:"duration,omitempty"`
	Waveform  []float64 `bson:"waveform,omitempty" json:"waveform,omitempty"`
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	UserID    string    `bson:"user" json:"userId"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Message is a persisted message record.
type Message struct {
	ID             string      `bson:"_id" json:"id"`
	ConversationID string      `bson:"conversation" json:"conversationId"`
	SenderID       string      `bson:"sender" json:"senderId"`
	RecipientID    string      `bson:"recipient,omitempty" json:"recipientId,omitempty"`
	Content        string      `bson:"content" json:"content"`
	Type           MessageType `bson:"messageType" json:"type"`
	Media          *Media      `bson:"media,omitempty" json:"media,omitempty"`
	SharedPostID   string      `bson:"sharedPost,omitempty" json:"sharedPostId,omitempty"`
	SharedStoryID  string      `bson:"sharedStory,omitempty" json:"sharedStoryId,omitempty"`
	ReplyTo        string      `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	Reactions      []Reaction  `bson:"reactions" json:"reactions"`

	IsRead bool       `bson:"isRead" json:"isRead"`
	ReadAt *time.Time `bson:"readAt,omitempty" json:"readAt,omitempty"`
	// ReadBy records group reads per user.
	ReadBy map[string]time.Time `bson:"readBy,omitempty" json:"readBy,omitempty"`

	DeletedBy          []string  `bson:"deletedBy" json:"-"`
	DeletedForEveryone bool      `bson:"deletedForEveryone" json:"deletedForEveryone"`
	CreatedAt          time.Time `bson:"createdAt" json:"createdAt"`
	Version            int64     `bson:"version" json:"-"`
}

// HiddenFor reports whether userID deleted m for themselves.
func (m *Message) HiddenFor(userID string) bool {
	return slices.Contains(m.DeletedBy, userID)
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Media != nil {
		media := *m.Media
		media.Waveform = slices.Clone(m.Media.Waveform)
		cp.Media = &media
	}
	cp.Reactions = slices.Clone(m.Reactions)
	cp.DeletedBy = slices.Clone(m.DeletedBy)
	if m.ReadAt != nil {
		t := *m.ReadAt
		cp.ReadAt = &t
	}
	if m.ReadBy != nil {
		cp.ReadBy = make(map[string]time.Time, len(m.ReadBy))
		for k, v := range m.ReadBy {
			cp.ReadBy[k] = v
		}
	}
	return &cp
}

// Before orders messages chronologically, breaking timestamp ties by id.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// ReplySummary is the bounded hydration of a reply-to reference.
type ReplySummary struct {
	ID                 string      `json:"id"`
	SenderID           string      `json:"senderId"`
	Content            string      `json:"content"`
	Type               MessageType `json:"type"`
	DeletedForEveryone bool        `json:"deletedForEveryone"`
}

// MessageView is a message hydrated for a reader.
type MessageView struct {
	Message
	Sender         *UserSummary  `json:"sender,omitempty"`
	ReplyToMessage *ReplySummary `json:"replyToMessage,omitempty"`
}

// ListMessagesResponse is a page of messages, newest first.
type ListMessagesResponse struct {
	Messages []MessageView `json:"messages"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
	Total    int           `json:"total"`
	HasMore  bool          `json:"hasMore"`
}

// SendMessageRequest is the inbound send request after transport decoding.
type SendMessageRequest struct {
	ConversationID string    `json:"conversationId,omitempty"`
	Recipient      string    `json:"recipient,omitempty"`
	Content        string    `json:"content,omitempty"`
	ReplyTo        string    `json:"replyTo,omitempty"`
	SharedPostID   string    `json:"postId,omitempty"`
	SharedStoryID  string    `json:"storyId,omitempty"`
	GifURL         string    `json:"gifUrl,omitempty"`
	Duration       float64   `json:"duration,omitempty"`
	Waveform       []float64 `json:"waveformData,omitempty"`
	// Upload is set when the request carried a media file.
	Upload *Media `json:"-"`
}

// ExportRecord is the structured export of one message.
type ExportRecord struct {
	ID                 string      `json:"id"`
	SenderID           string      `json:"senderId"`
	SenderName         string      `json:"senderName"`
	Type               MessageType `json:"type"`
	Content            string      `json:"content"`
	Media              *Media      `json:"media,omitempty"`
	SharedPostID       string      `json:"sharedPostId,omitempty"`
	SharedStoryID      string      `json:"sharedStoryId,omitempty"`
	ReplyTo            string      `json:"replyTo,omitempty"`
	Reactions          []Reaction  `json:"reactions"`
	IsRead             bool        `json:"isRead"`
	DeletedForEveryone bool        `json:"deletedForEveryone"`
	CreatedAt          time.Time   `json:"createdAt"`
	ReadAt             *time.Time  `json:"readAt,omitempty"`
}
