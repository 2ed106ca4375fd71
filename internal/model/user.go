package model

import "slices"

// UserSettings holds the per-user preferences consumed by messaging.
type UserSettings struct {
	PushEnabled        bool     `bson:"pushEnabled" json:"pushEnabled"`
	MutedConversations []string `bson:"mutedConversations,omitempty" json:"mutedConversations,omitempty"`
}

// User is the identity record owned by the identity subsystem.
// Messaging only reads it, except for clearing a dead device token.
type User struct {
	ID           string       `bson:"_id" json:"id"`
	DisplayName  string       `bson:"displayName" json:"displayName"`
	Avatar       string       `bson:"avatar,omitempty" json:"avatar,omitempty"`
	DeviceToken  string       `bson:"deviceToken,omitempty" json:"-"`
	Suspended    bool         `bson:"isSuspended" json:"isSuspended"`
	Settings     UserSettings `bson:"settings" json:"settings"`
	BlockedUsers []string     `bson:"blockedUsers,omitempty" json:"-"`
}

// UserSummary is the public projection embedded in views and events.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Summary projects the public fields of u.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, DisplayName: u.DisplayName, Avatar: u.Avatar}
}

// Blocks reports whether u has blocked other.
func (u *User) Blocks(other string) bool {
	return slices.Contains(u.BlockedUsers, other)
}

// MutualBlock reports whether either user blocks the other.
func MutualBlock(a, b *User) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Blocks(b.ID) || b.Blocks(a.ID)
}
