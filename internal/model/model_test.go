package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDirectKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, DirectKey("a", "b"), DirectKey("b", "a"))
	assert.Equal(t, "a:b", DirectKey("b", "a"))
}

func TestMutualBlock(t *testing.T) {
	a := &User{ID: "a", BlockedUsers: []string{"b"}}
	b := &User{ID: "b"}
	c := &User{ID: "c"}

	assert.True(t, MutualBlock(a, b))
	assert.True(t, MutualBlock(b, a))
	assert.False(t, MutualBlock(a, c))
	assert.False(t, MutualBlock(nil, c))
}

func TestConversationHelpers(t *testing.T) {
	c := &Conversation{Kind: KindDirect, Participants: []string{"a", "b"}}

	assert.Equal(t, "b", c.Counterparty("a"))
	assert.Equal(t, []string{"a"}, c.Others("b"))
	assert.True(t, c.IsParticipant("a"))
	assert.False(t, c.IsParticipant("z"))

	g := &Conversation{Kind: KindGroup, Participants: []string{"a", "b", "c"}}
	assert.Empty(t, g.Counterparty("a"))
}

func TestCloneIsDeep(t *testing.T) {
	c := &Conversation{Participants: []string{"a"}, UnreadCounts: map[string]int{"a": 1}}
	cp := c.Clone()
	cp.Participants[0] = "z"
	cp.UnreadCounts["a"] = 9

	assert.Equal(t, "a", c.Participants[0])
	assert.Equal(t, 1, c.UnreadCounts["a"])

	m := &Message{Reactions: []Reaction{{UserID: "a", Emoji: "x"}}, Media: &Media{Waveform: []float64{1}}}
	mc := m.Clone()
	mc.Reactions[0].Emoji = "y"
	mc.Media.Waveform[0] = 2

	assert.Equal(t, "x", m.Reactions[0].Emoji)
	assert.Equal(t, float64(1), m.Media.Waveform[0])
}

func TestMessageOrderingBreaksTiesByID(t *testing.T) {
	now := time.Now()
	a := &Message{ID: "01", CreatedAt: now}
	b := &Message{ID: "02", CreatedAt: now}
	c := &Message{ID: "00", CreatedAt: now.Add(time.Millisecond)}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
}

func TestParseRoom(t *testing.T) {
	kind, id, ok := ParseRoom(UserRoom("u1"))
	assert.True(t, ok)
	assert.Equal(t, "user", kind)
	assert.Equal(t, "u1", id)

	_, _, ok = ParseRoom("lobby")
	assert.False(t, ok)
	_, _, ok = ParseRoom("user:")
	assert.False(t, ok)
	_, _, ok = ParseRoom("team:1")
	assert.False(t, ok)
}
