package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

func TestFindOrCreateDirectIsSymmetric(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ab, err := e.conversations.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	ba, err := e.conversations.FindOrCreateDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, model.KindDirect, ab.Kind)

	_, err = e.conversations.FindOrCreateDirect(ctx, "alice", "alice")
	assertKind(t, apperr.KindValidation, err)
	_, err = e.conversations.FindOrCreateDirect(ctx, "alice", "ghost")
	assertKind(t, apperr.KindNotFound, err)
	_, err = e.conversations.FindOrCreateDirect(ctx, "mallory", "alice")
	assertKind(t, apperr.KindForbidden, err)
}

func TestCreateGroupValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.conversations.CreateGroup(ctx, "alice", []string{"bob"}, "Pair", "")
	assertKind(t, apperr.KindValidation, err)

	_, err = e.conversations.CreateGroup(ctx, "alice", []string{"bob", "alice", "bob"}, "Dupes", "")
	assertKind(t, apperr.KindValidation, err)

	_, err = e.conversations.CreateGroup(ctx, "alice", []string{"bob", "carol"}, "  ", "")
	assertKind(t, apperr.KindValidation, err)

	_, err = e.conversations.CreateGroup(ctx, "alice", []string{"bob", "ghost"}, "Ghosts", "")
	assertKind(t, apperr.KindNotFound, err)

	_, err = e.conversations.CreateGroup(ctx, "alice", []string{"bob", "mallory"}, "Blocked", "")
	assertKind(t, apperr.KindForbidden, err)

	g, err := e.conversations.CreateGroup(ctx, "alice", []string{"bob", "carol"}, "Trip", "weekend")
	require.NoError(t, err)
	assert.Equal(t, model.KindGroup, g.Kind)
	assert.Equal(t, []string{"alice"}, g.Admins)
	assert.Equal(t, "alice", g.Creator)
	assert.Len(t, g.Participants, 3)
	for _, u := range []string{"alice", "bob", "carol"} {
		assert.Len(t, e.events.find("user:"+u, model.EventGroupCreated), 1, u)
	}
}

func newGroup(t *testing.T, e *env, members ...string) string {
	t.Helper()
	g, err := e.conversations.CreateGroup(context.Background(), "alice", members, "Crew", "")
	require.NoError(t, err)
	e.events.reset()
	return g.ID
}

func TestLastAdminCannotLeave(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := newGroup(t, e, "bob", "carol")
	before, err := e.convs.Get(ctx, id)
	require.NoError(t, err)

	_, err = e.conversations.RemoveParticipant(ctx, id, "alice", "alice")
	assertKind(t, apperr.KindForbidden, err)

	after, err := e.convs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Participants, after.Participants)
	assert.Equal(t, before.Admins, after.Admins)
	assert.Zero(t, e.events.count())
}

func TestAddParticipant(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := newGroup(t, e, "bob", "carol")

	_, err := e.conversations.AddParticipant(ctx, id, "bob", "dave")
	assertKind(t, apperr.KindForbidden, err)

	v, err := e.conversations.AddParticipant(ctx, id, "alice", "dave")
	require.NoError(t, err)
	assert.Len(t, v.Participants, 4)
	assert.Zero(t, e.unread(t, id, "dave"))
	for _, u := range []string{"alice", "bob", "carol", "dave"} {
		assert.Len(t, e.events.find("user:"+u, model.EventGroupParticipantAdded), 1, u)
	}

	_, err = e.conversations.AddParticipant(ctx, id, "alice", "dave")
	assertKind(t, apperr.KindConflict, err)

	_, err = e.conversations.AddParticipant(ctx, id, "alice", "mallory")
	assertKind(t, apperr.KindForbidden, err)
}

func TestRemoveParticipant(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := newGroup(t, e, "bob", "carol", "dave")

	_, err := e.conversations.RemoveParticipant(ctx, id, "bob", "carol")
	assertKind(t, apperr.KindForbidden, err)

	_, err = e.conversations.RemoveParticipant(ctx, id, "dave", "dave")
	require.NoError(t, err, "anyone may leave")
	assert.Len(t, e.events.find("user:dave", model.EventGroupRemoved), 1)
	assert.Len(t, e.events.find("user:bob", model.EventGroupParticipantRemoved), 1)

	_, err = e.conversations.RemoveParticipant(ctx, id, "alice", "carol")
	assertKind(t, apperr.KindConflict, err)

	_, err = e.conversations.RemoveParticipant(ctx, id, "alice", "dave")
	assertKind(t, apperr.KindNotFound, err)

	_, err = e.conversations.Get(ctx, id, "dave")
	assertKind(t, apperr.KindForbidden, err)
}

func TestAdminPromotionAndDemotion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := newGroup(t, e, "bob", "carol")

	_, err := e.conversations.PromoteAdmin(ctx, id, "bob", "carol")
	assertKind(t, apperr.KindForbidden, err)

	v, err := e.conversations.PromoteAdmin(ctx, id, "alice", "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, v.Admins)
	assert.Len(t, e.events.find("user:carol", model.EventGroupAdminAdded), 1)

	_, err = e.conversations.PromoteAdmin(ctx, id, "alice", "bob")
	assertKind(t, apperr.KindConflict, err)

	v, err = e.conversations.DemoteAdmin(ctx, id, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, v.Admins)

	_, err = e.conversations.DemoteAdmin(ctx, id, "bob", "bob")
	assertKind(t, apperr.KindForbidden, err)

	_, err = e.conversations.DemoteAdmin(ctx, id, "bob", "carol")
	assertKind(t, apperr.KindConflict, err)

	stored, err := e.convs.Get(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Admins)
}

func TestUpdateGroup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := newGroup(t, e, "bob", "carol")
	name := "Renamed"
	blank := " "

	_, err := e.conversations.UpdateGroup(ctx, id, "bob", model.GroupPatch{Name: &name})
	assertKind(t, apperr.KindForbidden, err)
	_, err = e.conversations.UpdateGroup(ctx, id, "alice", model.GroupPatch{Name: &blank})
	assertKind(t, apperr.KindValidation, err)
	_, err = e.conversations.UpdateGroup(ctx, id, "alice", model.GroupPatch{})
	assertKind(t, apperr.KindValidation, err)

	v, err := e.conversations.UpdateGroup(ctx, id, "alice", model.GroupPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", v.Name)
	assert.Len(t, e.events.find("user:bob", model.EventGroupUpdated), 1)

	direct, err := e.conversations.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = e.conversations.UpdateGroup(ctx, direct.ID, "alice", model.GroupPatch{Name: &name})
	assertKind(t, apperr.KindValidation, err)
}

func TestListOrdersAndFiltersConversations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	withBob := e.send(t, "alice", &model.SendMessageRequest{Recipient: "bob", Content: "old"})
	e.clock.Advance(time.Minute)
	withCarol := e.send(t, "alice", &model.SendMessageRequest{Recipient: "carol", Content: "new"})

	// A direct conversation that predates mallory's block.
	require.NoError(t, e.convs.Create(ctx, &model.Conversation{
		ID:            "blocked",
		Kind:          model.KindDirect,
		Participants:  []string{"alice", "mallory"},
		DirectKey:     model.DirectKey("alice", "mallory"),
		UnreadCounts:  map[string]int{"alice": 4},
		LastMessageAt: e.clock.Now().Add(time.Hour),
	}))

	list, err := e.conversations.List(ctx, "alice", 1, 20)
	require.NoError(t, err)
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, withCarol.ConversationID, list.Conversations[0].ID)
	assert.Equal(t, withBob.ConversationID, list.Conversations[1].ID)
	assert.Equal(t, 2, list.Total)
	assert.False(t, list.HasMore)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, "new", list.Conversations[0].LastMessage.Content)

	paged, err := e.conversations.List(ctx, "alice", 1, 1)
	require.NoError(t, err)
	assert.Len(t, paged.Conversations, 1)
	assert.True(t, paged.HasMore)

	_, err = e.conversations.GetVisible(ctx, "blocked", "alice")
	assertKind(t, apperr.KindForbidden, err)
}

func TestArchiveIsPerUserAndSticky(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.send(t, "alice", &model.SendMessageRequest{Recipient: "bob", Content: "hi"})

	require.NoError(t, e.conversations.SetArchived(ctx, v.ConversationID, "bob", true))
	e.send(t, "alice", &model.SendMessageRequest{ConversationID: v.ConversationID, Content: "still there"})

	bobList, err := e.conversations.List(ctx, "bob", 1, 20)
	require.NoError(t, err)
	require.Len(t, bobList.Conversations, 1)
	assert.True(t, bobList.Conversations[0].IsArchived)

	aliceList, err := e.conversations.List(ctx, "alice", 1, 20)
	require.NoError(t, err)
	assert.False(t, aliceList.Conversations[0].IsArchived)

	require.NoError(t, e.conversations.SetArchived(ctx, v.ConversationID, "bob", false))
	bobList, err = e.conversations.List(ctx, "bob", 1, 20)
	require.NoError(t, err)
	assert.False(t, bobList.Conversations[0].IsArchived)

	assertKind(t, apperr.KindForbidden, e.conversations.SetArchived(ctx, v.ConversationID, "carol", true))
}

func TestUnreadCounterOperations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := newGroup(t, e, "bob", "carol")

	counts, err := e.conversations.BulkIncrementUnread(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 1, "carol": 1}, counts)

	n, err := e.conversations.IncrementUnread(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := e.conversations.UnreadTotal(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	prev, _, err := e.conversations.ResetUnread(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, prev)
	prev, _, err = e.conversations.ResetUnread(ctx, id, "bob")
	require.NoError(t, err)
	assert.Zero(t, prev)
}

func TestSoftDeleteGroupKeepsRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := newGroup(t, e, "bob", "carol")

	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, e.conversations.SoftDelete(ctx, id, u))
	}
	_, err := e.convs.Get(ctx, id)
	require.NoError(t, err, "groups are never purged by soft delete")

	direct, err := e.conversations.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, e.conversations.SoftDelete(ctx, direct.ID, "alice"))
	require.NoError(t, e.conversations.SoftDelete(ctx, direct.ID, "bob"))
	_, err = e.convs.Get(ctx, direct.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordActivityKeepsNewestLastMessage(t *testing.T) {
	t1 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	c := &model.Conversation{
		ID:           "c",
		Kind:         model.KindDirect,
		Participants: []string{"alice", "bob"},
		UnreadCounts: map[string]int{},
		DeletedBy:    []string{"bob"},
	}
	older := &model.Message{ID: "m1", SenderID: "alice", CreatedAt: t1}
	newer := &model.Message{ID: "m2", SenderID: "bob", CreatedAt: t1.Add(time.Millisecond)}

	require.NoError(t, recordActivity(c, newer))
	require.NoError(t, recordActivity(c, older))

	assert.Equal(t, "m2", c.LastMessageID)
	assert.Equal(t, newer.CreatedAt, c.LastMessageAt)
	assert.Equal(t, newer.CreatedAt, c.UpdatedAt)
	assert.Equal(t, 1, c.UnreadCounts["alice"])
	assert.Equal(t, 1, c.UnreadCounts["bob"], "late updates still count")
	assert.Empty(t, c.DeletedBy)

	tie := &model.Message{ID: "m0", SenderID: "alice", CreatedAt: newer.CreatedAt}
	require.NoError(t, recordActivity(c, tie))
	assert.Equal(t, "m2", c.LastMessageID, "equal timestamps resolve by id")
	tieHigh := &model.Message{ID: "m3", SenderID: "alice", CreatedAt: newer.CreatedAt}
	require.NoError(t, recordActivity(c, tieHigh))
	assert.Equal(t, "m3", c.LastMessageID)
}
