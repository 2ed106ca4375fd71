package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

func TestConversationsDirectKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewConversations()

	key := model.DirectKey("a", "b")
	require.NoError(t, s.Create(ctx, &model.Conversation{ID: "c1", Kind: model.KindDirect, DirectKey: key, Participants: []string{"a", "b"}}))
	err := s.Create(ctx, &model.Conversation{ID: "c2", Kind: model.KindDirect, DirectKey: key, Participants: []string{"b", "a"}})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetDirect(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	require.NoError(t, s.Delete(ctx, "c1"))
	_, err = s.GetDirect(ctx, key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversationsUpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewConversations()
	require.NoError(t, s.Create(ctx, &model.Conversation{ID: "c1", Participants: []string{"a", "b"}, UnreadCounts: map[string]int{}}))

	_, err := s.Update(ctx, "c1", func(c *model.Conversation) error {
		c.UnreadCounts["a"] = 5
		return fmt.Errorf("nope")
	})
	require.Error(t, err)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCounts["a"])
	assert.Zero(t, got.Version)

	updated, err := s.Update(ctx, "c1", func(c *model.Conversation) error {
		c.UnreadCounts["a"]++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UnreadCounts["a"])
	assert.Equal(t, int64(1), updated.Version)
}

func TestConversationsListForUserOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewConversations()
	now := time.Now()

	require.NoError(t, s.Create(ctx, &model.Conversation{ID: "old", Participants: []string{"a", "b"}, LastMessageAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Create(ctx, &model.Conversation{ID: "new1", Participants: []string{"a", "c"}, LastMessageAt: now}))
	require.NoError(t, s.Create(ctx, &model.Conversation{ID: "new2", Participants: []string{"a", "d"}, LastMessageAt: now}))
	require.NoError(t, s.Create(ctx, &model.Conversation{ID: "gone", Participants: []string{"a", "e"}, LastMessageAt: now, DeletedBy: []string{"a"}}))
	require.NoError(t, s.Create(ctx, &model.Conversation{ID: "other", Participants: []string{"x", "y"}, LastMessageAt: now}))

	list, err := s.ListForUser(ctx, "a")
	require.NoError(t, err)

	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"new2", "new1", "old"}, ids)
}

func seedMessages(t *testing.T, s *Messages, conv string, n int) []*model.Message {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	var out []*model.Message
	for i := 0; i < n; i++ {
		m := &model.Message{
			ID:             fmt.Sprintf("m%02d", i),
			ConversationID: conv,
			SenderID:       "a",
			RecipientID:    "b",
			Content:        fmt.Sprintf("message %d", i),
			Type:           model.TypeText,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.Insert(context.Background(), m))
		out = append(out, m)
	}
	return out
}

func TestMessagesListNewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	s := NewMessages()
	seedMessages(t, s, "c1", 5)

	page1, total, err := s.List(ctx, store.MessageQuery{ConversationID: "c1", Viewer: "b", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 2)
	assert.Equal(t, "m04", page1[0].ID)
	assert.Equal(t, "m03", page1[1].ID)

	page3, _, err := s.List(ctx, store.MessageQuery{ConversationID: "c1", Viewer: "b", Offset: 4, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "m00", page3[0].ID)
}

func TestMessagesHiddenForViewer(t *testing.T) {
	ctx := context.Background()
	s := NewMessages()
	seedMessages(t, s, "c1", 3)

	_, err := s.Update(ctx, "m01", func(m *model.Message) error {
		m.DeletedBy = append(m.DeletedBy, "b")
		return nil
	})
	require.NoError(t, err)

	forB, total, err := s.List(ctx, store.MessageQuery{ConversationID: "c1", Viewer: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, m := range forB {
		assert.NotEqual(t, "m01", m.ID)
	}

	_, total, err = s.List(ctx, store.MessageQuery{ConversationID: "c1", Viewer: "a"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestMessagesSearchRanksByScoreThenRecency(t *testing.T) {
	ctx := context.Background()
	s := NewMessages()
	now := time.Now()
	msgs := []*model.Message{
		{ID: "1", ConversationID: "c", SenderID: "a", Content: "pizza tonight?", CreatedAt: now.Add(-3 * time.Minute)},
		{ID: "2", ConversationID: "c", SenderID: "b", Content: "pizza pizza pizza", CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "3", ConversationID: "c", SenderID: "a", Content: "sure, pizza", CreatedAt: now.Add(-time.Minute)},
		{ID: "4", ConversationID: "c", SenderID: "a", Content: "unrelated", CreatedAt: now},
		{ID: "5", ConversationID: "c", SenderID: "b", Content: "", Media: &model.Media{Filename: "pizza-menu.pdf"}, CreatedAt: now},
		{ID: "6", ConversationID: "c", SenderID: "b", Content: model.Tombstone, DeletedForEveryone: true, CreatedAt: now},
	}
	for _, m := range msgs {
		require.NoError(t, s.Insert(ctx, m))
	}

	hits, total, err := s.Search(ctx, store.SearchQuery{MessageQuery: store.MessageQuery{ConversationID: "c", Viewer: "a"}, Text: "Pizza"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	ids := []string{}
	for _, m := range hits {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"2", "5", "3", "1"}, ids)

	hits, _, err = s.Search(ctx, store.SearchQuery{MessageQuery: store.MessageQuery{ConversationID: "c", Viewer: "a"}, Text: "deleted"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMessagesMarkReadDirectAndGroup(t *testing.T) {
	ctx := context.Background()
	s := NewMessages()
	seedMessages(t, s, "c1", 3)
	at := time.Now()

	n, err := s.MarkRead(ctx, "c1", "b", at, at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.MarkRead(ctx, "c1", "b", at, at)
	require.NoError(t, err)
	assert.Zero(t, n, "marking twice changes nothing")

	m, err := s.Get(ctx, "m00")
	require.NoError(t, err)
	assert.True(t, m.IsRead)
	require.NotNil(t, m.ReadAt)

	require.NoError(t, s.Insert(ctx, &model.Message{ID: "g1", ConversationID: "g", SenderID: "a", CreatedAt: at}))
	n, err = s.MarkRead(ctx, "g", "c", at, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.MarkRead(ctx, "g", "a", at, at)
	require.NoError(t, err)
	assert.Zero(t, n, "senders never read their own messages")
}

func TestMessagesHideAllPurgesWhenEveryoneDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewMessages()
	seedMessages(t, s, "c1", 2)
	participants := []string{"a", "b"}

	hidden, err := s.HideAll(ctx, "c1", "a", time.Now(), participants)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hidden)

	_, total, err := s.List(ctx, store.MessageQuery{ConversationID: "c1", Viewer: "a"})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = s.Get(ctx, "m00")
	require.NoError(t, err, "still visible to b")

	_, err = s.HideAll(ctx, "c1", "b", time.Now(), participants)
	require.NoError(t, err)
	_, err = s.Get(ctx, "m00")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMessagesCutoffLeavesLaterMessages(t *testing.T) {
	ctx := context.Background()
	s := NewMessages()
	msgs := seedMessages(t, s, "c1", 3)
	cutoff := msgs[1].CreatedAt

	n, err := s.MarkRead(ctx, "c1", "b", cutoff, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	last, err := s.Get(ctx, "m02")
	require.NoError(t, err)
	assert.False(t, last.IsRead)

	hidden, err := s.HideAll(ctx, "c1", "b", cutoff, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hidden)
	visible, total, err := s.List(ctx, store.MessageQuery{ConversationID: "c1", Viewer: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, visible, 1)
	assert.Equal(t, "m02", visible[0].ID)
}

func TestMessagesExportChronological(t *testing.T) {
	ctx := context.Background()
	s := NewMessages()
	seedMessages(t, s, "c1", 3)

	out, err := s.Export(ctx, "c1", "a")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "m00", out[0].ID)
	assert.Equal(t, "m02", out[2].ID)
}

func TestNotificationsDedupOnlyWithPost(t *testing.T) {
	ctx := context.Background()
	s := NewNotifications()
	now := time.Now()

	first := &model.Notification{ID: "n1", RecipientID: "r", SenderID: "s", Type: model.NotifyReaction, PostID: "p", ReactionType: "like", CreatedAt: now, ExpiresAt: now.Add(model.NotificationTTL)}
	_, dup, err := s.Record(ctx, first, model.DedupWindow)
	require.NoError(t, err)
	assert.False(t, dup)
	require.NoError(t, s.MarkRead(ctx, "n1", "r"))

	second := &model.Notification{ID: "n2", RecipientID: "r", SenderID: "s", Type: model.NotifyReaction, PostID: "p", ReactionType: "love", CreatedAt: now.Add(time.Second), ExpiresAt: now.Add(model.NotificationTTL)}
	stored, dup, err := s.Record(ctx, second, model.DedupWindow)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "n1", stored.ID)
	assert.Equal(t, "love", stored.ReactionType)
	assert.False(t, stored.IsRead)

	for i := 0; i < 2; i++ {
		_, dup, err = s.Record(ctx, &model.Notification{ID: fmt.Sprintf("m%d", i), RecipientID: "r", SenderID: "s", Type: model.NotifyMessage, CreatedAt: now, ExpiresAt: now.Add(model.NotificationTTL)}, model.DedupWindow)
		require.NoError(t, err)
		assert.False(t, dup)
	}

	count, err := s.CountUnread(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestNotificationsScopedToRecipient(t *testing.T) {
	ctx := context.Background()
	s := NewNotifications()
	now := time.Now()
	_, _, err := s.Record(ctx, &model.Notification{ID: "n1", RecipientID: "r", SenderID: "s", Type: model.NotifyFollow, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}, model.DedupWindow)
	require.NoError(t, err)
	_, _, err = s.Record(ctx, &model.Notification{ID: "old", RecipientID: "r", SenderID: "s", Type: model.NotifyFollow, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}, model.DedupWindow)
	require.NoError(t, err)

	assert.ErrorIs(t, s.MarkRead(ctx, "n1", "intruder"), store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "n1", "intruder"), store.ErrNotFound)

	list, total, err := s.List(ctx, store.NotificationQuery{RecipientID: "r", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "expired notifications are not listed")
	assert.Equal(t, "n1", list[0].ID)

	removed, err := s.DeleteAll(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestUsersClearDeviceTokenOnlyWhenCurrent(t *testing.T) {
	ctx := context.Background()
	s := NewUsers(&model.User{ID: "u", DeviceToken: "new"})

	require.NoError(t, s.ClearDeviceToken(ctx, "u", "old"))
	u, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "new", u.DeviceToken)

	require.NoError(t, s.ClearDeviceToken(ctx, "u", "new"))
	u, err = s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, u.DeviceToken)
}
