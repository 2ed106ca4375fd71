package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/model"
)

func reaction(emoji string) *model.Notification {
	return &model.Notification{
		RecipientID:  "bob",
		SenderID:     "alice",
		Type:         model.NotifyReaction,
		PostID:       "p1",
		ReactionType: emoji,
		Preview:      "reacted to your post",
	}
}

func TestDuplicateNotificationIsRefreshed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.presence.set("bob", true)

	first, err := e.notifications.Notify(ctx, reaction("like"), true)
	require.NoError(t, err)
	e.clock.Advance(30 * time.Second)
	second, err := e.notifications.Notify(ctx, reaction("love"), true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := e.notifications.List(ctx, "bob", 1, 20, false)
	require.NoError(t, err)
	require.Len(t, list.Notifications, 1)
	n := list.Notifications[0]
	assert.Equal(t, "love", n.ReactionType)
	assert.True(t, n.CreatedAt.Equal(e.clock.Now()))
	assert.False(t, n.IsRead)
	require.NotNil(t, n.Sender)
	assert.Equal(t, "Alice", n.Sender.DisplayName)

	assert.Len(t, e.events.find("user:bob", model.EventNotificationNew), 2)
	counts := e.events.find("user:bob", model.EventNotificationUnreadCount)
	require.Len(t, counts, 2)
	assert.Equal(t, model.NotificationCountEvent{UnreadCount: 1}, counts[1].Payload)
}

func TestNotificationOutsideWindowIsNew(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.notifications.Notify(ctx, reaction("like"), false)
	require.NoError(t, err)
	e.clock.Advance(61 * time.Second)
	_, err = e.notifications.Notify(ctx, reaction("like"), false)
	require.NoError(t, err)

	count, err := e.notifications.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNotifySelfIsSkipped(t *testing.T) {
	e := newEnv(t)
	n, err := e.notifications.Notify(context.Background(), &model.Notification{
		RecipientID: "alice", SenderID: "alice", Type: model.NotifyReaction, PostID: "p1",
	}, true)
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Zero(t, e.events.count())
}

func TestNotifyRequiresFields(t *testing.T) {
	e := newEnv(t)
	_, err := e.notifications.Notify(context.Background(), &model.Notification{RecipientID: "bob"}, false)
	assertKind(t, apperr.KindValidation, err)
}

func TestNotifyPushesOfflineRecipients(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.notifications.Notify(ctx, reaction("like"), true)
	require.NoError(t, err)
	pushes := e.pushes.to("bob")
	require.Len(t, pushes, 1)
	assert.Equal(t, "Alice", pushes[0].Title)
	assert.Equal(t, "reacted to your post", pushes[0].Body)
	assert.Equal(t, string(model.NotifyReaction), pushes[0].Data["type"])

	e.presence.set("bob", true)
	_, err = e.notifications.Notify(ctx, &model.Notification{RecipientID: "bob", SenderID: "carol", Type: model.NotifyFollow}, true)
	require.NoError(t, err)
	assert.Len(t, e.pushes.to("bob"), 1, "online users are not pushed")

	_, err = e.notifications.Notify(ctx, &model.Notification{RecipientID: "carol", SenderID: "bob", Type: model.NotifyFollow}, true)
	require.NoError(t, err)
	assert.Empty(t, e.pushes.to("carol"), "push disabled")
}

func TestNotificationReadAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.notifications.Notify(ctx, &model.Notification{RecipientID: "bob", SenderID: "alice", Type: model.NotifyFollow}, false)
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	_, err = e.notifications.Notify(ctx, &model.Notification{RecipientID: "bob", SenderID: "carol", Type: model.NotifyPoke}, false)
	require.NoError(t, err)

	assertKind(t, apperr.KindNotFound, e.notifications.MarkRead(ctx, a.ID, "carol"))

	require.NoError(t, e.notifications.MarkRead(ctx, a.ID, "bob"))
	unread, err := e.notifications.List(ctx, "bob", 1, 20, true)
	require.NoError(t, err)
	require.Len(t, unread.Notifications, 1)
	assert.Equal(t, model.NotifyPoke, unread.Notifications[0].Type)
	assert.Equal(t, 1, unread.UnreadCount)

	e.events.reset()
	marked, err := e.notifications.MarkAllRead(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, marked)
	counts := e.events.find("user:bob", model.EventNotificationUnreadCount)
	require.Len(t, counts, 1)
	assert.Equal(t, model.NotificationCountEvent{UnreadCount: 0}, counts[0].Payload)

	require.NoError(t, e.notifications.Delete(ctx, a.ID, "bob"))
	assertKind(t, apperr.KindNotFound, e.notifications.Delete(ctx, a.ID, "bob"))

	removed, err := e.notifications.DeleteAll(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	all, err := e.notifications.List(ctx, "bob", 1, 20, false)
	require.NoError(t, err)
	assert.Empty(t, all.Notifications)
	assert.Zero(t, all.Total)
}

func TestNotificationsExpire(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.notifications.Notify(ctx, &model.Notification{RecipientID: "bob", SenderID: "alice", Type: model.NotifyFollow}, false)
	require.NoError(t, err)

	e.clock.Advance(model.NotificationTTL + time.Minute)
	count, err := e.notifications.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMessageNotificationsAreNotDeduplicated(t *testing.T) {
	e := newEnv(t)
	v := e.send(t, "alice", &model.SendMessageRequest{Recipient: "bob", Content: "one"})
	e.send(t, "alice", &model.SendMessageRequest{ConversationID: v.ConversationID, Content: "two"})

	count, err := e.notifications.UnreadCount(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
