package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/push"
	"github.com/freetalk/messaging/internal/store"
	"github.com/freetalk/messaging/pkg/logger"
	"github.com/freetalk/messaging/pkg/metrics"
)

// NotificationService records typed notifications and keeps clients'
// unread badges current.
type NotificationService struct {
	store    store.Notifications
	users    store.Users
	emitter  Emitter
	presence Presence
	pusher   Pusher
	logger   *logger.Logger
	now      func() time.Time
}

func NewNotificationService(
	notifications store.Notifications,
	users store.Users,
	emitter Emitter,
	presence Presence,
	pusher Pusher,
	log *logger.Logger,
) *NotificationService {
	return &NotificationService{
		store:    notifications,
		users:    users,
		emitter:  emitter,
		presence: presence,
		pusher:   pusher,
		logger:   log,
		now:      time.Now,
	}
}

// Record persists n, collapsing repeats within the dedup window. It emits nothing.
func (s *NotificationService) Record(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	if n.RecipientID == "" || n.SenderID == "" || n.Type == "" {
		return nil, apperr.Validation("notification requires recipient, sender and type")
	}
	now := s.now()
	n.ID = newID()
	n.IsRead = false
	n.CreatedAt = now
	n.ExpiresAt = now.Add(model.NotificationTTL)

	stored, dedup, err := s.store.Record(ctx, n, model.DedupWindow)
	if err != nil {
		return nil, storeErr(err, "notification not found")
	}
	metrics.RecordNotification(string(n.Type), dedup)
	return stored, nil
}

// Publish emits notification:new and the fresh unread badge to the recipient.
func (s *NotificationService) Publish(ctx context.Context, n *model.Notification) {
	view := model.NotificationView{Notification: *n}
	if sender, err := s.users.Get(ctx, n.SenderID); err == nil {
		summary := sender.Summary()
		view.Sender = &summary
	}
	room := model.UserRoom(n.RecipientID)
	emit(ctx, s.emitter, s.logger, room, model.EventNotificationNew, view)
	s.publishCount(ctx, n.RecipientID)
}

// Notify records and publishes n. With withPush set an offline eligible
// recipient also gets a mobile push.
func (s *NotificationService) Notify(ctx context.Context, n *model.Notification, withPush bool) (*model.Notification, error) {
	if n.RecipientID == n.SenderID {
		return nil, nil
	}
	stored, err := s.Record(ctx, n)
	if err != nil {
		return nil, err
	}
	s.Publish(ctx, stored)
	if withPush {
		s.push(ctx, stored)
	}
	return stored, nil
}

func (s *NotificationService) push(ctx context.Context, n *model.Notification) {
	if s.presence.IsOnline(ctx, n.RecipientID) {
		return
	}
	users, err := s.users.GetMany(ctx, []string{n.RecipientID, n.SenderID})
	if err != nil {
		s.logger.Warn("push lookup failed", zap.String("recipient", n.RecipientID), zap.Error(err))
		return
	}
	recipient := users[n.RecipientID]
	if !push.Eligible(recipient, n.ConversationID) {
		return
	}
	title := "FreeTalk"
	if sender, ok := users[n.SenderID]; ok && sender.DisplayName != "" {
		title = sender.DisplayName
	}
	s.pusher.Dispatch(n.RecipientID, push.Notification{
		Token: recipient.DeviceToken,
		Title: title,
		Body:  n.Preview,
		Data: map[string]string{
			"type":           string(n.Type),
			"notificationId": n.ID,
			"conversationId": n.ConversationID,
			"postId":         n.PostID,
		},
	})
}

// List returns a page of live notifications, newest first.
func (s *NotificationService) List(ctx context.Context, recipientID string, page, limit int, unreadOnly bool) (*model.ListNotificationsResponse, error) {
	page, limit, offset := Page(page, limit)
	items, total, err := s.store.List(ctx, store.NotificationQuery{
		RecipientID: recipientID,
		UnreadOnly:  unreadOnly,
		Offset:      offset,
		Limit:       limit,
	})
	if err != nil {
		return nil, storeErr(err, "notification not found")
	}
	unread, err := s.store.CountUnread(ctx, recipientID)
	if err != nil {
		return nil, storeErr(err, "notification not found")
	}

	senderIDs := make([]string, 0, len(items))
	for _, n := range items {
		senderIDs = append(senderIDs, n.SenderID)
	}
	users, err := s.users.GetMany(ctx, senderIDs)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}

	views := make([]model.NotificationView, len(items))
	for i, n := range items {
		views[i] = model.NotificationView{Notification: *n, Sender: summaryOf(users, n.SenderID)}
	}
	return &model.ListNotificationsResponse{
		Notifications: views,
		Page:          page,
		Limit:         limit,
		Total:         total,
		UnreadCount:   unread,
		HasMore:       offset+len(items) < total,
	}, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	n, err := s.store.CountUnread(ctx, recipientID)
	return n, storeErr(err, "notification not found")
}

func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	if err := s.store.MarkRead(ctx, id, recipientID); err != nil {
		return storeErr(err, "notification not found")
	}
	s.publishCount(ctx, recipientID)
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, storeErr(err, "notification not found")
	}
	s.publishCount(ctx, recipientID)
	return n, nil
}

func (s *NotificationService) Delete(ctx context.Context, id, recipientID string) error {
	if err := s.store.Delete(ctx, id, recipientID); err != nil {
		return storeErr(err, "notification not found")
	}
	s.publishCount(ctx, recipientID)
	return nil
}

func (s *NotificationService) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.store.DeleteAll(ctx, recipientID)
	if err != nil {
		return 0, storeErr(err, "notification not found")
	}
	s.publishCount(ctx, recipientID)
	return n, nil
}

func (s *NotificationService) publishCount(ctx context.Context, recipientID string) {
	count, err := s.store.CountUnread(ctx, recipientID)
	if err != nil {
		s.logger.Warn("unread count failed", zap.String("recipient", recipientID), zap.Error(err))
		return
	}
	emit(ctx, s.emitter, s.logger, model.UserRoom(recipientID), model.EventNotificationUnreadCount, model.NotificationCountEvent{UnreadCount: count})
}
