package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/cache"
	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/push"
	"github.com/freetalk/messaging/internal/store"
	"github.com/freetalk/messaging/pkg/logger"
	"github.com/freetalk/messaging/pkg/metrics"
	"github.com/freetalk/messaging/pkg/tracing"
)

var tracer = tracing.Tracer("github.com/freetalk/messaging/internal/service")

// MessageService is the delivery engine. It turns requests into durable
// messages, keeps conversations consistent and fans events out.
type MessageService struct {
	convs         store.Conversations
	messages      store.Messages
	users         store.Users
	conversations *ConversationService
	notifications *NotificationService
	emitter       Emitter
	presence      Presence
	pusher        Pusher
	lists         cache.ConversationLists
	hydrate       *hydrator
	locks         stripedLock
	logger        *logger.Logger
	now           func() time.Time
}

// MessageDeps groups the collaborators of the delivery engine.
type MessageDeps struct {
	Conversations store.Conversations
	Messages      store.Messages
	Users         store.Users
	Emitter       Emitter
	Presence      Presence
	Pusher        Pusher
	Lists         cache.ConversationLists
}

// NewMessageService creates the delivery engine.
func NewMessageService(deps MessageDeps, conversations *ConversationService, notifications *NotificationService, log *logger.Logger) *MessageService {
	lists := deps.Lists
	if lists == nil {
		lists = cache.Noop{}
	}
	return &MessageService{
		convs:         deps.Conversations,
		messages:      deps.Messages,
		users:         deps.Users,
		conversations: conversations,
		notifications: notifications,
		emitter:       deps.Emitter,
		presence:      deps.Presence,
		pusher:        deps.Pusher,
		lists:         lists,
		hydrate:       &hydrator{users: deps.Users, messages: deps.Messages},
		logger:        log,
		now:           time.Now,
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Send persists a message and delivers it to every participant.
func (s *MessageService) Send(ctx context.Context, senderID string, req *model.SendMessageRequest) (*model.MessageView, error) {
	ctx, span := tracer.Start(ctx, "message.send")
	defer span.End()

	req.Content = strings.TrimSpace(req.Content)
	if err := validateContent(req.Content); err != nil {
		return nil, fail(span, err)
	}
	msgType, err := deriveType(req)
	if err != nil {
		return nil, fail(span, err)
	}

	conv, err := s.resolveConversation(ctx, senderID, req)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.String("conversation.kind", string(conv.Kind)),
		attribute.String("message.type", string(msgType)),
	)

	if req.ReplyTo != "" {
		target, err := s.messages.Get(ctx, req.ReplyTo)
		if err != nil || target.ConversationID != conv.ID {
			return nil, fail(span, apperr.Validation("reply target not found in this conversation"))
		}
	}

	m := &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		RecipientID:    conv.Counterparty(senderID),
		Content:        req.Content,
		Type:           msgType,
		Media:          mediaFor(msgType, req),
		SharedPostID:   req.SharedPostID,
		SharedStoryID:  req.SharedStoryID,
		ReplyTo:        req.ReplyTo,
		Reactions:      []model.Reaction{},
		DeletedBy:      []string{},
	}

	conv, err = s.persist(ctx, conv.ID, m)
	if err != nil {
		return nil, fail(span, err)
	}
	metrics.RecordMessage(string(m.Type), string(conv.Kind))
	s.lists.Invalidate(ctx, conv.Participants...)

	view, err := s.hydrate.messageView(ctx, m)
	if err != nil {
		// The message is durable; deliver it without hydration.
		s.logger.Warn("hydrate sent message", zap.String("message_id", m.ID), zap.Error(err))
		view = &model.MessageView{Message: *m}
	}
	s.deliver(ctx, conv, view)
	return view, nil
}

// resolveConversation finds the target conversation and authorizes the sender.
func (s *MessageService) resolveConversation(ctx context.Context, senderID string, req *model.SendMessageRequest) (*model.Conversation, error) {
	if req.ConversationID != "" {
		return s.conversations.GetVisible(ctx, req.ConversationID, senderID)
	}
	if req.Recipient == "" {
		return nil, apperr.Validation("conversationId or recipient is required")
	}
	return s.conversations.FindOrCreateDirect(ctx, senderID, req.Recipient)
}

func mediaFor(t model.MessageType, req *model.SendMessageRequest) *model.Media {
	switch {
	case t == model.TypeGIF:
		return &model.Media{URL: req.GifURL, MimeType: "image/gif"}
	case req.Upload != nil && (t == model.TypeImage || t == model.TypeVideo || t == model.TypeVoice || t == model.TypeDocument):
		media := *req.Upload
		if t == model.TypeVoice {
			media.Duration = req.Duration
			media.Waveform = slices.Clone(req.Waveform)
		}
		return &media
	}
	return nil
}

// persist inserts m and applies it to its conversation as one unit per
// conversation. Timestamps are strictly increasing within a conversation.
func (s *MessageService) persist(ctx context.Context, conversationID string, m *model.Message) (*model.Conversation, error) {
	unlock := s.locks.lock(conversationID)
	defer unlock()

	current, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, storeErr(err, "conversation not found")
	}
	m.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	if !current.LastMessageAt.IsZero() && !m.CreatedAt.After(current.LastMessageAt) {
		m.CreatedAt = current.LastMessageAt.Add(time.Millisecond)
	}

	if err := s.messages.Insert(ctx, m); err != nil {
		return nil, storeErr(err, "conversation not found")
	}
	conv, err := s.convs.Update(ctx, conversationID, func(c *model.Conversation) error {
		return recordActivity(c, m)
	})
	if err != nil {
		// Keep message and conversation consistent: undo the insert.
		if derr := s.messages.Delete(context.WithoutCancel(ctx), m.ID); derr != nil {
			s.logger.Error("compensating delete failed", zap.String("message_id", m.ID), zap.Error(derr))
		}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.Unavailable(err, "could not update conversation, retry")
	}
	return conv, nil
}

// deliver runs the best-effort steps of a send: notifications, events and pushes.
func (s *MessageService) deliver(ctx context.Context, conv *model.Conversation, view *model.MessageView) {
	sender := view.SenderID
	recipients := conv.Others(sender)
	preview := previewText(&view.Message)

	users, err := s.users.GetMany(ctx, conv.Participants)
	if err != nil {
		s.logger.Warn("load recipients", zap.String("conversation_id", conv.ID), zap.Error(err))
		users = map[string]*model.User{}
	}

	recorded := make([]*model.Notification, 0, len(recipients))
	for _, r := range recipients {
		n, err := s.notifications.Record(ctx, &model.Notification{
			RecipientID:    r,
			SenderID:       sender,
			Type:           model.NotifyMessage,
			ConversationID: conv.ID,
			MessageID:      view.ID,
			Preview:        preview,
		})
		if err != nil {
			s.logger.Warn("record message notification", zap.String("recipient", r), zap.Error(err))
			continue
		}
		recorded = append(recorded, n)
	}

	for _, r := range recipients {
		emit(ctx, s.emitter, s.logger, model.UserRoom(r), model.EventMessageNew, view)
	}
	emit(ctx, s.emitter, s.logger, model.UserRoom(sender), model.EventMessageNew, view)

	for _, r := range recipients {
		emit(ctx, s.emitter, s.logger, model.UserRoom(r), model.EventMessageUnreadCount, model.UnreadCountEvent{
			ConversationID: conv.ID,
			UnreadCount:    conv.UnreadCounts[r],
			Increment:      1,
		})
	}
	for _, n := range recorded {
		s.notifications.Publish(ctx, n)
	}

	if ctx.Err() != nil {
		return
	}
	title := "New message"
	if u, ok := users[sender]; ok && u.DisplayName != "" {
		title = u.DisplayName
	}
	if conv.Kind == model.KindGroup && conv.Name != "" {
		title = title + " in " + conv.Name
	}
	for _, r := range recipients {
		u := users[r]
		if !push.Eligible(u, conv.ID) || s.presence.IsOnline(ctx, r) {
			continue
		}
		s.pusher.Dispatch(r, push.Notification{
			Token: u.DeviceToken,
			Title: title,
			Body:  preview,
			Data: map[string]string{
				"type":           string(model.NotifyMessage),
				"conversationId": conv.ID,
				"messageId":      view.ID,
				"senderId":       sender,
			},
		})
	}
}

// Fetch returns a page of the conversation visible to userID, newest first.
func (s *MessageService) Fetch(ctx context.Context, conversationID, userID string, page, limit int) (*model.ListMessagesResponse, error) {
	if _, err := s.conversations.GetVisible(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	page, limit, offset := Page(page, limit)
	msgs, total, err := s.messages.List(ctx, store.MessageQuery{
		ConversationID: conversationID,
		Viewer:         userID,
		Offset:         offset,
		Limit:          limit,
	})
	if err != nil {
		return nil, storeErr(err, "conversation not found")
	}
	return s.listResponse(ctx, msgs, total, page, limit, offset)
}

// Search ranks the caller's visible messages by text relevance then recency.
func (s *MessageService) Search(ctx context.Context, conversationID, userID, query string, page, limit int) (*model.ListMessagesResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("search query is required")
	}
	if _, err := s.conversations.GetVisible(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	page, limit, offset := Page(page, limit)
	msgs, total, err := s.messages.Search(ctx, store.SearchQuery{
		MessageQuery: store.MessageQuery{
			ConversationID: conversationID,
			Viewer:         userID,
			Offset:         offset,
			Limit:          limit,
		},
		Text: query,
	})
	if err != nil {
		return nil, storeErr(err, "conversation not found")
	}
	return s.listResponse(ctx, msgs, total, page, limit, offset)
}

func (s *MessageService) listResponse(ctx context.Context, msgs []*model.Message, total, page, limit, offset int) (*model.ListMessagesResponse, error) {
	views, err := s.hydrate.messageViews(ctx, msgs)
	if err != nil {
		return nil, storeErr(err, "message not found")
	}
	return &model.ListMessagesResponse{
		Messages: views,
		Page:     page,
		Limit:    limit,
		Total:    total,
		HasMore:  offset+len(msgs) < total,
	}, nil
}

// MarkReadResult reports the outcome of a mark-as-read.
type MarkReadResult struct {
	ConversationID string `json:"conversationId"`
	MarkedCount    int64  `json:"markedCount"`
	PreviousUnread int    `json:"previousUnread"`
}

// MarkRead flags every message addressed to userID as read and resets the
// unread counter. Repeating it is harmless and reports a zero delta.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, userID string) (*MarkReadResult, error) {
	ctx, span := tracer.Start(ctx, "message.mark_read", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	conv, err := s.conversations.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, fail(span, err)
	}

	// Sends on other nodes are not covered by the lock; the cutoff leaves
	// their messages unread along with their counter increment.
	unlock := s.locks.lock(conversationID)
	at := s.now().UTC()
	previous, cutoff, err := s.conversations.ResetUnread(ctx, conversationID, userID)
	if err != nil {
		unlock()
		return nil, fail(span, err)
	}
	marked, err := s.messages.MarkRead(ctx, conversationID, userID, cutoff, at)
	unlock()
	if err != nil {
		return nil, fail(span, storeErr(err, "conversation not found"))
	}

	receipt := model.ReadReceiptEvent{
		ConversationID: conversationID,
		ReadBy:         userID,
		ReadAt:         at.Format(time.RFC3339Nano),
		Count:          marked,
	}
	for _, other := range conv.Others(userID) {
		emit(ctx, s.emitter, s.logger, model.UserRoom(other), model.EventMessageRead, receipt)
	}
	emit(ctx, s.emitter, s.logger, model.UserRoom(userID), model.EventMessageUnreadCount, model.UnreadCountEvent{
		ConversationID: conversationID,
		UnreadCount:    0,
		Increment:      -previous,
	})
	return &MarkReadResult{ConversationID: conversationID, MarkedCount: marked, PreviousUnread: previous}, nil
}

// Typing relays an advisory typing indicator to the other participants,
// skipping anyone in a block relationship with userID.
func (s *MessageService) Typing(ctx context.Context, conversationID, userID string, isTyping bool) error {
	conv, err := s.conversations.GetVisible(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	users, err := s.users.GetMany(ctx, conv.Participants)
	if err != nil {
		return storeErr(err, "user not found")
	}
	event := model.EventTypingStop
	if isTyping {
		event = model.EventTypingStart
	}
	payload := model.TypingEvent{ConversationID: conversationID, UserID: userID}
	if u, ok := users[userID]; ok {
		payload.DisplayName = u.DisplayName
	}
	for _, other := range conv.Others(userID) {
		if model.MutualBlock(users[userID], users[other]) {
			continue
		}
		emit(ctx, s.emitter, s.logger, model.UserRoom(other), event, payload)
	}
	return nil
}

// loadForParticipant fetches a message userID can see together with its conversation.
func (s *MessageService) loadForParticipant(ctx context.Context, messageID, userID string) (*model.Message, *model.Conversation, error) {
	m, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, nil, storeErr(err, "message not found")
	}
	conv, err := s.conversations.Get(ctx, m.ConversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	if m.HiddenFor(userID) {
		return nil, nil, apperr.NotFound("message not found")
	}
	return m, conv, nil
}

// React sets userID's single reaction on a message.
func (s *MessageService) React(ctx context.Context, messageID, userID, emoji string) (*model.Message, error) {
	ctx, span := tracer.Start(ctx, "message.react", trace.WithAttributes(attribute.String("message.id", messageID)))
	defer span.End()

	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, fail(span, apperr.Validation("emoji is required"))
	}
	m, conv, err := s.loadForParticipant(ctx, messageID, userID)
	if err != nil {
		return nil, fail(span, err)
	}
	if conv.Kind == model.KindDirect {
		if err := s.conversations.ensureNotBlocked(ctx, userID, conv.Counterparty(userID)); err != nil {
			return nil, fail(span, err)
		}
	}

	updated, err := s.messages.Update(ctx, m.ID, func(m *model.Message) error {
		if m.DeletedForEveryone {
			return apperr.Conflict("message was deleted")
		}
		m.Reactions = slices.DeleteFunc(m.Reactions, func(r model.Reaction) bool { return r.UserID == userID })
		m.Reactions = append(m.Reactions, model.Reaction{UserID: userID, Emoji: emoji, CreatedAt: s.now().UTC()})
		return nil
	})
	if err != nil {
		return nil, fail(span, storeErr(err, "message not found"))
	}
	s.lists.Invalidate(ctx, conv.Participants...)

	event := model.ReactionEvent{
		MessageID:      updated.ID,
		ConversationID: updated.ConversationID,
		UserID:         userID,
		Emoji:          emoji,
		Reactions:      updated.Reactions,
	}
	for _, p := range conv.Participants {
		emit(ctx, s.emitter, s.logger, model.UserRoom(p), model.EventMessageReacted, event)
	}

	if updated.SenderID != userID {
		_, err := s.notifications.Notify(ctx, &model.Notification{
			RecipientID:    updated.SenderID,
			SenderID:       userID,
			Type:           model.NotifyMessageReaction,
			ConversationID: updated.ConversationID,
			MessageID:      updated.ID,
			ReactionType:   emoji,
			Preview:        "Reacted " + emoji + " to your message",
		}, true)
		if err != nil {
			s.logger.Warn("reaction notification", zap.String("message_id", updated.ID), zap.Error(err))
		}
	}
	return updated, nil
}

// Unreact removes userID's reaction. Removing an absent reaction is a no-op.
func (s *MessageService) Unreact(ctx context.Context, messageID, userID string) (*model.Message, error) {
	_, conv, err := s.loadForParticipant(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	updated, err := s.messages.Update(ctx, messageID, func(m *model.Message) error {
		m.Reactions = slices.DeleteFunc(m.Reactions, func(r model.Reaction) bool { return r.UserID == userID })
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "message not found")
	}
	s.lists.Invalidate(ctx, conv.Participants...)

	event := model.ReactionEvent{
		MessageID:      updated.ID,
		ConversationID: updated.ConversationID,
		UserID:         userID,
		Reactions:      updated.Reactions,
	}
	for _, p := range conv.Participants {
		emit(ctx, s.emitter, s.logger, model.UserRoom(p), model.EventMessageUnreacted, event)
	}
	return updated, nil
}

// DeleteForEveryone replaces the payload of a recent message with the tombstone.
func (s *MessageService) DeleteForEveryone(ctx context.Context, messageID, userID string) (*model.Message, error) {
	m, conv, err := s.loadForParticipant(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, apperr.Forbidden("only the sender can delete a message for everyone")
	}
	if m.DeletedForEveryone {
		return m, nil
	}
	if s.now().Sub(m.CreatedAt) > model.DeleteForEveryoneWindow {
		return nil, apperr.Conflict("messages can only be deleted for everyone within 1 hour")
	}

	updated, err := s.messages.Update(ctx, messageID, func(m *model.Message) error {
		m.Content = model.Tombstone
		m.Media = nil
		m.SharedPostID = ""
		m.SharedStoryID = ""
		m.Reactions = []model.Reaction{}
		m.DeletedForEveryone = true
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "message not found")
	}
	s.lists.Invalidate(ctx, conv.Participants...)

	event := model.MessageDeletedEvent{
		MessageID:          updated.ID,
		ConversationID:     updated.ConversationID,
		DeletedForEveryone: true,
		Content:            model.Tombstone,
	}
	for _, p := range conv.Participants {
		emit(ctx, s.emitter, s.logger, model.UserRoom(p), model.EventMessageDeleted, event)
	}
	return updated, nil
}

// DeleteForMe hides a message from userID. A message hidden by every
// participant is removed.
func (s *MessageService) DeleteForMe(ctx context.Context, messageID, userID string) error {
	_, conv, err := s.loadForParticipant(ctx, messageID, userID)
	if err != nil {
		return err
	}
	updated, err := s.messages.Update(ctx, messageID, func(m *model.Message) error {
		if !m.HiddenFor(userID) {
			m.DeletedBy = append(m.DeletedBy, userID)
		}
		return nil
	})
	if err != nil {
		return storeErr(err, "message not found")
	}
	if containsAll(updated.DeletedBy, conv.Participants) {
		if err := s.messages.Delete(ctx, messageID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return storeErr(err, "message not found")
		}
	}
	s.lists.Invalidate(ctx, userID)
	emit(ctx, s.emitter, s.logger, model.UserRoom(userID), model.EventMessageDeleted, model.MessageDeletedEvent{
		MessageID:      messageID,
		ConversationID: conv.ID,
	})
	return nil
}

// Delete removes a message for everyone when the caller sent it within the
// window, otherwise for the caller only. It reports which one applied.
func (s *MessageService) Delete(ctx context.Context, messageID, userID string) (forEveryone bool, err error) {
	m, _, err := s.loadForParticipant(ctx, messageID, userID)
	if err != nil {
		return false, err
	}
	if m.SenderID == userID && !m.DeletedForEveryone && s.now().Sub(m.CreatedAt) <= model.DeleteForEveryoneWindow {
		_, err := s.DeleteForEveryone(ctx, messageID, userID)
		return err == nil, err
	}
	return false, s.DeleteForMe(ctx, messageID, userID)
}

// ClearConversation hides every current message from userID and resets the
// unread counter. It returns the number of messages affected.
func (s *MessageService) ClearConversation(ctx context.Context, conversationID, userID string) (int64, error) {
	conv, err := s.conversations.Get(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	unlock := s.locks.lock(conversationID)
	previous, cutoff, err := s.conversations.ResetUnread(ctx, conversationID, userID)
	if err != nil {
		unlock()
		return 0, err
	}
	n, err := s.messages.HideAll(ctx, conversationID, userID, cutoff, conv.Participants)
	unlock()
	if err != nil {
		return 0, storeErr(err, "conversation not found")
	}
	emit(ctx, s.emitter, s.logger, model.UserRoom(userID), model.EventMessageUnreadCount, model.UnreadCountEvent{
		ConversationID: conversationID,
		UnreadCount:    0,
		Increment:      -previous,
	})
	return n, nil
}

// DeleteConversation clears the conversation and hides it from userID.
func (s *MessageService) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if _, err := s.ClearConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.conversations.SoftDelete(ctx, conversationID, userID)
}
