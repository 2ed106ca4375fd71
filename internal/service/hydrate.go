package service

import (
	"context"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

// hydrator performs the bounded joins that turn records into client views.
type hydrator struct {
	users    store.Users
	messages store.Messages
}

func summaryOf(users map[string]*model.User, id string) *model.UserSummary {
	if u, ok := users[id]; ok {
		s := u.Summary()
		return &s
	}
	return &model.UserSummary{ID: id}
}

// messageViews hydrates senders and reply references. Missing users and
// purged reply targets are tolerated.
func (h *hydrator) messageViews(ctx context.Context, msgs []*model.Message) ([]model.MessageView, error) {
	senderIDs := make([]string, 0, len(msgs))
	replyIDs := make([]string, 0)
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.SenderID)
		if m.ReplyTo != "" {
			replyIDs = append(replyIDs, m.ReplyTo)
		}
	}

	users, err := h.users.GetMany(ctx, senderIDs)
	if err != nil {
		return nil, err
	}
	replies, err := h.messages.GetMany(ctx, replyIDs)
	if err != nil {
		return nil, err
	}

	views := make([]model.MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = model.MessageView{Message: *m, Sender: summaryOf(users, m.SenderID)}
		if r, ok := replies[m.ReplyTo]; ok {
			views[i].ReplyToMessage = &model.ReplySummary{
				ID:                 r.ID,
				SenderID:           r.SenderID,
				Content:            truncate(r.Content, previewLength),
				Type:               r.Type,
				DeletedForEveryone: r.DeletedForEveryone,
			}
		}
		if views[i].Reactions == nil {
			views[i].Reactions = []model.Reaction{}
		}
	}
	return views, nil
}

func (h *hydrator) messageView(ctx context.Context, m *model.Message) (*model.MessageView, error) {
	views, err := h.messageViews(ctx, []*model.Message{m})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// conversationView projects c for viewer. users must hold every participant;
// last may be nil.
func conversationView(c *model.Conversation, viewer string, users map[string]*model.User, last *model.MessageView) model.ConversationView {
	participants := make([]model.UserSummary, len(c.Participants))
	for i, p := range c.Participants {
		participants[i] = *summaryOf(users, p)
	}
	archived := false
	for _, id := range c.ArchivedBy {
		if id == viewer {
			archived = true
			break
		}
	}
	return model.ConversationView{
		ID:            c.ID,
		Kind:          c.Kind,
		Participants:  participants,
		Name:          c.Name,
		Description:   c.Description,
		Avatar:        c.Avatar,
		Admins:        c.Admins,
		Creator:       c.Creator,
		LastMessage:   last,
		LastMessageAt: c.LastMessageAt,
		UnreadCount:   c.UnreadCounts[viewer],
		IsArchived:    archived,
		CreatedAt:     c.CreatedAt,
	}
}
