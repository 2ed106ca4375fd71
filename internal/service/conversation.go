package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/cache"
	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
	"github.com/freetalk/messaging/pkg/logger"
)

// ConversationService owns conversation membership, group administration
// and the per-user unread and visibility state.
type ConversationService struct {
	convs    store.Conversations
	messages store.Messages
	users    store.Users
	blocks   BlockChecker
	emitter  Emitter
	lists    cache.ConversationLists
	hydrate  *hydrator
	logger   *logger.Logger
	now      func() time.Time
}

// NewConversationService creates a conversation service. lists may be cache.Noop{}.
func NewConversationService(
	convs store.Conversations,
	messages store.Messages,
	users store.Users,
	blocks BlockChecker,
	emitter Emitter,
	lists cache.ConversationLists,
	log *logger.Logger,
) *ConversationService {
	return &ConversationService{
		convs:    convs,
		messages: messages,
		users:    users,
		blocks:   blocks,
		emitter:  emitter,
		lists:    lists,
		hydrate:  &hydrator{users: users, messages: messages},
		logger:   log,
		now:      time.Now,
	}
}

// Get returns the conversation if userID participates in it.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	c, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, storeErr(err, "conversation not found")
	}
	if !c.IsParticipant(userID) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return c, nil
}

// GetVisible is Get plus the block rule: a direct conversation with a
// blocked counterparty is hidden.
func (s *ConversationService) GetVisible(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	c, err := s.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if c.Kind == model.KindDirect {
		if err := s.ensureNotBlocked(ctx, userID, c.Counterparty(userID)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AuthorizeRoom lets participants join the conversation room.
func (s *ConversationService) AuthorizeRoom(ctx context.Context, userID, conversationID string) error {
	_, err := s.GetVisible(ctx, conversationID, userID)
	return err
}

func (s *ConversationService) ensureNotBlocked(ctx context.Context, a, b string) error {
	blocked, err := s.blocks.Blocked(ctx, a, b)
	if err != nil {
		return err
	}
	if blocked {
		return apperr.Forbidden("you cannot message this user")
	}
	return nil
}

// FindOrCreateDirect returns the direct conversation of the unordered pair {a, b},
// creating it on first use.
func (s *ConversationService) FindOrCreateDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	if a == b {
		return nil, apperr.Validation("cannot start a conversation with yourself")
	}
	if _, err := s.users.Get(ctx, b); err != nil {
		return nil, storeErr(err, "user not found")
	}
	if err := s.ensureNotBlocked(ctx, a, b); err != nil {
		return nil, err
	}

	key := model.DirectKey(a, b)
	c, err := s.convs.GetDirect(ctx, key)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr(err, "conversation not found")
	}

	now := s.now()
	c = &model.Conversation{
		ID:           newID(),
		Kind:         model.KindDirect,
		Participants: []string{a, b},
		DirectKey:    key,
		UnreadCounts: map[string]int{a: 0, b: 0},
		DeletedBy:    []string{},
		ArchivedBy:   []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.convs.Create(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a creation race; the winner's record is canonical.
			existing, err := s.convs.GetDirect(ctx, key)
			return existing, storeErr(err, "conversation not found")
		}
		return nil, storeErr(err, "conversation not found")
	}
	s.logger.Info("direct conversation created", zap.String("conversation_id", c.ID))
	return c, nil
}

// View projects a single conversation for viewer with its last message.
func (s *ConversationService) View(ctx context.Context, c *model.Conversation, viewer string) (*model.ConversationView, error) {
	users, err := s.users.GetMany(ctx, c.Participants)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	var last *model.MessageView
	if c.LastMessageID != "" {
		if m, err := s.messages.Get(ctx, c.LastMessageID); err == nil && !m.HiddenFor(viewer) {
			last, err = s.hydrate.messageView(ctx, m)
			if err != nil {
				return nil, storeErr(err, "message not found")
			}
		}
	}
	v := conversationView(c, viewer, users, last)
	return &v, nil
}

// List returns a page of userID's conversations, newest activity first,
// without soft-deleted or blocked ones.
func (s *ConversationService) List(ctx context.Context, userID string, page, limit int) (*model.ListConversationsResponse, error) {
	page, limit, offset := Page(page, limit)
	if cached, ok := s.lists.Get(ctx, userID, page, limit); ok {
		return cached, nil
	}

	all, err := s.convs.ListForUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "conversation not found")
	}

	ids := []string{userID}
	for _, c := range all {
		ids = append(ids, c.Participants...)
	}
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}

	visible := all[:0]
	for _, c := range all {
		if c.Kind == model.KindDirect && model.MutualBlock(users[userID], users[c.Counterparty(userID)]) {
			continue
		}
		visible = append(visible, c)
	}

	total := len(visible)
	start := min(offset, total)
	end := min(start+limit, total)
	pageItems := visible[start:end]

	lastIDs := make([]string, 0, len(pageItems))
	for _, c := range pageItems {
		if c.LastMessageID != "" {
			lastIDs = append(lastIDs, c.LastMessageID)
		}
	}
	lastMsgs, err := s.messages.GetMany(ctx, lastIDs)
	if err != nil {
		return nil, storeErr(err, "message not found")
	}
	var toHydrate []*model.Message
	for _, id := range lastIDs {
		if m, ok := lastMsgs[id]; ok && !m.HiddenFor(userID) {
			toHydrate = append(toHydrate, m)
		}
	}
	views, err := s.hydrate.messageViews(ctx, toHydrate)
	if err != nil {
		return nil, storeErr(err, "message not found")
	}
	byID := make(map[string]*model.MessageView, len(views))
	for i := range views {
		byID[views[i].ID] = &views[i]
	}

	resp := &model.ListConversationsResponse{
		Conversations: make([]model.ConversationView, 0, len(pageItems)),
		Page:          page,
		Limit:         limit,
		Total:         total,
		HasMore:       end < total,
	}
	for _, c := range pageItems {
		resp.Conversations = append(resp.Conversations, conversationView(c, userID, users, byID[c.LastMessageID]))
	}
	s.lists.Set(ctx, userID, page, limit, resp)
	return resp, nil
}

// UnreadTotal sums userID's unread counters across visible conversations.
func (s *ConversationService) UnreadTotal(ctx context.Context, userID string) (int, error) {
	all, err := s.convs.ListForUser(ctx, userID)
	if err != nil {
		return 0, storeErr(err, "conversation not found")
	}
	total := 0
	for _, c := range all {
		total += c.UnreadCounts[userID]
	}
	return total, nil
}

// IncrementUnread adds one to userID's counter.
func (s *ConversationService) IncrementUnread(ctx context.Context, conversationID, userID string) (int, error) {
	c, err := s.convs.Update(ctx, conversationID, func(c *model.Conversation) error {
		if !c.IsParticipant(userID) {
			return apperr.Forbidden("not a participant of this conversation")
		}
		incrementUnread(c, userID)
		return nil
	})
	if err != nil {
		return 0, storeErr(err, "conversation not found")
	}
	s.lists.Invalidate(ctx, userID)
	return c.UnreadCounts[userID], nil
}

// BulkIncrementUnread adds one to every participant's counter except sender's.
func (s *ConversationService) BulkIncrementUnread(ctx context.Context, conversationID, sender string) (map[string]int, error) {
	c, err := s.convs.Update(ctx, conversationID, func(c *model.Conversation) error {
		bulkIncrementUnread(c, sender)
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "conversation not found")
	}
	s.lists.Invalidate(ctx, c.Participants...)
	return c.UnreadCounts, nil
}

// ResetUnread zeroes userID's counter and returns the previous value with
// the last-message time the counter covered. Messages after the cutoff were
// not counted yet and must stay unread.
func (s *ConversationService) ResetUnread(ctx context.Context, conversationID, userID string) (previous int, cutoff time.Time, err error) {
	_, err = s.convs.Update(ctx, conversationID, func(c *model.Conversation) error {
		if !c.IsParticipant(userID) {
			return apperr.Forbidden("not a participant of this conversation")
		}
		previous = c.UnreadCounts[userID]
		cutoff = c.LastMessageAt
		if c.UnreadCounts == nil {
			c.UnreadCounts = make(map[string]int)
		}
		c.UnreadCounts[userID] = 0
		return nil
	})
	if err != nil {
		return 0, time.Time{}, storeErr(err, "conversation not found")
	}
	s.lists.Invalidate(ctx, userID)
	return previous, cutoff, nil
}

func incrementUnread(c *model.Conversation, userID string) {
	if c.UnreadCounts == nil {
		c.UnreadCounts = make(map[string]int)
	}
	c.UnreadCounts[userID]++
}

func bulkIncrementUnread(c *model.Conversation, sender string) {
	for _, p := range c.Participants {
		if p != sender {
			incrementUnread(c, p)
		}
	}
}

// recordActivity applies a new message to c: last-message pointer, un-delete
// and unread counters.
func recordActivity(c *model.Conversation, m *model.Message) error {
	if !c.IsParticipant(m.SenderID) {
		return apperr.Forbidden("not a participant of this conversation")
	}
	if newerThanLast(c, m) {
		c.LastMessageID = m.ID
		c.LastMessageAt = m.CreatedAt
		c.UpdatedAt = m.CreatedAt
	}
	c.DeletedBy = slices.DeleteFunc(c.DeletedBy, func(id string) bool {
		return id == m.SenderID || (c.Kind == model.KindDirect && id == c.Counterparty(m.SenderID))
	})
	if c.Kind == model.KindDirect {
		incrementUnread(c, c.Counterparty(m.SenderID))
	} else {
		bulkIncrementUnread(c, m.SenderID)
	}
	return nil
}

// newerThanLast orders messages by creation time, then id, so concurrent
// writers agree on the last message whatever order their updates land in.
func newerThanLast(c *model.Conversation, m *model.Message) bool {
	if c.LastMessageID == "" || m.CreatedAt.After(c.LastMessageAt) {
		return true
	}
	return m.CreatedAt.Equal(c.LastMessageAt) && m.ID > c.LastMessageID
}

// SoftDelete hides the conversation from userID. A direct conversation hidden
// by both participants is removed with its messages.
func (s *ConversationService) SoftDelete(ctx context.Context, conversationID, userID string) error {
	c, err := s.convs.Update(ctx, conversationID, func(c *model.Conversation) error {
		if !c.IsParticipant(userID) {
			return apperr.Forbidden("not a participant of this conversation")
		}
		if !slices.Contains(c.DeletedBy, userID) {
			c.DeletedBy = append(c.DeletedBy, userID)
		}
		if c.UnreadCounts != nil {
			c.UnreadCounts[userID] = 0
		}
		return nil
	})
	if err != nil {
		return storeErr(err, "conversation not found")
	}
	s.lists.Invalidate(ctx, userID)

	if c.Kind == model.KindDirect && containsAll(c.DeletedBy, c.Participants) {
		if _, err := s.messages.DeleteByConversation(ctx, c.ID); err != nil {
			return storeErr(err, "conversation not found")
		}
		if err := s.convs.Delete(ctx, c.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return storeErr(err, "conversation not found")
		}
		s.logger.Info("direct conversation purged", zap.String("conversation_id", c.ID))
	}
	return nil
}

// SetArchived adds or removes userID from the archived set.
func (s *ConversationService) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	_, err := s.convs.Update(ctx, conversationID, func(c *model.Conversation) error {
		if !c.IsParticipant(userID) {
			return apperr.Forbidden("not a participant of this conversation")
		}
		c.ArchivedBy = slices.DeleteFunc(c.ArchivedBy, func(id string) bool { return id == userID })
		if archived {
			c.ArchivedBy = append(c.ArchivedBy, userID)
		}
		return nil
	})
	if err != nil {
		return storeErr(err, "conversation not found")
	}
	s.lists.Invalidate(ctx, userID)
	return nil
}

func containsAll(set, required []string) bool {
	for _, r := range required {
		if !slices.Contains(set, r) {
			return false
		}
	}
	return true
}

// CreateGroup creates a group with creator as its only admin.
func (s *ConversationService) CreateGroup(ctx context.Context, creator string, participants []string, name, description string) (*model.ConversationView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("group name is required")
	}

	members := []string{creator}
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(members, p) {
			members = append(members, p)
		}
	}
	if len(members) < model.MinGroupParticipants {
		return nil, apperr.Validation("a group needs at least 3 participants including you")
	}

	users, err := s.users.GetMany(ctx, members)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	for _, p := range members {
		u, ok := users[p]
		if !ok {
			return nil, apperr.NotFound("user not found: " + p)
		}
		if p != creator && model.MutualBlock(users[creator], u) {
			return nil, apperr.Forbidden("cannot add a blocked user to a group")
		}
	}

	now := s.now()
	unread := make(map[string]int, len(members))
	for _, p := range members {
		unread[p] = 0
	}
	c := &model.Conversation{
		ID:            newID(),
		Kind:          model.KindGroup,
		Participants:  members,
		Name:          name,
		Description:   strings.TrimSpace(description),
		Admins:        []string{creator},
		Creator:       creator,
		UnreadCounts:  unread,
		DeletedBy:     []string{},
		ArchivedBy:    []string{},
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.convs.Create(ctx, c); err != nil {
		return nil, storeErr(err, "conversation not found")
	}
	s.lists.Invalidate(ctx, members...)
	s.logger.Info("group created",
		zap.String("conversation_id", c.ID),
		zap.String("creator", creator),
		zap.Int("participants", len(members)),
	)

	v := conversationView(c, creator, users, nil)
	s.emitGroup(ctx, c.Participants, model.EventGroupCreated, model.GroupEvent{Conversation: &v, GroupID: c.ID, ActorID: creator})
	return &v, nil
}

// updateGroup loads the group, checks it is a group, applies fn and refreshes caches.
func (s *ConversationService) updateGroup(ctx context.Context, conversationID string, fn store.ConversationMutation) (*model.Conversation, error) {
	c, err := s.convs.Update(ctx, conversationID, func(c *model.Conversation) error {
		if c.Kind != model.KindGroup {
			return apperr.Validation("not a group conversation")
		}
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "group not found")
	}
	s.lists.Invalidate(ctx, c.Participants...)
	return c, nil
}

func requireAdmin(c *model.Conversation, actor string) error {
	if !c.IsParticipant(actor) {
		return apperr.Forbidden("not a participant of this group")
	}
	if !c.IsAdmin(actor) {
		return apperr.Forbidden("only group admins can do this")
	}
	return nil
}

// AddParticipant adds user to the group. Admin only.
func (s *ConversationService) AddParticipant(ctx context.Context, conversationID, actor, user string) (*model.ConversationView, error) {
	target, err := s.users.Get(ctx, user)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	actorUser, err := s.users.Get(ctx, actor)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	if model.MutualBlock(actorUser, target) {
		return nil, apperr.Forbidden("cannot add a blocked user to a group")
	}

	c, err := s.updateGroup(ctx, conversationID, func(c *model.Conversation) error {
		if err := requireAdmin(c, actor); err != nil {
			return err
		}
		if c.IsParticipant(user) {
			return apperr.Conflict("user is already a participant")
		}
		c.Participants = append(c.Participants, user)
		if c.UnreadCounts == nil {
			c.UnreadCounts = make(map[string]int)
		}
		c.UnreadCounts[user] = 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	v, err := s.View(ctx, c, actor)
	if err != nil {
		return nil, err
	}
	s.emitGroup(ctx, c.Participants, model.EventGroupParticipantAdded, model.GroupEvent{Conversation: v, GroupID: c.ID, ActorID: actor, UserID: user})
	return v, nil
}

// RemoveParticipant removes user from the group. Admins may remove anyone;
// anyone may remove themselves. The last admin cannot leave.
func (s *ConversationService) RemoveParticipant(ctx context.Context, conversationID, actor, user string) (*model.ConversationView, error) {
	c, err := s.updateGroup(ctx, conversationID, func(c *model.Conversation) error {
		if !c.IsParticipant(actor) {
			return apperr.Forbidden("not a participant of this group")
		}
		if actor != user && !c.IsAdmin(actor) {
			return apperr.Forbidden("only group admins can remove participants")
		}
		if !c.IsParticipant(user) {
			return apperr.NotFound("user is not a participant")
		}
		if c.IsAdmin(user) && len(c.Admins) == 1 {
			return apperr.Forbidden("the last admin cannot leave the group")
		}
		if len(c.Participants)-1 < model.MinGroupParticipants {
			return apperr.Conflict("a group needs at least 3 participants")
		}
		drop := func(id string) bool { return id == user }
		c.Participants = slices.DeleteFunc(c.Participants, drop)
		c.Admins = slices.DeleteFunc(c.Admins, drop)
		c.DeletedBy = slices.DeleteFunc(c.DeletedBy, drop)
		c.ArchivedBy = slices.DeleteFunc(c.ArchivedBy, drop)
		delete(c.UnreadCounts, user)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.lists.Invalidate(ctx, user)

	v, err := s.View(ctx, c, actor)
	if err != nil {
		return nil, err
	}
	event := model.GroupEvent{Conversation: v, GroupID: c.ID, ActorID: actor, UserID: user}
	s.emitGroup(ctx, c.Participants, model.EventGroupParticipantRemoved, event)
	emit(ctx, s.emitter, s.logger, model.UserRoom(user), model.EventGroupRemoved, model.GroupEvent{GroupID: c.ID, ActorID: actor, UserID: user})
	return v, nil
}

// PromoteAdmin makes user an admin. Admin only.
func (s *ConversationService) PromoteAdmin(ctx context.Context, conversationID, actor, user string) (*model.ConversationView, error) {
	c, err := s.updateGroup(ctx, conversationID, func(c *model.Conversation) error {
		if err := requireAdmin(c, actor); err != nil {
			return err
		}
		if !c.IsParticipant(user) {
			return apperr.NotFound("user is not a participant")
		}
		if c.IsAdmin(user) {
			return apperr.Conflict("user is already an admin")
		}
		c.Admins = append(c.Admins, user)
		return nil
	})
	if err != nil {
		return nil, err
	}
	v, err := s.View(ctx, c, actor)
	if err != nil {
		return nil, err
	}
	s.emitGroup(ctx, c.Participants, model.EventGroupAdminAdded, model.GroupEvent{Conversation: v, GroupID: c.ID, ActorID: actor, UserID: user})
	return v, nil
}

// DemoteAdmin revokes user's admin role. Admin only; the last admin stays.
func (s *ConversationService) DemoteAdmin(ctx context.Context, conversationID, actor, user string) (*model.ConversationView, error) {
	c, err := s.updateGroup(ctx, conversationID, func(c *model.Conversation) error {
		if err := requireAdmin(c, actor); err != nil {
			return err
		}
		if !c.IsAdmin(user) {
			return apperr.Conflict("user is not an admin")
		}
		if len(c.Admins) == 1 {
			return apperr.Forbidden("a group must keep at least one admin")
		}
		c.Admins = slices.DeleteFunc(c.Admins, func(id string) bool { return id == user })
		return nil
	})
	if err != nil {
		return nil, err
	}
	v, err := s.View(ctx, c, actor)
	if err != nil {
		return nil, err
	}
	s.emitGroup(ctx, c.Participants, model.EventGroupAdminRemoved, model.GroupEvent{Conversation: v, GroupID: c.ID, ActorID: actor, UserID: user})
	return v, nil
}

// UpdateGroup edits name, description or avatar. Admin only.
func (s *ConversationService) UpdateGroup(ctx context.Context, conversationID, actor string, patch model.GroupPatch) (*model.ConversationView, error) {
	if patch.Name == nil && patch.Description == nil && patch.Avatar == nil {
		return nil, apperr.Validation("nothing to update")
	}
	c, err := s.updateGroup(ctx, conversationID, func(c *model.Conversation) error {
		if err := requireAdmin(c, actor); err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return apperr.Validation("group name cannot be empty")
			}
			c.Name = name
		}
		if patch.Description != nil {
			c.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Avatar != nil {
			c.Avatar = *patch.Avatar
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	v, err := s.View(ctx, c, actor)
	if err != nil {
		return nil, err
	}
	s.emitGroup(ctx, c.Participants, model.EventGroupUpdated, model.GroupEvent{Conversation: v, GroupID: c.ID, ActorID: actor})
	return v, nil
}

func (s *ConversationService) emitGroup(ctx context.Context, participants []string, event string, payload model.GroupEvent) {
	for _, p := range participants {
		emit(ctx, s.emitter, s.logger, model.UserRoom(p), event, payload)
	}
}
