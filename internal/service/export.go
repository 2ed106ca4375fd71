package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/model"
)

const (
	ExportJSON = "json"
	ExportText = "txt"
)

// Export is a rendered conversation export ready to be served as a download.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

type exportDocument struct {
	ConversationID string                 `json:"conversationId"`
	Kind           model.ConversationKind `json:"kind"`
	Name           string                 `json:"name,omitempty"`
	ExportedAt     time.Time              `json:"exportedAt"`
	Participants   []model.UserSummary    `json:"participants"`
	Messages       []model.ExportRecord   `json:"messages"`
}

// Export renders every message visible to userID in chronological order.
func (s *MessageService) Export(ctx context.Context, conversationID, userID, format string) (*Export, error) {
	if format == "" {
		format = ExportJSON
	}
	if format != ExportJSON && format != ExportText {
		return nil, apperr.Validation("format must be json or txt")
	}
	conv, err := s.conversations.GetVisible(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.Export(ctx, conversationID, userID)
	if err != nil {
		return nil, storeErr(err, "conversation not found")
	}

	ids := slicesUnion(conv.Participants, msgs)
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	byID := make(map[string]*model.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	base := "conversation-" + conversationID
	if format == ExportText {
		return &Export{
			Filename:    base + ".txt",
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(renderText(conv, msgs, byID, users)),
		}, nil
	}

	doc := exportDocument{
		ConversationID: conv.ID,
		Kind:           conv.Kind,
		Name:           conv.Name,
		ExportedAt:     s.now().UTC(),
		Participants:   make([]model.UserSummary, 0, len(conv.Participants)),
		Messages:       make([]model.ExportRecord, 0, len(msgs)),
	}
	for _, p := range conv.Participants {
		doc.Participants = append(doc.Participants, *summaryOf(users, p))
	}
	for _, m := range msgs {
		doc.Messages = append(doc.Messages, exportRecord(m, users))
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "could not render export")
	}
	return &Export{Filename: base + ".json", ContentType: "application/json", Body: body}, nil
}

func slicesUnion(participants []string, msgs []*model.Message) []string {
	seen := make(map[string]struct{}, len(participants))
	out := make([]string, 0, len(participants))
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, p := range participants {
		add(p)
	}
	for _, m := range msgs {
		add(m.SenderID)
	}
	return out
}

func exportRecord(m *model.Message, users map[string]*model.User) model.ExportRecord {
	reactions := m.Reactions
	if reactions == nil {
		reactions = []model.Reaction{}
	}
	return model.ExportRecord{
		ID:                 m.ID,
		SenderID:           m.SenderID,
		SenderName:         displayName(users, m.SenderID),
		Type:               m.Type,
		Content:            m.Content,
		Media:              m.Media,
		SharedPostID:       m.SharedPostID,
		SharedStoryID:      m.SharedStoryID,
		ReplyTo:            m.ReplyTo,
		Reactions:          reactions,
		IsRead:             m.IsRead,
		DeletedForEveryone: m.DeletedForEveryone,
		CreatedAt:          m.CreatedAt,
		ReadAt:             m.ReadAt,
	}
}

func displayName(users map[string]*model.User, id string) string {
	if u, ok := users[id]; ok && u.DisplayName != "" {
		return u.DisplayName
	}
	return id
}

// renderText writes one stanza per message:
//
//	[2006-01-02 15:04:05] Alice:
//	  (reply to Bob: original text)
//	hello
//	  reactions: 👍 2, ❤️ 1
func renderText(conv *model.Conversation, msgs []*model.Message, byID map[string]*model.Message, users map[string]*model.User) string {
	var b strings.Builder
	title := conv.Name
	if title == "" {
		names := make([]string, 0, len(conv.Participants))
		for _, p := range conv.Participants {
			names = append(names, displayName(users, p))
		}
		title = strings.Join(names, ", ")
	}
	fmt.Fprintf(&b, "Conversation: %s\n", title)
	fmt.Fprintf(&b, "Messages: %d\n\n", len(msgs))

	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s:\n", m.CreatedAt.UTC().Format(time.DateTime), displayName(users, m.SenderID))
		if m.ReplyTo != "" {
			if target, ok := byID[m.ReplyTo]; ok {
				fmt.Fprintf(&b, "  (reply to %s: %s)\n", displayName(users, target.SenderID), truncate(target.Content, previewLength))
			} else {
				b.WriteString("  (reply to a message no longer available)\n")
			}
		}
		b.WriteString(textBody(m))
		b.WriteByte('\n')
		if summary := reactionSummary(m.Reactions); summary != "" {
			fmt.Fprintf(&b, "  reactions: %s\n", summary)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func textBody(m *model.Message) string {
	if m.DeletedForEveryone {
		return model.Tombstone
	}
	var parts []string
	switch {
	case m.Media != nil && m.Media.Filename != "":
		parts = append(parts, fmt.Sprintf("[%s: %s]", m.Type, m.Media.Filename))
	case m.Media != nil:
		parts = append(parts, fmt.Sprintf("[%s: %s]", m.Type, m.Media.URL))
	case m.SharedPostID != "":
		parts = append(parts, "[shared post "+m.SharedPostID+"]")
	case m.SharedStoryID != "":
		parts = append(parts, "[shared story "+m.SharedStoryID+"]")
	}
	if m.Content != "" {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, " ")
}

func reactionSummary(reactions []model.Reaction) string {
	if len(reactions) == 0 {
		return ""
	}
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, r := range reactions {
		if counts[r.Emoji] == 0 {
			order = append(order, r.Emoji)
		}
		counts[r.Emoji]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	parts := make([]string, len(order))
	for i, e := range order {
		parts[i] = fmt.Sprintf("%s %d", e, counts[e])
	}
	return strings.Join(parts, ", ")
}
