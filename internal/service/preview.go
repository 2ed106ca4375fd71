package service

import (
	"strings"
	"unicode/utf8"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/model"
)

const (
	// MaxContentLength bounds message text in characters.
	MaxContentLength = 5000
	previewLength    = 100
)

// deriveType picks the message type from the first present payload in
// priority order: shared story, shared post, gif, uploaded media, text.
func deriveType(req *model.SendMessageRequest) (model.MessageType, error) {
	hasText := strings.TrimSpace(req.Content) != ""
	switch {
	case req.SharedStoryID != "":
		return model.TypeSharedStory, nil
	case req.SharedPostID != "":
		return model.TypeSharedPost, nil
	case req.GifURL != "":
		return model.TypeGIF, nil
	case req.Upload != nil:
		return mediaType(req.Upload.MimeType), nil
	case hasText:
		return model.TypeText, nil
	}
	return "", apperr.Validation("message must include text, media, a gif or a shared post or story")
}

func mediaType(mime string) model.MessageType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return model.TypeImage
	case strings.HasPrefix(mime, "video/"):
		return model.TypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return model.TypeVoice
	}
	return model.TypeDocument
}

func validateContent(content string) error {
	if utf8.RuneCountInString(content) > MaxContentLength {
		return apperr.Validation("message content exceeds 5000 characters")
	}
	return nil
}

// previewText is the short human summary used by notifications and pushes.
func previewText(m *model.Message) string {
	switch m.Type {
	case model.TypeVoice:
		return "Sent a voice message"
	case model.TypeGIF:
		return "Sent a GIF"
	case model.TypeSharedStory:
		return "Replied to your story"
	}
	if text := strings.TrimSpace(m.Content); text != "" {
		return truncate(text, previewLength)
	}
	switch m.Type {
	case model.TypeImage:
		return "Sent a photo"
	case model.TypeVideo:
		return "Sent a video"
	case model.TypeDocument:
		return "Sent a document"
	case model.TypeSharedPost:
		return "Shared a post"
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
