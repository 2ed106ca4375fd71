package nats

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/pkg/logger"
)

// SubjectPrefix is the prefix of every room subject.
const SubjectPrefix = "freetalk.rooms"

// Subject maps a room name such as "user:42" to "freetalk.rooms.user.<id>",
// where <id> is base64url so dots and wildcards in ids stay one literal token.
func Subject(room string) (string, error) {
	kind, id, ok := model.ParseRoom(room)
	if !ok {
		return "", fmt.Errorf("invalid room %q", room)
	}
	return SubjectPrefix + "." + kind + "." + base64.RawURLEncoding.EncodeToString([]byte(id)), nil
}

// RoomFromSubject reverses Subject.
func RoomFromSubject(subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix+".")
	if !ok {
		return "", false
	}
	kind, token, ok := strings.Cut(rest, ".")
	if !ok || token == "" || strings.Contains(token, ".") {
		return "", false
	}
	id, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	room := kind + ":" + string(id)
	if _, _, ok := model.ParseRoom(room); !ok {
		return "", false
	}
	return room, true
}

// Bus publishes room frames on core NATS subjects. Nothing is persisted:
// a node that is down when a frame is published never sees it.
type Bus struct {
	client *Client
	log    *logger.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewBus creates a bus over client.
func NewBus(client *Client, log *logger.Logger) *Bus {
	return &Bus{client: client, log: log}
}

// Publish sends data to every node subscribed to room.
func (b *Bus) Publish(room string, data []byte) error {
	subject, err := Subject(room)
	if err != nil {
		return err
	}
	return b.client.Conn().Publish(subject, data)
}

// Subscribe delivers every room frame published by any node to handler.
func (b *Bus) Subscribe(handler func(room string, data []byte)) error {
	sub, err := b.client.Conn().Subscribe(SubjectPrefix+".>", func(msg *nats.Msg) {
		room, ok := RoomFromSubject(msg.Subject)
		if !ok {
			b.log.Warn("dropping frame on unexpected subject", zap.String("subject", msg.Subject))
			return
		}
		handler(room, msg.Data)
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

// Close removes the subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}
