// Package push delivers mobile notifications to users without a live session.
package push

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/pkg/logger"
	"github.com/freetalk/messaging/pkg/metrics"
)

// ErrUnregistered is returned by a Sender when the provider no longer knows the token.
var ErrUnregistered = errors.New("push: device token unregistered")

// Notification is a single mobile push.
type Notification struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Sender talks to a push provider.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// TokenStore forgets tokens the provider rejected.
type TokenStore interface {
	ClearDeviceToken(ctx context.Context, userID, token string) error
}

// Eligible reports whether u accepts a push about conversationID.
// conversationID may be empty for non-message notifications.
func Eligible(u *model.User, conversationID string) bool {
	if u == nil || u.DeviceToken == "" || !u.Settings.PushEnabled {
		return false
	}
	return conversationID == "" || !slices.Contains(u.Settings.MutedConversations, conversationID)
}

// Dispatcher sends pushes in the background with their own timeout so callers never wait.
type Dispatcher struct {
	sender  Sender
	tokens  TokenStore
	timeout time.Duration
	log     *logger.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(sender Sender, tokens TokenStore, timeout time.Duration, log *logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{sender: sender, tokens: tokens, timeout: timeout, log: log}
}

// Dispatch queues one push to userID. Failures are logged and dropped.
func (d *Dispatcher) Dispatch(userID string, n Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.send(ctx, userID, n)
	}()
}

func (d *Dispatcher) send(ctx context.Context, userID string, n Notification) {
	err := d.sender.Send(ctx, n)
	switch {
	case err == nil:
		metrics.RecordPush("sent")
	case errors.Is(err, ErrUnregistered):
		metrics.RecordPush("unregistered")
		d.log.Info("clearing unregistered device token", zap.String("user_id", userID))
		if err := d.tokens.ClearDeviceToken(ctx, userID, n.Token); err != nil {
			d.log.Warn("failed to clear device token", zap.String("user_id", userID), zap.Error(err))
		}
	default:
		metrics.RecordPush("failed")
		d.log.Warn("push delivery failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Wait blocks until every dispatched push has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogSender logs pushes instead of sending them. Used when no provider is configured.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	s.log.Info("push (not delivered, no provider)",
		zap.String("title", n.Title),
		zap.String("body", n.Body),
	)
	return nil
}
