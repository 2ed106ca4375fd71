package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/model"
)

// inbound is a client envelope with its payload left raw.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthenticatePayload is the body of the client's authenticate event.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// RoomPayload is the body of subscribe and unsubscribe events and their acks.
type RoomPayload struct {
	Room string `json:"room"`
}

// AuthenticatedPayload acknowledges a successful authenticate.
type AuthenticatedPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// ErrorPayload reports a refused client event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Session is one websocket connection.
type Session struct {
	ID string

	gw   *Gateway
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.RWMutex
	userID string
	rooms  map[string]struct{} // guarded by gw.mu

	closeOnce sync.Once
}

func newSession(g *Gateway, conn *websocket.Conn) *Session {
	return &Session{
		ID:    uuid.NewString(),
		gw:    g,
		conn:  conn,
		send:  make(chan []byte, g.cfg.SendBuffer),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
}

// UserID returns the authenticated user, empty before authentication.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) run(ctx context.Context) {
	timer := time.AfterFunc(s.gw.cfg.AuthTimeout, func() {
		if s.UserID() == "" {
			s.reply(model.ServerError, ErrorPayload{Message: "authentication timeout"})
			s.closeAfterFlush()
		}
	})
	defer timer.Stop()

	go s.writeLoop()
	s.readLoop(ctx)
	s.close()
	s.gw.remove(ctx, s)
}

func (s *Session) readLoop(ctx context.Context) {
	pongWait := s.gw.cfg.PingInterval * 2
	s.conn.SetReadLimit(s.gw.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		if uid := s.UserID(); uid != "" {
			s.gw.registry.Heartbeat(ctx, uid)
		}
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.gw.log.Debug("websocket read error", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(model.ServerError, ErrorPayload{Message: "malformed envelope"})
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg inbound) {
	if msg.Event == model.ClientAuthenticate {
		s.authenticate(ctx, msg.Data)
		return
	}
	if s.UserID() == "" {
		s.reply(model.ServerError, ErrorPayload{Message: "not authenticated"})
		return
	}

	switch msg.Event {
	case model.ClientSubscribe:
		var p RoomPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.reply(model.ServerError, ErrorPayload{Message: "invalid subscribe payload"})
			return
		}
		s.subscribe(ctx, p.Room)
	case model.ClientUnsubscribe:
		var p RoomPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.reply(model.ServerError, ErrorPayload{Message: "invalid unsubscribe payload"})
			return
		}
		s.unsubscribe(p.Room)
	case model.ClientPing:
		s.gw.registry.Heartbeat(ctx, s.UserID())
		s.reply(model.ServerPong, nil)
	default:
		s.reply(model.ServerError, ErrorPayload{Message: "unknown event"})
	}
}

func (s *Session) authenticate(ctx context.Context, data json.RawMessage) {
	if s.UserID() != "" {
		s.reply(model.ServerError, ErrorPayload{Message: "already authenticated"})
		return
	}
	var p AuthenticatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Token == "" {
		s.reply(model.ServerError, ErrorPayload{Message: "missing token"})
		s.closeAfterFlush()
		return
	}

	principal, err := s.gw.auth.Resolve(ctx, p.Token)
	if err != nil {
		s.reply(model.ServerError, ErrorPayload{Message: apperr.PublicMessage(err)})
		s.closeAfterFlush()
		return
	}

	s.mu.Lock()
	s.userID = principal.UserID
	s.mu.Unlock()

	s.gw.join(s, model.UserRoom(principal.UserID))
	if _, err := s.gw.registry.Register(ctx, principal.UserID, s.ID); err != nil {
		s.gw.log.Error("session registration failed", zap.String("session_id", s.ID), zap.Error(err))
		s.close()
		return
	}
	s.gw.log.Debug("session authenticated",
		zap.String("session_id", s.ID),
		zap.String("user_id", principal.UserID),
	)
	s.reply(model.ServerAuthenticated, AuthenticatedPayload{UserID: principal.UserID, SessionID: s.ID})
}

func (s *Session) subscribe(ctx context.Context, room string) {
	kind, id, ok := model.ParseRoom(room)
	if !ok {
		s.reply(model.ServerError, ErrorPayload{Message: "unknown room"})
		return
	}
	switch kind {
	case "user":
		if id != s.UserID() {
			s.reply(model.ServerError, ErrorPayload{Message: "cannot subscribe to another user's room"})
			return
		}
	case "conversation":
		authz := s.gw.authorizer()
		if authz == nil {
			s.reply(model.ServerError, ErrorPayload{Message: "conversation rooms are unavailable"})
			return
		}
		if err := authz.AuthorizeRoom(ctx, s.UserID(), id); err != nil {
			s.reply(model.ServerError, ErrorPayload{Message: apperr.PublicMessage(err)})
			return
		}
		s.gw.join(s, room)
	}
	s.reply(model.ServerSubscribed, RoomPayload{Room: room})
}

func (s *Session) unsubscribe(room string) {
	if room == model.UserRoom(s.UserID()) {
		s.reply(model.ServerError, ErrorPayload{Message: "cannot leave own room"})
		return
	}
	if s.gw.joined(s, room) {
		s.gw.leave(s, room)
	}
	s.reply(model.ServerUnsubscribed, RoomPayload{Room: room})
}

func (s *Session) reply(event string, payload any) {
	frame, err := json.Marshal(model.Envelope{Event: event, Data: payload})
	if err != nil {
		return
	}
	s.enqueue(frame)
}

// enqueue queues frame without blocking. It returns false when the buffer is full.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.gw.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.gw.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.gw.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// closeAfterFlush gives queued replies a moment to reach the client before closing.
func (s *Session) closeAfterFlush() {
	time.AfterFunc(100*time.Millisecond, s.close)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}
