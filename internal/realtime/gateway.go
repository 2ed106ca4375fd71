package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/identity"
	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/pkg/logger"
	"github.com/freetalk/messaging/pkg/metrics"
)

// Authenticator resolves the credential of an authenticate envelope.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (*identity.Principal, error)
}

// Authorizer decides whether a user may join a conversation room.
type Authorizer interface {
	AuthorizeRoom(ctx context.Context, userID, conversationID string) error
}

// Bus carries room frames between nodes.
type Bus interface {
	Publish(room string, data []byte) error
	Subscribe(handler func(room string, data []byte)) error
}

// Config tunes session behaviour.
type Config struct {
	AuthTimeout    time.Duration
	PingInterval   time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

func (c *Config) setDefaults() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
}

// busFrame wraps a frame published to other nodes.
type busFrame struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// Gateway accepts push-channel sessions and routes room-addressed events to them.
type Gateway struct {
	cfg      Config
	auth     Authenticator
	registry *Registry
	log      *logger.Logger
	upgrader websocket.Upgrader
	nodeID   string

	mu       sync.RWMutex
	authz    Authorizer
	bus      Bus
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
	closed   bool
}

// NewGateway creates a gateway serving websocket upgrades.
func NewGateway(cfg Config, auth Authenticator, registry *Registry, log *logger.Logger) *Gateway {
	cfg.setDefaults()
	return &Gateway{
		cfg:      cfg,
		auth:     auth,
		registry: registry,
		log:      log,
		nodeID:   uuid.NewString(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

// NodeID identifies this gateway among nodes sharing a bus.
func (g *Gateway) NodeID() string {
	return g.nodeID
}

// SetAuthorizer installs the conversation room policy. Without one,
// conversation rooms are refused.
func (g *Gateway) SetAuthorizer(a Authorizer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authz = a
}

// AttachBus publishes every emission on b and delivers frames from other nodes locally.
func (g *Gateway) AttachBus(b Bus) error {
	if err := b.Subscribe(g.onBusFrame); err != nil {
		return err
	}
	g.mu.Lock()
	g.bus = b
	g.mu.Unlock()
	return nil
}

// ServeHTTP upgrades the request and runs the session until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s := newSession(g, conn)
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = conn.Close()
		return
	}
	g.sessions[s.ID] = s
	g.mu.Unlock()

	s.run(context.WithoutCancel(r.Context()))
}

// Emit sends event to every session in room, here and on other nodes.
// An empty room is not an error.
func (g *Gateway) Emit(ctx context.Context, room, event string, payload any) error {
	frame, err := json.Marshal(model.Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}
	metrics.RecordEmit(event)
	g.deliverLocal(room, frame)

	g.mu.RLock()
	bus := g.bus
	g.mu.RUnlock()
	if bus == nil {
		return nil
	}
	data, err := json.Marshal(busFrame{Origin: g.nodeID, Frame: frame})
	if err != nil {
		return err
	}
	return bus.Publish(room, data)
}

// IsOnline reports whether userID has a live session.
func (g *Gateway) IsOnline(ctx context.Context, userID string) bool {
	return g.registry.IsOnline(ctx, userID)
}

func (g *Gateway) onBusFrame(room string, data []byte) {
	var f busFrame
	if err := json.Unmarshal(data, &f); err != nil {
		g.log.Warn("malformed bus frame", zap.String("room", room), zap.Error(err))
		return
	}
	if f.Origin == g.nodeID {
		return
	}
	g.deliverLocal(room, f.Frame)
}

func (g *Gateway) deliverLocal(room string, frame []byte) {
	g.mu.RLock()
	members := make([]*Session, 0, len(g.rooms[room]))
	for _, s := range g.rooms[room] {
		members = append(members, s)
	}
	g.mu.RUnlock()

	for _, s := range members {
		if !s.enqueue(frame) {
			metrics.EventsDropped.Inc()
			g.log.Warn("dropping slow session",
				zap.String("session_id", s.ID),
				zap.String("user_id", s.UserID()),
				zap.String("room", room),
			)
			go s.close()
		}
	}
}

func (g *Gateway) join(s *Session, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[s.ID]; !ok {
		return
	}
	members := g.rooms[room]
	if members == nil {
		members = make(map[string]*Session)
		g.rooms[room] = members
	}
	members[s.ID] = s
	s.rooms[room] = struct{}{}
}

func (g *Gateway) leave(s *Session, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(s, room)
}

func (g *Gateway) leaveLocked(s *Session, room string) {
	if members := g.rooms[room]; members != nil {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(g.rooms, room)
		}
	}
	delete(s.rooms, room)
}

// joined reports whether s is in room.
func (g *Gateway) joined(s *Session, room string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

func (g *Gateway) remove(ctx context.Context, s *Session) {
	g.mu.Lock()
	for room := range s.rooms {
		g.leaveLocked(s, room)
	}
	delete(g.sessions, s.ID)
	g.mu.Unlock()

	if s.UserID() != "" {
		g.registry.Unregister(ctx, s.ID)
	}
}

func (g *Gateway) authorizer() Authorizer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.authz
}

// SessionCount returns the number of open sessions on this node.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Close disconnects every session and refuses new ones.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
