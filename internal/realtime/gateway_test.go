package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/identity"
	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/pkg/logger"
)

type tokenAuth map[string]string

func (a tokenAuth) Resolve(ctx context.Context, token string) (*identity.Principal, error) {
	id, ok := a[token]
	if !ok {
		return nil, apperr.Unauthenticated("invalid token")
	}
	return &identity.Principal{UserID: id}, nil
}

type memberAuthz map[string][]string // conversation -> members

func (a memberAuthz) AuthorizeRoom(ctx context.Context, userID, conversationID string) error {
	for _, m := range a[conversationID] {
		if m == userID {
			return nil
		}
	}
	return apperr.Forbidden("not a participant")
}

// loopBus connects gateways in one process the way NATS connects nodes.
type loopBus struct {
	mu       sync.Mutex
	handlers []func(room string, data []byte)
}

func (b *loopBus) Publish(room string, data []byte) error {
	b.mu.Lock()
	handlers := append([]func(string, []byte){}, b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(room, data)
	}
	return nil
}

func (b *loopBus) Subscribe(handler func(room string, data []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return nil
}

type harness struct {
	gw       *Gateway
	registry *Registry
	server   *httptest.Server
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	registry := NewRegistry(nil, logger.Nop())
	auth := tokenAuth{"tok-alice": "alice", "tok-bob": "bob"}
	gw := NewGateway(cfg, auth, registry, logger.Nop())
	gw.SetAuthorizer(memberAuthz{"c1": {"alice", "bob"}})
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Close()
		srv.Close()
	})
	return &harness{gw: gw, registry: registry, server: srv}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(model.Envelope{Event: event, Data: data}))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func (h *harness) login(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn := h.dial(t)
	send(t, conn, model.ClientAuthenticate, AuthenticatePayload{Token: token})
	f := read(t, conn)
	require.Equal(t, model.ServerAuthenticated, f.Event)
	return conn
}

func TestAuthenticateJoinsOwnRoom(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.login(t, "tok-alice")

	assert.True(t, h.registry.IsOnline(context.Background(), "alice"))

	require.NoError(t, h.gw.Emit(context.Background(), model.UserRoom("alice"), model.EventMessageNew, map[string]string{"content": "hello"}))
	f := read(t, conn)
	assert.Equal(t, model.EventMessageNew, f.Event)
	assert.JSONEq(t, `{"content":"hello"}`, string(f.Data))
}

func TestEventsBeforeAuthenticationAreRefused(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	send(t, conn, model.ClientSubscribe, RoomPayload{Room: model.UserRoom("alice")})
	f := read(t, conn)
	assert.Equal(t, model.ServerError, f.Event)
	assert.False(t, h.registry.IsOnline(context.Background(), "alice"))
}

func TestInvalidTokenClosesSession(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)

	send(t, conn, model.ClientAuthenticate, AuthenticatePayload{Token: "forged"})
	f := read(t, conn)
	assert.Equal(t, model.ServerError, f.Event)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestUnauthenticatedSessionTimesOut(t *testing.T) {
	h := newHarness(t, Config{AuthTimeout: 50 * time.Millisecond})
	conn := h.dial(t)

	f := read(t, conn)
	assert.Equal(t, model.ServerError, f.Event)
	assert.Contains(t, string(f.Data), "authentication timeout")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return h.gw.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCrossUserSubscriptionRefused(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.login(t, "tok-alice")

	send(t, conn, model.ClientSubscribe, RoomPayload{Room: model.UserRoom("bob")})
	f := read(t, conn)
	assert.Equal(t, model.ServerError, f.Event)

	require.NoError(t, h.gw.Emit(context.Background(), model.UserRoom("bob"), model.EventTypingStart, nil))
	send(t, conn, model.ClientPing, nil)
	assert.Equal(t, model.ServerPong, read(t, conn).Event, "bob's event never reached alice")
}

func TestConversationRoomRequiresParticipation(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.login(t, "tok-alice")

	send(t, alice, model.ClientSubscribe, RoomPayload{Room: model.ConversationRoom("c2")})
	assert.Equal(t, model.ServerError, read(t, alice).Event)

	send(t, alice, model.ClientSubscribe, RoomPayload{Room: model.ConversationRoom("c1")})
	assert.Equal(t, model.ServerSubscribed, read(t, alice).Event)

	require.NoError(t, h.gw.Emit(context.Background(), model.ConversationRoom("c1"), model.EventTypingStart, model.TypingEvent{ConversationID: "c1", UserID: "bob"}))
	assert.Equal(t, model.EventTypingStart, read(t, alice).Event)

	send(t, alice, model.ClientUnsubscribe, RoomPayload{Room: model.ConversationRoom("c1")})
	assert.Equal(t, model.ServerUnsubscribed, read(t, alice).Event)

	send(t, alice, model.ClientUnsubscribe, RoomPayload{Room: model.UserRoom("alice")})
	assert.Equal(t, model.ServerError, read(t, alice).Event)
}

func TestEveryDeviceReceivesEachEmissionOnce(t *testing.T) {
	h := newHarness(t, Config{})
	phone := h.login(t, "tok-bob")
	laptop := h.login(t, "tok-bob")
	assert.Len(t, h.registry.SessionsOf("bob"), 2)

	require.NoError(t, h.gw.Emit(context.Background(), model.UserRoom("bob"), model.EventNotificationNew, nil))
	for _, conn := range []*websocket.Conn{phone, laptop} {
		assert.Equal(t, model.EventNotificationNew, read(t, conn).Event)
		send(t, conn, model.ClientPing, nil)
		assert.Equal(t, model.ServerPong, read(t, conn).Event)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.login(t, "tok-alice")
	require.True(t, h.registry.IsOnline(context.Background(), "alice"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return !h.registry.IsOnline(context.Background(), "alice")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEmitToEmptyRoomIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	assert.NoError(t, h.gw.Emit(context.Background(), model.UserRoom("nobody"), model.EventMessageNew, nil))
}

func TestBusDeliversAcrossNodes(t *testing.T) {
	bus := &loopBus{}
	node1 := newHarness(t, Config{})
	node2 := newHarness(t, Config{})
	require.NoError(t, node1.gw.AttachBus(bus))
	require.NoError(t, node2.gw.AttachBus(bus))

	onNode1 := node1.login(t, "tok-bob")
	onNode2 := node2.login(t, "tok-bob")

	require.NoError(t, node1.gw.Emit(context.Background(), model.UserRoom("bob"), model.EventMessageNew, nil))

	assert.Equal(t, model.EventMessageNew, read(t, onNode2).Event)
	assert.Equal(t, model.EventMessageNew, read(t, onNode1).Event)

	send(t, onNode1, model.ClientPing, nil)
	assert.Equal(t, model.ServerPong, read(t, onNode1).Event, "origin node delivers once")
}
