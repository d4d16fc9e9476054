package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quitline-realtime/internal/domain"
	"quitline-realtime/pkg/errors"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// relayStub is a minimal WebSocket endpoint: it records the Authorization
// header and hands the raw connection to the test.
type relayStub struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	auth   chan string
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	stub := &relayStub{
		conns: make(chan *websocket.Conn, 4),
		auth:  make(chan string, 4),
	}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.auth <- r.Header.Get("Authorization")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		stub.conns <- conn
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *relayStub) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func testIdentity() domain.Identity {
	return domain.Identity{ID: uuid.New(), DisplayName: "Coach Anna"}
}

func TestPublishRequiresConnection(t *testing.T) {
	m := NewManager("ws://localhost:0/v1/ws")

	err := m.Publish(EventSendMessage, &SendMessagePayload{RoomID: uuid.New(), Body: "hi"})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotConnected))
}

func TestConnectSendsBearerCredential(t *testing.T) {
	stub := newRelayStub(t)
	m := NewManager(stub.url())

	err := m.Connect(context.Background(), testIdentity(), "credential-123")
	require.NoError(t, err)
	defer m.Disconnect()

	assert.Equal(t, "Bearer credential-123", <-stub.auth)
	assert.True(t, m.IsConnected())
}

func TestInboundEventsDispatchedInOrder(t *testing.T) {
	stub := newRelayStub(t)
	m := NewManager(stub.url())

	received := make(chan string, 8)
	unsub := m.Subscribe(EventNewMessage, func(data json.RawMessage) {
		var msg domain.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		received <- msg.Body
	})
	defer unsub()

	require.NoError(t, m.Connect(context.Background(), testIdentity(), "cred"))
	defer m.Disconnect()
	server := stub.accept(t)

	for _, body := range []string{"one", "two", "three"} {
		frame, err := Encode(EventNewMessage, &domain.Message{
			ID:     uuid.New(),
			Body:   body,
			SentAt: time.Now(),
		})
		require.NoError(t, err)
		require.NoError(t, server.WriteMessage(websocket.TextMessage, frame))
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishReachesServer(t *testing.T) {
	stub := newRelayStub(t)
	m := NewManager(stub.url())

	require.NoError(t, m.Connect(context.Background(), testIdentity(), "cred"))
	defer m.Disconnect()
	server := stub.accept(t)

	roomID := uuid.New()
	require.NoError(t, m.Publish(EventJoinRoom, &JoinRoomPayload{RoomID: roomID}))

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := server.ReadMessage()
	require.NoError(t, err)

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, EventJoinRoom, env.Event)

	var payload JoinRoomPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, roomID, payload.RoomID)
}

func TestServerDropEmitsConnectionError(t *testing.T) {
	stub := newRelayStub(t)
	m := NewManager(stub.url())

	connErr := make(chan string, 1)
	unsub := m.Subscribe(EventConnectionError, func(data json.RawMessage) {
		var payload ErrorPayload
		_ = json.Unmarshal(data, &payload)
		connErr <- payload.Message
	})
	defer unsub()

	require.NoError(t, m.Connect(context.Background(), testIdentity(), "cred"))
	server := stub.accept(t)
	server.Close()

	select {
	case <-connErr:
	case <-time.After(2 * time.Second):
		t.Fatal("connection error not surfaced")
	}
	assert.False(t, m.IsConnected())
}

func TestDisconnectIsSilent(t *testing.T) {
	stub := newRelayStub(t)
	m := NewManager(stub.url())

	fired := make(chan struct{}, 1)
	unsub := m.Subscribe(EventConnectionError, func(json.RawMessage) {
		fired <- struct{}{}
	})
	defer unsub()

	require.NoError(t, m.Connect(context.Background(), testIdentity(), "cred"))
	stub.accept(t)
	m.Disconnect()

	select {
	case <-fired:
		t.Fatal("a deliberate disconnect must not surface a connection error")
	case <-time.After(200 * time.Millisecond):
	}
	assert.False(t, m.IsConnected())
}

func TestReconnectReplacesConnection(t *testing.T) {
	stub := newRelayStub(t)
	m := NewManager(stub.url())

	identity := testIdentity()
	require.NoError(t, m.Connect(context.Background(), identity, "cred-1"))
	first := stub.accept(t)
	require.NoError(t, m.Connect(context.Background(), identity, "cred-2"))
	defer m.Disconnect()
	stub.accept(t)

	// The old socket saw a close frame.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	assert.Equal(t, "Bearer cred-1", <-stub.auth)
	assert.Equal(t, "Bearer cred-2", <-stub.auth)
	assert.True(t, m.IsConnected())
}

func TestSubscriptionsSurviveReconnect(t *testing.T) {
	stub := newRelayStub(t)
	m := NewManager(stub.url())

	received := make(chan struct{}, 1)
	unsub := m.Subscribe(EventUserOnline, func(json.RawMessage) {
		received <- struct{}{}
	})
	defer unsub()

	identity := testIdentity()
	require.NoError(t, m.Connect(context.Background(), identity, "cred"))
	stub.accept(t)
	require.NoError(t, m.Connect(context.Background(), identity, "cred"))
	defer m.Disconnect()
	server := stub.accept(t)

	frame, err := Encode(EventUserOnline, &OnlineStatusPayload{IdentityID: identity.ID, IsOnline: true})
	require.NoError(t, err)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, frame))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not survive the reconnect")
	}
}
