package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quitline-realtime/internal/domain"
	"quitline-realtime/pkg/constants"
	"quitline-realtime/pkg/errors"
	"quitline-realtime/pkg/logger"
)

// Handler receives the raw payload of a subscribed event. Handlers for a
// given connection are invoked one at a time, in delivery order.
type Handler func(data json.RawMessage)

// Manager owns the single persistent bidirectional connection per
// authenticated identity. It is the sole transport: every other component
// publishes and subscribes through it and never touches the socket directly.
type Manager struct {
	url    string
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	identity *domain.Identity
	gen      uint64 // bumped on every (re)connect so stale pumps become no-ops

	subsMu sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
}

// NewManager creates a connection manager for the given relay URL.
func NewManager(url string) *Manager {
	return &Manager{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: constants.DialTimeout,
		},
		subs: make(map[string]map[uint64]Handler),
	}
}

// Connect establishes the connection for the given identity, authenticating
// with the supplied credential. Calling Connect while already connected tears
// down the old connection first (credential rotation).
func (m *Manager) Connect(ctx context.Context, identity domain.Identity, credential string) error {
	m.mu.Lock()
	if m.conn != nil {
		m.teardownLocked()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, _, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		m.mu.Unlock()
		return errors.TransportError(err)
	}

	m.conn = conn
	m.identity = &identity
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	logger.Info("transport connected",
		zap.String("identity_id", identity.ID.String()))

	go m.readPump(conn, gen)
	go m.pingLoop(conn, gen)

	return nil
}

// Identity returns the identity the current connection belongs to, if any.
func (m *Manager) Identity() *domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// IsConnected reports whether a live connection exists.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Publish sends a named event over the transport. It fails with NotConnected
// when no live connection exists; events are never queued for later delivery.
func (m *Manager) Publish(event string, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, "failed to encode event", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return errors.NotConnectedError()
	}

	m.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
	if err := m.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.TransportError(err)
	}
	return nil
}

// Subscribe registers a handler for the named event and returns its
// unsubscribe function. Subscriptions survive reconnects.
func (m *Manager) Subscribe(event string, h Handler) func() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if m.subs[event] == nil {
		m.subs[event] = make(map[uint64]Handler)
	}
	m.nextID++
	id := m.nextID
	m.subs[event][id] = h

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if handlers, ok := m.subs[event]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(m.subs, event)
			}
		}
	}
}

// Disconnect closes the connection. Safe to call when not connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// teardownLocked closes and clears the live connection. Caller holds m.mu.
func (m *Manager) teardownLocked() {
	if m.conn == nil {
		return
	}
	m.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
	m.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	m.conn.Close()
	m.conn = nil
	m.identity = nil
	m.gen++ // invalidate pumps of the old connection
}

// readPump reads frames from the socket and dispatches them to subscribers,
// one at a time. An incoming event fully updates subscriber state before the
// next event is read; this is the ordering guarantee the call state machine
// relies on.
func (m *Manager) readPump(conn *websocket.Conn, gen uint64) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := m.gen != gen
			if !stale {
				m.conn = nil
				m.identity = nil
			}
			m.mu.Unlock()

			if !stale {
				logger.Warn("transport read failed", zap.Error(err))
				payload, _ := json.Marshal(&ErrorPayload{Message: err.Error()})
				m.dispatch(EventConnectionError, payload)
			}
			return
		}

		env, err := Decode(frame)
		if err != nil {
			logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		m.dispatch(env.Event, env.Data)
	}
}

// dispatch invokes every subscriber of the event synchronously.
func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.subsMu.RLock()
	handlers := make([]Handler, 0, len(m.subs[event]))
	for _, h := range m.subs[event] {
		handlers = append(handlers, h)
	}
	m.subsMu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
}

// pingLoop keeps the connection alive with periodic pings.
func (m *Manager) pingLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(constants.WebSocketPingInterval / 2)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		if m.gen != gen || m.conn == nil {
			m.mu.Unlock()
			return
		}
		conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		m.mu.Unlock()
		if err != nil {
			return
		}
	}
}
