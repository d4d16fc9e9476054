package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quitline-realtime/internal/transport"
	"quitline-realtime/pkg/audit"
	"quitline-realtime/pkg/logger"
	"quitline-realtime/pkg/metrics"
)

// frame is the unit routed between relay instances over Redis Pub/Sub:
// a fully rendered client envelope plus delivery addressing.
type frame struct {
	RoomID    uuid.UUID       `json:"room_id"`
	TargetID  uuid.UUID       `json:"target_id,omitempty"`  // deliver to exactly this identity
	ExcludeID uuid.UUID       `json:"exclude_id,omitempty"` // deliver to everyone in the room but this identity
	Envelope  json.RawMessage `json:"envelope"`
}

// Hub fans events between WebSocket clients. Room membership is managed by
// joinRoom/leaveRoom events on an identity-level connection; cross-instance
// fan-out goes through one Redis channel per room.
type Hub struct {
	// Registered clients per joined room, and by identity
	rooms      map[uuid.UUID]map[*Client]bool
	identities map[uuid.UUID]*Client

	// Cancel functions for room subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	redisClient *redis.Client
	presence    *PresenceRepository
	metrics     *metrics.Metrics
	audit       *audit.Logger

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	outbound   chan *frame

	// Concurrency limit for concurrent WebSocket connections
	maxConnections int
	semaphore      chan struct{}

	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewHub creates a relay hub and starts its dispatch loop.
func NewHub(redisClient *redis.Client, presence *PresenceRepository, m *metrics.Metrics, auditLog *audit.Logger, maxConnections int, allowedOrigins []string) *Hub {
	hub := &Hub{
		rooms:               make(map[uuid.UUID]map[*Client]bool),
		identities:          make(map[uuid.UUID]*Client),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		redisClient:         redisClient,
		presence:            presence,
		metrics:             m,
		audit:               auditLog,
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		outbound:            make(chan *frame, 256),
		maxConnections:      maxConnections,
		semaphore:           make(chan struct{}, maxConnections),
		allowedOrigins:      allowedOrigins,
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     hub.checkOrigin,
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			old := h.identities[client.identity.ID]
			if old != nil {
				// One live connection per identity: credential rotation or a
				// second device drops the previous socket.
				delete(h.identities, old.identity.ID)
				h.removeFromRoomsLocked(old)
			}
			h.identities[client.identity.ID] = client
			h.mu.Unlock()

			if old != nil {
				old.closeSend()
				h.metrics.ClientDisconnected()
			}

			ctx := context.Background()
			if err := h.presence.SetOnline(ctx, client.identity.ID); err != nil {
				logger.Warn("failed to mark user online", zap.Error(err))
			}
			h.metrics.ClientConnected()
			h.auditEvent(h.audit.LogConnect, client.identity.ID)
			h.broadcastPresence(client.identity.ID, true)

		case client := <-h.unregister:
			h.dropClient(client)

		case f := <-h.outbound:
			h.deliverLocal(f)
		}
	}
}

// dropClient tears a connection down. The client leaves every map before its
// send channel closes, so a concurrent send finds a missing client instead of
// a closed channel. Presence, metrics and the offline broadcast fire only when
// this socket was still the identity's registered connection; an already
// evicted or replaced socket just has its channel closed again, which is a
// no-op.
func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	registered := h.identities[client.identity.ID] == client
	if registered {
		delete(h.identities, client.identity.ID)
	}
	h.removeFromRoomsLocked(client)
	h.mu.Unlock()

	client.closeSend()

	if !registered {
		return
	}
	if h.presence != nil {
		if err := h.presence.SetOffline(context.Background(), client.identity.ID); err != nil {
			logger.Warn("failed to mark user offline", zap.Error(err))
		}
	}
	if h.metrics != nil {
		h.metrics.ClientDisconnected()
	}
	h.auditEvent(h.audit.LogDisconnect, client.identity.ID)
	h.broadcastPresence(client.identity.ID, false)
}

// joinRoom adds the client to a room, subscribing this instance to the room's
// Redis channel on first local member.
func (h *Hub) joinRoom(client *Client, roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)

		ctx, cancel := context.WithCancel(context.Background())
		h.subscriptionCancels[roomID] = cancel
		go h.subscribeRoom(ctx, roomID)
	}
	h.rooms[roomID][client] = true
	client.rooms[roomID] = true
}

// leaveRoom removes the client from a room, dropping the Redis subscription
// when the last local member leaves.
func (h *Hub) leaveRoom(client *Client, roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(client, roomID)
}

func (h *Hub) leaveRoomLocked(client *Client, roomID uuid.UUID) {
	clients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(clients, client)
	delete(client.rooms, roomID)

	if len(clients) == 0 {
		if cancel, ok := h.subscriptionCancels[roomID]; ok {
			cancel()
			delete(h.subscriptionCancels, roomID)
		}
		delete(h.rooms, roomID)
	}
}

func (h *Hub) removeFromRoomsLocked(client *Client) {
	for roomID := range client.rooms {
		h.leaveRoomLocked(client, roomID)
	}
}

func roomChannel(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s", roomID)
}

// publishToRoom renders an event envelope and fans it out through Redis.
// Returns the number of relay instances that received it (including this one).
func (h *Hub) publishToRoom(ctx context.Context, roomID uuid.UUID, event string, payload any, targetID, excludeID uuid.UUID) (int64, error) {
	envelope, err := transport.Encode(event, payload)
	if err != nil {
		return 0, err
	}

	f := &frame{
		RoomID:    roomID,
		TargetID:  targetID,
		ExcludeID: excludeID,
		Envelope:  envelope,
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return 0, err
	}

	receivers, err := h.redisClient.Publish(ctx, roomChannel(roomID), raw).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to room channel: %w", err)
	}
	h.metrics.RecordEvent(event)
	return receivers, nil
}

// subscribeRoom pumps the room's Redis channel into local delivery.
func (h *Hub) subscribeRoom(ctx context.Context, roomID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, roomChannel(roomID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("failed to subscribe to room channel",
			zap.String("room_id", roomID.String()),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var f frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				logger.Warn("failed to unmarshal room frame",
					zap.String("room_id", roomID.String()),
					zap.Error(err))
				continue
			}
			h.outbound <- &f
		}
	}
}

// deliverLocal writes a frame to the matching local room members. A member
// whose buffer cannot take the frame is dropped entirely rather than left
// half-registered.
func (h *Hub) deliverLocal(f *frame) {
	h.mu.RLock()
	var stuck []*Client
	for client := range h.rooms[f.RoomID] {
		if f.TargetID != uuid.Nil && client.identity.ID != f.TargetID {
			continue
		}
		if f.ExcludeID != uuid.Nil && client.identity.ID == f.ExcludeID {
			continue
		}
		if !client.trySend(f.Envelope) {
			stuck = append(stuck, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stuck {
		h.dropClient(client)
	}
}

// sendToClient writes an event envelope directly to one connection.
func (h *Hub) sendToClient(client *Client, event string, payload any) {
	envelope, err := transport.Encode(event, payload)
	if err != nil {
		logger.Warn("failed to encode direct event", zap.Error(err))
		return
	}
	client.trySend(envelope)
}

// broadcastPresence tells every local client about an identity's status flip.
// Clients filter by counterpart themselves.
func (h *Hub) broadcastPresence(identityID uuid.UUID, online bool) {
	event := transport.EventUserOffline
	if online {
		event = transport.EventUserOnline
	}
	envelope, err := transport.Encode(event, &transport.OnlineStatusPayload{
		IdentityID: identityID,
		IsOnline:   online,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.identities {
		if client.identity.ID == identityID {
			continue
		}
		client.trySend(envelope)
	}
}

// auditEvent records a connection-level audit entry off the hot path.
// Audit failures never affect delivery.
func (h *Hub) auditEvent(fn func(context.Context, uuid.UUID) error, identityID uuid.UUID) {
	if h.audit == nil {
		return
	}
	go func() {
		if err := fn(context.Background(), identityID); err != nil {
			logger.Debug("audit write failed", zap.Error(err))
		}
	}()
}

// auditRoom records a room membership audit entry off the hot path.
func (h *Hub) auditRoom(fn func(context.Context, uuid.UUID, uuid.UUID) error, identityID, roomID uuid.UUID) {
	if h.audit == nil {
		return
	}
	go func() {
		if err := fn(context.Background(), identityID, roomID); err != nil {
			logger.Debug("audit write failed", zap.Error(err))
		}
	}()
}

// auditCall records a call signaling audit entry off the hot path.
func (h *Hub) auditCall(eventType audit.EventType, identityID, roomID uuid.UUID, detail string) {
	if h.audit == nil {
		return
	}
	go func() {
		if err := h.audit.LogCall(context.Background(), eventType, identityID, roomID, detail); err != nil {
			logger.Debug("audit write failed", zap.Error(err))
		}
	}()
}

// localRoomPeers counts local members of a room other than the given identity.
func (h *Hub) localRoomPeers(roomID, exceptID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.rooms[roomID] {
		if client.identity.ID != exceptID {
			n++
		}
	}
	return n
}
