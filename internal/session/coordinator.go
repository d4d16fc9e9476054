package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quitline-realtime/internal/auth"
	"quitline-realtime/internal/call"
	"quitline-realtime/internal/domain"
	"quitline-realtime/internal/messages"
	"quitline-realtime/internal/presence"
	"quitline-realtime/internal/transport"
	"quitline-realtime/internal/typing"
	"quitline-realtime/pkg/errors"
	"quitline-realtime/pkg/logger"
)

// Transport is the slice of the connection manager the coordinator needs.
type Transport interface {
	Publish(event string, payload any) error
	Subscribe(event string, h transport.Handler) func()
}

// Collaborators is the REST surface consumed by per-room components.
type Collaborators interface {
	FetchMessages(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*domain.Message, error)
	FetchMediaToken(ctx context.Context, roomID uuid.UUID) (*domain.MediaToken, error)
}

// Coordinator owns the lifecycle of per-room sessions. It is the only
// component exposed to UI collaborators; presence, messages, typing and call
// signaling are reached through the handle it returns.
type Coordinator struct {
	tr    Transport
	rest  Collaborators
	local domain.Identity

	mu       sync.Mutex
	sessions map[uuid.UUID]*Handle
}

// NewCoordinator creates a session coordinator for the local identity.
func NewCoordinator(tr Transport, rest Collaborators, local domain.Identity) *Coordinator {
	return &Coordinator{
		tr:       tr,
		rest:     rest,
		local:    local,
		sessions: make(map[uuid.UUID]*Handle),
	}
}

// NewCoordinatorFromCredential derives the local identity from the platform
// access token instead of taking it explicitly.
func NewCoordinatorFromCredential(tr Transport, rest Collaborators, credential string) (*Coordinator, error) {
	local, err := auth.IdentityFromCredential(credential)
	if err != nil {
		return nil, err
	}
	return NewCoordinator(tr, rest, local), nil
}

// Handle is one open room session. Closing it tears down every component,
// timer and subscription the session owns.
type Handle struct {
	coordinator *Coordinator
	room        domain.Room

	presence *presence.Tracker
	store    *messages.Store
	typing   *typing.Coordinator
	machine  *call.Machine
	unsubErr func()

	mu     sync.Mutex
	closed bool
}

// Open joins the room, wires the per-room components and performs the initial
// history load. Opening a room that is already open returns the existing
// handle unchanged.
func (c *Coordinator) Open(ctx context.Context, room domain.Room) (*Handle, error) {
	c.mu.Lock()
	if existing, ok := c.sessions[room.ID]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	if room.Status != domain.RoomStatusActive {
		return nil, errors.ValidationError("cannot open a session on an ended room")
	}

	if err := c.tr.Publish(transport.EventJoinRoom, &transport.JoinRoomPayload{RoomID: room.ID}); err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	counterpart := room.Counterpart(c.local.ID)

	h := &Handle{
		coordinator: c,
		room:        room,
		presence:    presence.NewTracker(c.tr, counterpart),
		store:       messages.NewStore(c.tr, c.rest, room.ID),
	}
	h.machine = call.NewMachine(c.tr, c.rest, h.presence, room.ID, c.local, counterpart)
	h.typing = typing.NewCoordinator(c.tr, room.ID, counterpart.ID)

	h.presence.Start()
	h.store.Start()
	h.typing.Start()
	h.machine.Start()

	// Transport failure policy lives here, not in the connection manager:
	// a dead transport force-ends whatever call the session holds.
	h.unsubErr = c.tr.Subscribe(transport.EventConnectionError, func(data json.RawMessage) {
		h.handleTransportError(data)
	})

	if _, err := h.store.LoadInitialPage(ctx); err != nil {
		h.teardown()
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.sessions[room.ID]; ok {
		// Lost an open race; keep the first session.
		c.mu.Unlock()
		h.teardown()
		return existing, nil
	}
	c.sessions[room.ID] = h
	c.mu.Unlock()

	logger.Info("room session opened",
		zap.String("room_id", room.ID.String()),
		zap.String("counterpart_id", counterpart.ID.String()))
	return h, nil
}

// CloseAll closes every open session. Used on logout before the connection
// manager is disconnected.
func (c *Coordinator) CloseAll() {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.sessions))
	for _, h := range c.sessions {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

// Room returns the room this session is bound to.
func (h *Handle) Room() domain.Room { return h.room }

// Presence returns the counterpart presence tracker.
func (h *Handle) Presence() *presence.Tracker { return h.presence }

// Messages returns the room's message store.
func (h *Handle) Messages() *messages.Store { return h.store }

// Call returns the call signaling state machine.
func (h *Handle) Call() *call.Machine { return h.machine }

// Typing returns the typing coordinator.
func (h *Handle) Typing() *typing.Coordinator { return h.typing }

// Close leaves the room and tears the session down. A non-idle call is
// force-ended, notifying the counterpart, before anything else is released.
// Close is idempotent.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.machine.ForceEnd()
	h.teardown()

	err := h.coordinator.tr.Publish(transport.EventLeaveRoom, &transport.LeaveRoomPayload{
		RoomID: h.room.ID,
	})
	if err != nil {
		logger.Debug("leaveRoom publish failed", zap.Error(err))
	}

	h.coordinator.mu.Lock()
	if h.coordinator.sessions[h.room.ID] == h {
		delete(h.coordinator.sessions, h.room.ID)
	}
	h.coordinator.mu.Unlock()

	logger.Info("room session closed", zap.String("room_id", h.room.ID.String()))
}

// teardown stops every component and drops the session's subscriptions.
func (h *Handle) teardown() {
	h.machine.Stop()
	h.typing.Stop()
	h.presence.Stop()
	h.store.Stop()
	if h.unsubErr != nil {
		h.unsubErr()
		h.unsubErr = nil
	}
}

func (h *Handle) handleTransportError(data json.RawMessage) {
	var payload transport.ErrorPayload
	_ = json.Unmarshal(data, &payload)
	logger.Warn("transport error in session",
		zap.String("room_id", h.room.ID.String()),
		zap.String("message", payload.Message))

	if h.machine.Session().State != domain.CallStateIdle {
		h.machine.ForceEnd()
	}
}
