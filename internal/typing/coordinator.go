package typing

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quitline-realtime/internal/domain"
	"quitline-realtime/internal/transport"
	"quitline-realtime/pkg/constants"
	"quitline-realtime/pkg/logger"
)

// Transport is the slice of the connection manager the coordinator needs.
type Transport interface {
	Publish(event string, payload any) error
	Subscribe(event string, h transport.Handler) func()
}

// Coordinator debounces local typing signals outward and expires remote
// typing signals inward. The remote side self-expires after the typing window
// because networks drop the final stop event more often than the first start.
type Coordinator struct {
	tr          Transport
	roomID      uuid.UUID
	counterpart uuid.UUID
	debounce    time.Duration
	expiry      time.Duration

	mu           sync.Mutex
	localTyping  bool
	idleTimer    *time.Timer
	remote       domain.TypingState
	expiryTimer  *time.Timer
	onRemote     func(bool)
	unsub        func()
	started      bool
}

// NewCoordinator creates a typing coordinator for the given room.
func NewCoordinator(tr Transport, roomID, counterpart uuid.UUID) *Coordinator {
	return &Coordinator{
		tr:          tr,
		roomID:      roomID,
		counterpart: counterpart,
		debounce:    constants.TypingDebounce,
		expiry:      constants.TypingExpiry,
	}
}

// OnRemoteTyping registers the callback invoked when the counterpart's typing
// flag flips. Must be called before Start.
func (c *Coordinator) OnRemoteTyping(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemote = fn
}

// Start subscribes to remote typing events.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.unsub = c.tr.Subscribe(transport.EventUserTyping, c.handleRemote)
}

// Stop cancels both timers and drops the subscription. If a typing burst is
// in flight the stop signal is still published so the remote side does not
// wait out its expiry window.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	wasTyping := c.localTyping
	c.localTyping = false
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
	c.remote = domain.TypingState{}
	c.unsub()
	c.unsub = nil
	c.mu.Unlock()

	if wasTyping {
		c.publish(false)
	}
}

// InputChanged records a local keystroke. The first keystroke after idle
// emits a single typing start; each keystroke resets the idle timer whose
// expiry emits the stop.
func (c *Coordinator) InputChanged() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}

	emitStart := !c.localTyping
	c.localTyping = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.debounce, c.idleExpired)
	c.mu.Unlock()

	if emitStart {
		c.publish(true)
	}
}

// RemoteTyping reports the counterpart's current typing flag.
func (c *Coordinator) RemoteTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote.IsTyping
}

func (c *Coordinator) idleExpired() {
	c.mu.Lock()
	if !c.started || !c.localTyping {
		c.mu.Unlock()
		return
	}
	c.localTyping = false
	c.mu.Unlock()

	c.publish(false)
}

func (c *Coordinator) publish(isTyping bool) {
	err := c.tr.Publish(transport.EventTyping, &transport.TypingPayload{
		RoomID:   c.roomID,
		IsTyping: isTyping,
	})
	if err != nil {
		logger.Debug("typing publish failed",
			zap.String("room_id", c.roomID.String()),
			zap.Bool("is_typing", isTyping),
			zap.Error(err))
	}
}

func (c *Coordinator) handleRemote(data json.RawMessage) {
	var payload transport.UserTypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Warn("malformed typing event", zap.Error(err))
		return
	}
	if payload.RoomID != c.roomID || payload.IdentityID != c.counterpart {
		return
	}

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}

	changed := c.remote.IsTyping != payload.IsTyping
	if payload.IsTyping {
		c.remote = domain.TypingState{
			IsTyping:  true,
			ExpiresAt: time.Now().Add(c.expiry),
		}
		if c.expiryTimer != nil {
			c.expiryTimer.Stop()
		}
		c.expiryTimer = time.AfterFunc(c.expiry, c.remoteExpired)
	} else {
		c.remote = domain.TypingState{}
		if c.expiryTimer != nil {
			c.expiryTimer.Stop()
			c.expiryTimer = nil
		}
	}
	onRemote := c.onRemote
	c.mu.Unlock()

	if changed && onRemote != nil {
		onRemote(payload.IsTyping)
	}
}

// remoteExpired clears the remote flag when no refresh arrived in time,
// covering a dropped stop event.
func (c *Coordinator) remoteExpired() {
	c.mu.Lock()
	if !c.started || !c.remote.IsTyping {
		c.mu.Unlock()
		return
	}
	c.remote = domain.TypingState{}
	c.expiryTimer = nil
	onRemote := c.onRemote
	c.mu.Unlock()

	if onRemote != nil {
		onRemote(false)
	}
}
