package typing

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quitline-realtime/internal/transport"
)

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]map[int]transport.Handler
	nextID   int
	typing   []bool // is_typing flags published, in order
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]map[int]transport.Handler)}
}

func (f *fakeTransport) Publish(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := payload.(*transport.TypingPayload); ok {
		f.typing = append(f.typing, p.IsTyping)
	}
	return nil
}

func (f *fakeTransport) Subscribe(event string, h transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]transport.Handler)
	}
	f.nextID++
	id := f.nextID
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeTransport) emit(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	f.mu.Lock()
	handlers := make([]transport.Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (f *fakeTransport) published() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.typing))
	copy(out, f.typing)
	return out
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeTransport, uuid.UUID) {
	t.Helper()
	tr := newFakeTransport()
	counterpart := uuid.New()
	c := NewCoordinator(tr, uuid.New(), counterpart)
	c.debounce = 40 * time.Millisecond
	c.expiry = 40 * time.Millisecond
	return c, tr, counterpart
}

func TestBurstEmitsSingleStart(t *testing.T) {
	c, tr, _ := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	c.InputChanged()
	c.InputChanged()
	c.InputChanged()

	assert.Equal(t, []bool{true}, tr.published())
}

func TestIdleAfterBurstEmitsStop(t *testing.T) {
	c, tr, _ := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	c.InputChanged()

	require.Eventually(t, func() bool {
		p := tr.published()
		return len(p) == 2 && !p[1]
	}, time.Second, 5*time.Millisecond)
}

func TestKeystrokeResetsIdleTimer(t *testing.T) {
	c, tr, _ := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	c.InputChanged()
	time.Sleep(25 * time.Millisecond)
	c.InputChanged()
	time.Sleep(25 * time.Millisecond)

	// Typing continued, so no stop yet.
	assert.Equal(t, []bool{true}, tr.published())
}

func TestRemoteTypingSelfExpires(t *testing.T) {
	c, tr, counterpart := newTestCoordinator(t)
	var flips []bool
	var mu sync.Mutex
	c.OnRemoteTyping(func(v bool) {
		mu.Lock()
		flips = append(flips, v)
		mu.Unlock()
	})
	c.Start()
	defer c.Stop()

	tr.emit(t, transport.EventUserTyping, &transport.UserTypingPayload{
		IdentityID: counterpart,
		RoomID:     c.roomID,
		IsTyping:   true,
	})
	assert.True(t, c.RemoteTyping())

	// Simulate the stop event being lost: the flag clears on its own.
	require.Eventually(t, func() bool { return !c.RemoteTyping() }, time.Second, 5*time.Millisecond)
}

func TestRemoteExpiryIndependentOfDebounce(t *testing.T) {
	c, tr, counterpart := newTestCoordinator(t)
	c.debounce = time.Hour
	c.expiry = 30 * time.Millisecond
	var flips []bool
	var mu sync.Mutex
	c.OnRemoteTyping(func(v bool) {
		mu.Lock()
		flips = append(flips, v)
		mu.Unlock()
	})
	c.Start()
	defer c.Stop()

	tr.emit(t, transport.EventUserTyping, &transport.UserTypingPayload{
		IdentityID: counterpart,
		RoomID:     c.roomID,
		IsTyping:   true,
	})
	require.True(t, c.RemoteTyping())

	// The inbound window runs on its own clock; a long outbound debounce
	// must not hold the remote flag up.
	require.Eventually(t, func() bool { return !c.RemoteTyping() }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, flips)
}

func TestRemoteStopClearsImmediately(t *testing.T) {
	c, tr, counterpart := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	tr.emit(t, transport.EventUserTyping, &transport.UserTypingPayload{
		IdentityID: counterpart,
		RoomID:     c.roomID,
		IsTyping:   true,
	})
	tr.emit(t, transport.EventUserTyping, &transport.UserTypingPayload{
		IdentityID: counterpart,
		RoomID:     c.roomID,
		IsTyping:   false,
	})

	assert.False(t, c.RemoteTyping())
}

func TestTypingFromOtherRoomIgnored(t *testing.T) {
	c, tr, counterpart := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	tr.emit(t, transport.EventUserTyping, &transport.UserTypingPayload{
		IdentityID: counterpart,
		RoomID:     uuid.New(),
		IsTyping:   true,
	})

	assert.False(t, c.RemoteTyping())
}

func TestStopPublishesStopMidBurst(t *testing.T) {
	c, tr, _ := newTestCoordinator(t)
	c.Start()

	c.InputChanged()
	c.Stop()

	assert.Equal(t, []bool{true, false}, tr.published())
}
