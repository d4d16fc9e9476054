package presence

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quitline-realtime/internal/domain"
	"quitline-realtime/internal/transport"
)

type fakeTransport struct {
	mu         sync.Mutex
	handlers   map[string]map[int]transport.Handler
	nextID     int
	probes     []uuid.UUID
	publishErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]map[int]transport.Handler)}
}

func (f *fakeTransport) Publish(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	if p, ok := payload.(*transport.CheckOnlinePayload); ok {
		f.probes = append(f.probes, p.IdentityID)
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

func (f *fakeTransport) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probes)
}

func newTestTracker() (*Tracker, *fakeTransport, domain.Identity) {
	tr := newFakeTransport()
	counterpart := domain.Identity{ID: uuid.New(), DisplayName: "Member Bob"}
	tracker := NewTracker(tr, counterpart)
	return tracker, tr, counterpart
}

func TestProbeIssuedOnStart(t *testing.T) {
	tracker, tr, counterpart := newTestTracker()
	tracker.Start()
	defer tracker.Stop()

	require.Equal(t, 1, tr.probeCount())
	tr.mu.Lock()
	assert.Equal(t, counterpart.ID, tr.probes[0])
	tr.mu.Unlock()
}

func TestPeriodicProbing(t *testing.T) {
	tracker, tr, _ := newTestTracker()
	tracker.probeInterval = 20 * time.Millisecond
	tracker.Start()
	defer tracker.Stop()

	require.Eventually(t, func() bool { return tr.probeCount() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestStatusFlipFiresOnChange(t *testing.T) {
	tracker, tr, counterpart := newTestTracker()
	var flips []bool
	var mu sync.Mutex
	tracker.OnChange(func(s domain.PresenceState) {
		mu.Lock()
		flips = append(flips, s.IsOnline)
		mu.Unlock()
	})
	tracker.Start()
	defer tracker.Stop()

	status := &transport.OnlineStatusPayload{IdentityID: counterpart.ID, IsOnline: true}
	tr.emit(t, transport.EventOnlineStatus, status)
	tr.emit(t, transport.EventOnlineStatus, status) // repeat, no flip
	tr.emit(t, transport.EventUserOffline, &transport.OnlineStatusPayload{
		IdentityID: counterpart.ID,
		IsOnline:   false,
	})

	assert.False(t, tracker.IsOnline())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, flips)
}

func TestStatusOfOtherIdentityIgnored(t *testing.T) {
	tracker, tr, _ := newTestTracker()
	tracker.Start()
	defer tracker.Stop()

	tr.emit(t, transport.EventUserOnline, &transport.OnlineStatusPayload{
		IdentityID: uuid.New(),
		IsOnline:   true,
	})

	assert.False(t, tracker.IsOnline())
}

func TestProbeFailureKeepsLastKnownState(t *testing.T) {
	tracker, tr, counterpart := newTestTracker()
	tracker.Start()
	defer tracker.Stop()

	tr.emit(t, transport.EventUserOnline, &transport.OnlineStatusPayload{
		IdentityID: counterpart.ID,
		IsOnline:   true,
	})

	tr.mu.Lock()
	tr.publishErr = fmt.Errorf("transport down")
	tr.mu.Unlock()
	tracker.probe()

	assert.True(t, tracker.IsOnline(), "a failed probe must not flip the state")
}
