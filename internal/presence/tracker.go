package presence

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"quitline-realtime/internal/domain"
	"quitline-realtime/internal/transport"
	"quitline-realtime/pkg/constants"
	"quitline-realtime/pkg/logger"
)

// Transport is the slice of the connection manager the tracker needs.
type Transport interface {
	Publish(event string, payload any) error
	Subscribe(event string, h transport.Handler) func()
}

// Tracker maintains the known online/offline state of the counterpart
// identity for one room session. It probes on start and every probe interval
// thereafter; explicit online, explicit offline and probe-response events all
// reduce to "set IsOnline, timestamp it".
type Tracker struct {
	tr            Transport
	counterpart   domain.Identity
	probeInterval time.Duration

	mu       sync.Mutex
	state    domain.PresenceState
	onChange func(domain.PresenceState)
	unsubs   []func()
	stop     chan struct{}
	started  bool
}

// NewTracker creates a tracker for the given counterpart.
func NewTracker(tr Transport, counterpart domain.Identity) *Tracker {
	return &Tracker{
		tr:            tr,
		counterpart:   counterpart,
		probeInterval: constants.PresenceProbeInterval,
	}
}

// OnChange registers the callback invoked whenever IsOnline flips.
// Must be called before Start.
func (t *Tracker) OnChange(fn func(domain.PresenceState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Start subscribes to presence events and begins periodic probing.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.stop = make(chan struct{})

	for _, event := range []string{
		transport.EventOnlineStatus,
		transport.EventUserOnline,
		transport.EventUserOffline,
	} {
		t.unsubs = append(t.unsubs, t.tr.Subscribe(event, t.handleStatus))
	}
	t.mu.Unlock()

	t.probe()
	go t.probeLoop()
}

// Stop cancels the probe timer and drops subscriptions. A probe firing after
// Stop is a no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.started = false
	close(t.stop)
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil
}

// State returns the last known presence state of the counterpart.
func (t *Tracker) State() domain.PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsOnline reports whether the counterpart is currently known to be online.
func (t *Tracker) IsOnline() bool {
	return t.State().IsOnline
}

func (t *Tracker) probeLoop() {
	ticker := time.NewTicker(t.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.probe()
		}
	}
}

// probe issues a liveness check. Failure is silent: the previous known state
// stands until the next periodic probe.
func (t *Tracker) probe() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	err := t.tr.Publish(transport.EventCheckOnline, &transport.CheckOnlinePayload{
		IdentityID: t.counterpart.ID,
	})
	if err != nil {
		logger.Debug("presence probe failed",
			zap.String("identity_id", t.counterpart.ID.String()),
			zap.Error(err))
	}
}

func (t *Tracker) handleStatus(data json.RawMessage) {
	var payload transport.OnlineStatusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Warn("malformed presence event", zap.Error(err))
		return
	}
	if payload.IdentityID != t.counterpart.ID {
		return
	}

	t.mu.Lock()
	changed := t.state.IsOnline != payload.IsOnline
	t.state = domain.PresenceState{
		IsOnline:      payload.IsOnline,
		LastCheckedAt: time.Now(),
	}
	onChange := t.onChange
	state := t.state
	t.mu.Unlock()

	if changed && onChange != nil {
		onChange(state)
	}
}
