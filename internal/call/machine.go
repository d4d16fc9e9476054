package call

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quitline-realtime/internal/domain"
	"quitline-realtime/internal/transport"
	"quitline-realtime/pkg/constants"
	"quitline-realtime/pkg/errors"
	"quitline-realtime/pkg/logger"
)

// Transport is the slice of the connection manager the machine needs.
type Transport interface {
	Publish(event string, payload any) error
	Subscribe(event string, h transport.Handler) func()
}

// TokenFetcher issues fresh call-scoped media tokens.
type TokenFetcher interface {
	FetchMediaToken(ctx context.Context, roomID uuid.UUID) (*domain.MediaToken, error)
}

// PresenceSource reports whether the counterpart is currently online.
type PresenceSource interface {
	IsOnline() bool
}

// End reasons carried on the wire.
const (
	ReasonCancelled       = "cancelled"
	ReasonTimeout         = "timeout"
	ReasonExpired         = "session_expired"
	ReasonMediaJoinFailed = "media_join_failed"
	ReasonHangup          = "hangup"
	ReasonSessionClosed   = "session_closed"
)

// Update is delivered to the observer on every state change.
type Update struct {
	State   domain.CallState
	Session domain.CallSession
	Reason  error // nil on normal transitions
}

// Machine negotiates the call lifecycle for one room and one local identity:
// idle, outgoing/incoming ringing, active, ended. It owns CallSession state
// exclusively; other components only read it. At most one non-idle session
// exists per room: a second attempt is rejected locally without touching the
// transport.
type Machine struct {
	tr          Transport
	tokens      TokenFetcher
	presence    PresenceSource
	roomID      uuid.UUID
	local       domain.Identity
	counterpart domain.Identity

	ringingTimeout time.Duration
	maxDuration    time.Duration

	mu        sync.Mutex
	session   domain.CallSession
	ringTimer *time.Timer
	capTimer  *time.Timer
	onUpdate  func(Update)
	unsubs    []func()
	started   bool
}

// NewMachine creates an idle call state machine for the given room.
func NewMachine(tr Transport, tokens TokenFetcher, presence PresenceSource, roomID uuid.UUID, local, counterpart domain.Identity) *Machine {
	return &Machine{
		tr:             tr,
		tokens:         tokens,
		presence:       presence,
		roomID:         roomID,
		local:          local,
		counterpart:    counterpart,
		ringingTimeout: constants.RingingTimeout,
		maxDuration:    constants.MaxCallDuration,
		session: domain.CallSession{
			RoomID:      roomID,
			State:       domain.CallStateIdle,
			Counterpart: counterpart,
		},
	}
}

// OnUpdate registers the observer callback. Must be called before Start.
func (m *Machine) OnUpdate(fn func(Update)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Start subscribes to inbound signaling events.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.unsubs = []func(){
		m.tr.Subscribe(transport.EventIncomingCall, m.handleIncoming),
		m.tr.Subscribe(transport.EventCallAccepted, m.handleAccepted),
		m.tr.Subscribe(transport.EventCallRejected, m.handleRejected),
		m.tr.Subscribe(transport.EventCallEnded, m.handleEnded),
	}
}

// Stop drops subscriptions and cancels timers. It does not notify the remote
// side; callers that may hold a live call use ForceEnd first.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	m.cancelTimersLocked()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

// Session returns a copy of the current call session.
func (m *Machine) Session() domain.CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Initiate starts an outgoing call. Refused locally, with no transport
// traffic, unless the machine is idle and the counterpart is known online.
// A fresh media token is fetched before the call is announced: a call the
// local side cannot itself join is never announced.
func (m *Machine) Initiate(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return errors.SessionClosedError()
	}
	if m.session.State != domain.CallStateIdle {
		state := m.session.State
		m.mu.Unlock()
		return errors.BusyError("call already in progress: " + string(state))
	}
	if !m.presence.IsOnline() {
		m.mu.Unlock()
		return errors.OfflineError(m.counterpart.ID.String())
	}
	// Hold Connecting while the token fetch suspends so a second initiate
	// or a concurrent invite is refused as busy.
	m.session.Role = domain.CallRoleCaller
	m.session.State = domain.CallStateConnecting
	m.mu.Unlock()

	token, err := m.tokens.FetchMediaToken(ctx, m.roomID)
	if err != nil {
		m.resetToIdle(nil)
		return errors.TokenFetchError(err)
	}

	m.mu.Lock()
	if m.session.State != domain.CallStateConnecting {
		// An event moved the machine while the fetch was in flight.
		m.mu.Unlock()
		return errors.BusyError("call state changed during token fetch")
	}
	m.session.State = domain.CallStateOutgoing
	m.session.LocalMediaToken = token
	m.mu.Unlock()

	err = m.tr.Publish(transport.EventStartCall, &transport.StartCallPayload{
		RoomID:      m.roomID,
		CallerToken: token.Token,
	})
	if err != nil {
		m.resetToIdle(nil)
		return err
	}

	m.mu.Lock()
	m.ringTimer = time.AfterFunc(m.ringingTimeout, m.ringingExpired)
	update := m.updateLocked(nil)
	m.mu.Unlock()
	m.notify(update)

	logger.Info("call initiated",
		zap.String("room_id", m.roomID.String()),
		zap.String("callee_id", m.counterpart.ID.String()))
	return nil
}

// Accept answers an incoming call. A fresh media token is fetched at the
// moment of acceptance and carried on the acceptance notification so both
// sides join the same media session with independently issued credentials.
func (m *Machine) Accept(ctx context.Context) error {
	m.mu.Lock()
	if m.session.State != domain.CallStateIncoming {
		state := m.session.State
		m.mu.Unlock()
		return errors.BusyError("no incoming call to accept: " + string(state))
	}
	m.session.State = domain.CallStateConnecting
	m.cancelRingTimerLocked()
	m.mu.Unlock()

	token, err := m.tokens.FetchMediaToken(ctx, m.roomID)
	if err != nil {
		// Abort the in-flight transition back to its prior stable state.
		m.mu.Lock()
		if m.session.State == domain.CallStateConnecting {
			m.session.State = domain.CallStateIncoming
			m.ringTimer = time.AfterFunc(m.ringingTimeout, m.ringingExpired)
		}
		m.mu.Unlock()
		return errors.TokenFetchError(err)
	}

	m.mu.Lock()
	if m.session.State != domain.CallStateConnecting {
		m.mu.Unlock()
		return errors.BusyError("call state changed during token fetch")
	}
	now := time.Now()
	m.session.State = domain.CallStateActive
	m.session.LocalMediaToken = token
	m.session.StartedAt = &now
	m.mu.Unlock()

	err = m.tr.Publish(transport.EventAcceptCall, &transport.AcceptCallPayload{
		RoomID:        m.roomID,
		CallerID:      m.counterpart.ID,
		AccepterToken: token.Token,
	})
	if err != nil {
		m.resetToIdle(nil)
		return err
	}

	m.mu.Lock()
	m.capTimer = time.AfterFunc(m.maxDuration, m.durationExpired)
	update := m.updateLocked(nil)
	m.mu.Unlock()
	m.notify(update)
	return nil
}

// Reject declines an incoming call and notifies the counterpart so its state
// machine also returns to idle.
func (m *Machine) Reject() error {
	m.mu.Lock()
	if m.session.State != domain.CallStateIncoming {
		state := m.session.State
		m.mu.Unlock()
		return errors.BusyError("no incoming call to reject: " + string(state))
	}
	m.mu.Unlock()

	err := m.tr.Publish(transport.EventRejectCall, &transport.RejectCallPayload{
		RoomID:   m.roomID,
		CallerID: m.counterpart.ID,
	})
	m.resetToIdle(nil)
	return err
}

// Cancel withdraws an outgoing call before it was answered. The remote side
// is notified so no dangling incoming state persists there.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	if m.session.State != domain.CallStateOutgoing {
		state := m.session.State
		m.mu.Unlock()
		return errors.BusyError("no outgoing call to cancel: " + string(state))
	}
	m.mu.Unlock()

	err := m.tr.Publish(transport.EventEndCall, &transport.EndCallPayload{
		RoomID: m.roomID,
		Reason: ReasonCancelled,
	})
	m.resetToIdle(nil)
	return err
}

// End hangs up an active call. Either party may end; both converge on idle.
func (m *Machine) End() error {
	m.mu.Lock()
	if m.session.State != domain.CallStateActive {
		state := m.session.State
		m.mu.Unlock()
		return errors.BusyError("no active call to end: " + string(state))
	}
	m.mu.Unlock()

	err := m.tr.Publish(transport.EventEndCall, &transport.EndCallPayload{
		RoomID: m.roomID,
		Reason: ReasonHangup,
	})
	m.resetToIdle(nil)
	return err
}

// ReportMediaJoinFailure hangs up an accepted call whose media join failed
// client-side, surfacing a distinguishable reason instead of leaving the
// machine active against a session the local side never joined.
func (m *Machine) ReportMediaJoinFailure(cause error) error {
	m.mu.Lock()
	if m.session.State != domain.CallStateActive {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	err := m.tr.Publish(transport.EventEndCall, &transport.EndCallPayload{
		RoomID: m.roomID,
		Reason: ReasonMediaJoinFailed,
	})
	m.resetToIdle(errors.MediaJoinFailedError(cause))
	return err
}

// ForceEnd tears down any non-idle call, notifying the counterpart. Used on
// session close so the other side is not left with a dangling call.
func (m *Machine) ForceEnd() {
	m.mu.Lock()
	state := m.session.State
	m.mu.Unlock()

	switch state {
	case domain.CallStateIdle:
		return
	case domain.CallStateIncoming:
		if err := m.Reject(); err != nil {
			logger.Warn("force-end reject failed", zap.Error(err))
		}
	default:
		err := m.tr.Publish(transport.EventEndCall, &transport.EndCallPayload{
			RoomID: m.roomID,
			Reason: ReasonSessionClosed,
		})
		if err != nil {
			logger.Warn("force-end publish failed", zap.Error(err))
		}
		m.resetToIdle(nil)
	}
}

// Inbound events

func (m *Machine) handleIncoming(data json.RawMessage) {
	var payload transport.IncomingCallPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Warn("malformed incoming-call event", zap.Error(err))
		return
	}
	if payload.RoomID != m.roomID {
		return
	}

	m.mu.Lock()
	if m.session.State != domain.CallStateIdle {
		m.mu.Unlock()
		// Busy: a second invite is a conflict, not a queueable event. Refuse
		// at the protocol level so the caller's machine returns to idle; this
		// is also what untangles two simultaneous outgoing calls.
		logger.Info("refusing invite while busy",
			zap.String("room_id", m.roomID.String()),
			zap.String("caller_id", payload.Caller.ID.String()))
		err := m.tr.Publish(transport.EventRejectCall, &transport.RejectCallPayload{
			RoomID:   m.roomID,
			CallerID: payload.Caller.ID,
		})
		if err != nil {
			logger.Warn("busy refusal publish failed", zap.Error(err))
		}
		return
	}

	m.session.Role = domain.CallRoleCallee
	m.session.State = domain.CallStateIncoming
	m.session.Counterpart = payload.Caller
	// The invite rings out eventually even if the caller's cancel is lost.
	m.ringTimer = time.AfterFunc(m.ringingTimeout, m.ringingExpired)
	update := m.updateLocked(nil)
	m.mu.Unlock()
	m.notify(update)
}

func (m *Machine) handleAccepted(data json.RawMessage) {
	var payload transport.CallAcceptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Warn("malformed call-accepted event", zap.Error(err))
		return
	}
	if payload.RoomID != m.roomID {
		return
	}

	m.mu.Lock()
	if m.session.State != domain.CallStateOutgoing {
		m.mu.Unlock()
		return
	}
	if payload.Token == "" {
		// A completed handshake always carries the accepter's token.
		m.mu.Unlock()
		logger.Warn("call-accepted without accepter token",
			zap.String("room_id", m.roomID.String()))
		return
	}

	// The caller joins with its own token from initiate time; the accepter's
	// token only confirms the handshake completed.
	now := time.Now()
	m.session.State = domain.CallStateActive
	m.session.StartedAt = &now
	m.cancelRingTimerLocked()
	m.capTimer = time.AfterFunc(m.maxDuration, m.durationExpired)
	update := m.updateLocked(nil)
	m.mu.Unlock()
	m.notify(update)
}

func (m *Machine) handleRejected(data json.RawMessage) {
	var payload transport.CallRejectedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Warn("malformed call-rejected event", zap.Error(err))
		return
	}
	if payload.RoomID != m.roomID {
		return
	}

	m.mu.Lock()
	if m.session.State != domain.CallStateOutgoing && m.session.State != domain.CallStateConnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	name := payload.Callee.DisplayName
	if name == "" {
		name = payload.Callee.ID.String()
	}
	m.resetToIdle(errors.RejectedError(name))
}

func (m *Machine) handleEnded(data json.RawMessage) {
	var payload transport.CallEndedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Warn("malformed call-ended event", zap.Error(err))
		return
	}
	if payload.RoomID != m.roomID {
		return
	}

	m.mu.Lock()
	if m.session.State == domain.CallStateIdle {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	var reason error
	switch payload.Reason {
	case ReasonTimeout:
		reason = errors.TimeoutError("call timed out")
	case ReasonExpired:
		reason = errors.TimeoutError("call session expired")
	case ReasonMediaJoinFailed:
		reason = errors.MediaJoinFailedError(nil)
	}
	m.resetToIdle(reason)
}

// Timers

// ringingExpired auto-cancels a call that rang out, on either side.
func (m *Machine) ringingExpired() {
	m.mu.Lock()
	state := m.session.State
	m.mu.Unlock()

	switch state {
	case domain.CallStateOutgoing:
		err := m.tr.Publish(transport.EventEndCall, &transport.EndCallPayload{
			RoomID: m.roomID,
			Reason: ReasonTimeout,
		})
		if err != nil {
			logger.Warn("ringing timeout publish failed", zap.Error(err))
		}
		m.resetToIdle(errors.TimeoutError("call not answered"))
	case domain.CallStateIncoming:
		m.resetToIdle(errors.TimeoutError("missed call"))
	}
}

// durationExpired enforces the hard ceiling on active calls, bounding the
// media room's resource usage.
func (m *Machine) durationExpired() {
	m.mu.Lock()
	if m.session.State != domain.CallStateActive {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	err := m.tr.Publish(transport.EventEndCall, &transport.EndCallPayload{
		RoomID: m.roomID,
		Reason: ReasonExpired,
	})
	if err != nil {
		logger.Warn("duration cap publish failed", zap.Error(err))
	}
	m.resetToIdle(errors.TimeoutError("call session expired"))
}

// Internals

// resetToIdle returns the machine to idle, discarding the media token and
// recording the end timestamp for audit logging only.
func (m *Machine) resetToIdle(reason error) {
	m.mu.Lock()
	wasActive := m.session.State == domain.CallStateActive
	wasIdle := m.session.State == domain.CallStateIdle
	m.cancelTimersLocked()
	if wasActive {
		now := time.Now()
		m.session.EndedAt = &now
	}
	if m.session.StartedAt != nil && m.session.EndedAt != nil {
		logger.Info("call finished",
			zap.String("room_id", m.roomID.String()),
			zap.Duration("duration", m.session.EndedAt.Sub(*m.session.StartedAt)))
	}
	m.session = domain.CallSession{
		RoomID:      m.roomID,
		State:       domain.CallStateIdle,
		Counterpart: m.counterpart,
	}
	update := m.updateLocked(reason)
	m.mu.Unlock()

	if !wasIdle {
		m.notify(update)
	}
}

func (m *Machine) cancelTimersLocked() {
	m.cancelRingTimerLocked()
	if m.capTimer != nil {
		m.capTimer.Stop()
		m.capTimer = nil
	}
}

func (m *Machine) cancelRingTimerLocked() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
}

func (m *Machine) updateLocked(reason error) *Update {
	if m.onUpdate == nil {
		return nil
	}
	return &Update{
		State:   m.session.State,
		Session: m.session,
		Reason:  reason,
	}
}

func (m *Machine) notify(update *Update) {
	if update == nil {
		return
	}
	m.mu.Lock()
	fn := m.onUpdate
	m.mu.Unlock()
	if fn != nil {
		fn(*update)
	}
}
