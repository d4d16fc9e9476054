package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallState is the lifecycle state of a call session
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateOutgoing   CallState = "outgoing"
	CallStateIncoming   CallState = "incoming"
	CallStateConnecting CallState = "connecting"
	CallStateActive     CallState = "active"
)

// CallRole distinguishes the initiating side from the receiving side
type CallRole string

const (
	CallRoleCaller CallRole = "caller"
	CallRoleCallee CallRole = "callee"
)

// MediaToken is a short-lived, call-scoped credential granting access to one
// specific call's media session. Never reused across calls.
type MediaToken struct {
	Token     string    `json:"token"`
	RoomID    uuid.UUID `json:"room_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// CallSession is the per-room, per-local-identity call state. At most one
// non-idle session may exist per room at any time.
type CallSession struct {
	RoomID          uuid.UUID  `json:"room_id"`
	Role            CallRole   `json:"role"`
	State           CallState  `json:"state"`
	Counterpart     Identity   `json:"counterpart"`
	LocalMediaToken *MediaToken `json:"-"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// InCall reports whether the session is past the signaling phase.
func (s *CallSession) InCall() bool {
	return s.State == CallStateActive
}

// Signaling reports whether the session is ringing on either side.
func (s *CallSession) Signaling() bool {
	return s.State == CallStateOutgoing || s.State == CallStateIncoming || s.State == CallStateConnecting
}
