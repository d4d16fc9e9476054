package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"quitline-realtime/internal/domain"
)

// Outbound event names (client -> relay)
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventCheckOnline = "checkOnline"
	EventStartCall   = "startCall"
	EventAcceptCall  = "acceptCall"
	EventRejectCall  = "rejectCall"
	EventEndCall     = "endCall"
)

// Inbound event names (relay -> client)
const (
	EventNewMessage   = "newMessage"
	EventUserTyping   = "userTyping"
	EventOnlineStatus = "user-online-status"
	EventUserOnline   = "user-online"
	EventUserOffline  = "user-offline"
	EventIncomingCall = "incoming-call"
	EventCallAccepted = "call-accepted"
	EventCallRejected = "call-rejected"
	EventCallEnded    = "call-ended"
	EventError        = "error"
)

// EventConnectionError is a synthetic local event emitted to all subscribers
// when the transport itself fails. It never travels over the wire.
const EventConnectionError = "connectionError"

// Envelope is the wire frame: a named event with a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound payloads

type JoinRoomPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

type LeaveRoomPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

type SendMessagePayload struct {
	RoomID uuid.UUID `json:"room_id"`
	Body   string    `json:"body"`
}

type TypingPayload struct {
	RoomID   uuid.UUID `json:"room_id"`
	IsTyping bool      `json:"is_typing"`
}

type CheckOnlinePayload struct {
	IdentityID uuid.UUID `json:"identity_id"`
}

type StartCallPayload struct {
	RoomID      uuid.UUID `json:"room_id"`
	CallerToken string    `json:"caller_token"`
}

type AcceptCallPayload struct {
	RoomID        uuid.UUID `json:"room_id"`
	CallerID      uuid.UUID `json:"caller_id"`
	AccepterToken string    `json:"accepter_token"`
}

type RejectCallPayload struct {
	RoomID   uuid.UUID `json:"room_id"`
	CallerID uuid.UUID `json:"caller_id"`
}

type EndCallPayload struct {
	RoomID uuid.UUID `json:"room_id"`
	Reason string    `json:"reason,omitempty"`
}

// Inbound payloads

type NewMessagePayload = domain.Message

type UserTypingPayload struct {
	IdentityID uuid.UUID `json:"identity_id"`
	RoomID     uuid.UUID `json:"room_id"`
	IsTyping   bool      `json:"is_typing"`
}

// OnlineStatusPayload covers user-online-status, user-online and user-offline;
// all three reduce to "set IsOnline, timestamp it".
type OnlineStatusPayload struct {
	IdentityID uuid.UUID `json:"identity_id"`
	IsOnline   bool      `json:"is_online"`
	At         time.Time `json:"at,omitempty"`
}

type IncomingCallPayload struct {
	RoomID uuid.UUID       `json:"room_id"`
	Caller domain.Identity `json:"caller"`
	Token  string          `json:"token,omitempty"`
}

type CallAcceptedPayload struct {
	RoomID uuid.UUID `json:"room_id"`
	Token  string    `json:"token"`
}

type CallRejectedPayload struct {
	RoomID uuid.UUID       `json:"room_id"`
	Callee domain.Identity `json:"callee"`
}

type CallEndedPayload struct {
	RoomID uuid.UUID `json:"room_id"`
	Reason string    `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode marshals an event and payload into a wire frame.
func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(&Envelope{Event: event, Data: data})
}

// Decode unmarshals a wire frame.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
