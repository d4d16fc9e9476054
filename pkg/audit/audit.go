package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quitline-realtime/pkg/constants"
)

// EventType represents the type of audit event
type EventType string

const (
	// Connection events
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"

	// Room events
	EventRoomJoin  EventType = "room_join"
	EventRoomLeave EventType = "room_leave"

	// Call events
	EventCallInvite EventType = "call_invite"
	EventCallAccept EventType = "call_accept"
	EventCallReject EventType = "call_reject"
	EventCallEnd    EventType = "call_end"
)

// Event is one audit log entry. Message bodies are never recorded; the trail
// covers who connected where and when calls happened, not what was said.
type Event struct {
	EventID    uuid.UUID `json:"event_id"`
	IdentityID uuid.UUID `json:"identity_id"`
	EventType  EventType `json:"event_type"`
	RoomID     uuid.UUID `json:"room_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Logger writes audit events to a daily Redis list with a retention window.
type Logger struct {
	redisClient *redis.Client
}

// NewLogger creates a new audit logger
func NewLogger(redisClient *redis.Client) *Logger {
	return &Logger{redisClient: redisClient}
}

// Log records an audit event
func (l *Logger) Log(ctx context.Context, event *Event) error {
	event.Timestamp = time.Now().UTC()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	key := fmt.Sprintf("audit:events:%s", event.Timestamp.Format("2006-01-02"))
	if err := l.redisClient.LPush(ctx, key, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}
	if err := l.redisClient.Expire(ctx, key, constants.AuditLogRetention).Err(); err != nil {
		return fmt.Errorf("failed to set audit log expiry: %w", err)
	}
	return nil
}

// LogConnect records a client connection
func (l *Logger) LogConnect(ctx context.Context, identityID uuid.UUID) error {
	return l.Log(ctx, &Event{IdentityID: identityID, EventType: EventConnect})
}

// LogDisconnect records a client disconnection
func (l *Logger) LogDisconnect(ctx context.Context, identityID uuid.UUID) error {
	return l.Log(ctx, &Event{IdentityID: identityID, EventType: EventDisconnect})
}

// LogRoomJoin records a room join
func (l *Logger) LogRoomJoin(ctx context.Context, identityID, roomID uuid.UUID) error {
	return l.Log(ctx, &Event{IdentityID: identityID, EventType: EventRoomJoin, RoomID: roomID})
}

// LogRoomLeave records a room leave
func (l *Logger) LogRoomLeave(ctx context.Context, identityID, roomID uuid.UUID) error {
	return l.Log(ctx, &Event{IdentityID: identityID, EventType: EventRoomLeave, RoomID: roomID})
}

// LogCall records a call signaling event with its wire reason, if any
func (l *Logger) LogCall(ctx context.Context, eventType EventType, identityID, roomID uuid.UUID, detail string) error {
	return l.Log(ctx, &Event{
		IdentityID: identityID,
		EventType:  eventType,
		RoomID:     roomID,
		Detail:     detail,
	})
}
