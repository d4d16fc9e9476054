package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a chat message entity. Messages are created server-side
// and observed by the core either via a history page fetch or a live push;
// they are never mutated. ID is the dedup key across the two delivery paths.
type Message struct {
	ID       uuid.UUID `json:"id"`
	RoomID   uuid.UUID `json:"room_id"`
	SenderID uuid.UUID `json:"sender_id"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sent_at"`
}
