package domain

import "github.com/google/uuid"

// RoomStatus is the lifecycle state of a room
type RoomStatus string

const (
	RoomStatusActive RoomStatus = "active"
	RoomStatusEnded  RoomStatus = "ended"
)

// Room represents a persistent pairing between two identities over which
// messages and calls occur. Created and ended by the REST collaborator;
// the realtime core only reads it.
type Room struct {
	ID           uuid.UUID  `json:"id"`
	ParticipantA Identity   `json:"participant_a"`
	ParticipantB Identity   `json:"participant_b"`
	Status       RoomStatus `json:"status"`
}

// Counterpart returns the participant that is not the given local identity.
func (r *Room) Counterpart(localID uuid.UUID) Identity {
	if r.ParticipantA.ID == localID {
		return r.ParticipantB
	}
	return r.ParticipantA
}
