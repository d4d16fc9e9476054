package domain

import "github.com/google/uuid"

// Identity represents an authenticated user as seen by the realtime core.
// Immutable per session; obtained from the auth collaborator.
type Identity struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarRef   string    `json:"avatar_ref,omitempty"`
}
