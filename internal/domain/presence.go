package domain

import "time"

// PresenceState is the known online/offline state of a counterpart identity.
// Defaults to offline until the first probe response arrives.
type PresenceState struct {
	IsOnline      bool      `json:"is_online"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}
