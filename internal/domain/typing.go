package domain

import "time"

// TypingState is the self-expiring typing indicator for a counterpart identity.
type TypingState struct {
	IsTyping  bool      `json:"is_typing"`
	ExpiresAt time.Time `json:"expires_at"`
}
