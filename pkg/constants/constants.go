// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Transport constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout is the deadline for a single WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// DialTimeout is the timeout for establishing the transport connection
	DialTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Presence constants
const (
	// PresenceProbeInterval is how often a liveness probe is sent for the counterpart
	PresenceProbeInterval = 30 * time.Second

	// PresenceTTL is how long a relay-side presence key lives without a heartbeat
	PresenceTTL = 5 * time.Minute
)

// Typing indicator constants
const (
	// TypingDebounce is the idle period after which a local typing burst ends
	TypingDebounce = 2 * time.Second

	// TypingExpiry is how long a remote typing flag survives without a refresh.
	// Matches the sender-side debounce so a dropped stop event self-heals.
	TypingExpiry = 2 * time.Second
)

// Call signaling constants
const (
	// RingingTimeout is how long an outgoing call rings before auto-cancel
	RingingTimeout = 45 * time.Second

	// MaxCallDuration is the hard ceiling on an active call
	MaxCallDuration = 60 * time.Minute
)

// Audit constants
const (
	// AuditLogRetention is how long relay audit entries are kept
	AuditLogRetention = 90 * 24 * time.Hour
)

// Pagination constants
const (
	// DefaultPageSize is the default number of messages per history page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of messages per history page
	MaxPageSize = 100
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message body length
	MaxMessageLength = 10000
)

// REST collaborator constants
const (
	// RESTRequestTimeout is the timeout for a single REST call (token/page fetch)
	RESTRequestTimeout = 15 * time.Second

	// RoomListCacheTTL is how long a fetched room directory is reused
	RoomListCacheTTL = 30 * time.Second
)
