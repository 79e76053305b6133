// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 54 * time.Second

	// WebSocketPongWait is how long a peer may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait bounds a single frame write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// HTTP API constants
const (
	// APIRequestsPerMinute is the REST budget of one user or client IP
	APIRequestsPerMinute = 120

	// RedisHealthCheckInterval is how often degraded mode is re-evaluated
	RedisHealthCheckInterval = 10 * time.Second

	// Profile cache for identity lookups on join
	ProfileCacheTTL     = 5 * time.Minute
	ProfileCacheMaxSize = 10000

	// ReadHeaderTimeout bounds how long a client may take to send headers
	ReadHeaderTimeout = 10 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100

	// MinPageSize is the minimum number of items per page
	MinPageSize = 1
)

// Signaling constants
const (
	// MaxSignalingMessageSize caps one inbound frame; SDP offers stay well below it
	MaxSignalingMessageSize = 64 * 1024

	// ClientSendBuffer is the per-connection outbound queue length
	ClientSendBuffer = 256

	// ControllerInboxSize is the buffer of the controller's event channel
	ControllerInboxSize = 1024

	// MaxDisplayNameLength is the maximum allowed display name length
	MaxDisplayNameLength = 100
)

// Presence status constants
const (
	// UserStatusOnline indicates a user is currently online
	UserStatusOnline = "online"

	// UserStatusOffline indicates a user is currently offline
	UserStatusOffline = "offline"
)
