package constants

import "time"

// CloseCode is a WebSocket close status code sent to clients.
// The values are part of the wire contract with every client kind and must not change.
type CloseCode int

// Standard close codes (RFC 6455).
const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	CloseProtocolError   CloseCode = 1002
	CloseUnsupportedData CloseCode = 1003
	ClosePolicyViolation CloseCode = 1008
	CloseMessageTooBig   CloseCode = 1009
	CloseInternalError   CloseCode = 1011
)

// Application close codes.
const (
	CloseAuthFailed              CloseCode = 4001
	CloseInvalidHandshake        CloseCode = 4002
	CloseMissingSessionID        CloseCode = 4003
	CloseMissingMachineID        CloseCode = 4004
	CloseConnectionLimitExceeded CloseCode = 4005
	CloseDuplicateConnection     CloseCode = 4006
)

// Close reasons sent alongside close codes.
const (
	CloseReasonIdleTimeout    = "idle timeout"
	CloseReasonAuthTimeout    = "authentication timeout"
	CloseReasonShutdown       = "server shutting down"
	CloseReasonSlowConsumer   = "send buffer overflow"
	CloseReasonBinaryFrame    = "binary frames are not supported"
	CloseReasonMessageTooBig  = "message exceeds maximum size"
	CloseReasonClientShutdown = "client disconnect"
	CloseReasonWriteFailed    = "write failed"
	CloseReasonPingFailed     = "ping failed"
)

// Default relay limits.
const (
	// DefaultMaxConnectionsPerUser caps concurrent sockets held by one user.
	DefaultMaxConnectionsPerUser = 100
	// DefaultConnectionTimeout closes sockets with no traffic for this long.
	DefaultConnectionTimeout = 5 * time.Minute
	// DefaultEnableAutoResponse answers ping messages with pong.
	DefaultEnableAutoResponse = true
	// DefaultMaxMessageSize is the largest accepted inbound frame (1 MiB).
	DefaultMaxMessageSize = 1 * BytesPerMiB
	// DefaultAuthTimeout bounds how long an unauthenticated socket may stay open.
	DefaultAuthTimeout = 10 * time.Second
	// DefaultPingInterval is the keep-alive ping period.
	DefaultPingInterval = 30 * time.Second
	// DefaultWriteTimeout bounds a single socket write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultSendBufferSize is the outbound queue depth per connection.
	DefaultSendBufferSize = 256
	// DefaultReapInterval is how often idle sockets are swept.
	DefaultReapInterval = 30 * time.Second
	// DefaultReplayLimit caps the number of updates returned by one replay request.
	DefaultReplayLimit = 500
)

// Session activity cache defaults.
const (
	DefaultSessionCacheTTL             = 30 * time.Second
	DefaultSessionCacheNegativeTTL     = 5 * time.Second
	DefaultSessionCacheCleanupInterval = time.Minute
)

// Handshake query parameters.
const (
	QueryParamToken      = "token"
	QueryParamClientType = "clientType"
	QueryParamSessionID  = "sessionId"
	QueryParamMachineID  = "machineId"
)

// UpdatesPath is the HTTP path upgraded to the sync WebSocket.
const UpdatesPath = "/v1/updates"
