package constants

// Alarm retry defaults.
const (
	DefaultAlarmMaxRetries   = 3
	DefaultAlarmBaseDelayMs  = 1000
	DefaultAlarmMaxDelayMs   = 30000
	DefaultAlarmJitterFactor = 0.2
)

// Alarm task contexts.
const (
	AlarmContextAuthTimeout       = "auth-timeout"
	AlarmContextCleanup           = "cleanup"
	AlarmContextConnectionTimeout = "connection-timeout"
)

// Client reconnection defaults.
const (
	DefaultReconnectBaseDelayMs       = 1000
	DefaultReconnectMaxDelayMs        = 30000
	DefaultReconnectBackoffMultiplier = 2.0
	DefaultReconnectMaxAttempts       = 10
)
