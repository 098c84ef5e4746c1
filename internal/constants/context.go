package constants

// ConfigCtxKeyType is the type for the config context key
type ConfigCtxKeyType string

// ConfigCtxKey is the key used to store config in context
const ConfigCtxKey ConfigCtxKeyType = "config"

// RequestIDLogField is the field name used for request ID in log entries
const RequestIDLogField = "request_id"

// ConnectionIDLogField is the field name used for WebSocket connection IDs in log entries
const ConnectionIDLogField = "connection_id"
