package constants

import "time"

// DefaultContextTimeout is the default timeout for context operations.
const DefaultContextTimeout = 10 * time.Second

// ServerReadHeaderTimeout is the HTTP server read header timeout
const ServerReadHeaderTimeout = 15 * time.Second

// ServerIdleTimeout is the HTTP server idle timeout
const ServerIdleTimeout = 60 * time.Second

// ServerShutdownTimeout is the timeout for graceful server shutdown
const ServerShutdownTimeout = 5 * time.Second

// StorageCallTimeout bounds a single storage round-trip made while routing a message.
const StorageCallTimeout = 5 * time.Second
