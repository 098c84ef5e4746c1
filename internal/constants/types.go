package constants

// BackendProvider represents the storage backend implementation.
type BackendProvider string

const (
	// MemoryBackend keeps state in process memory (development and tests).
	MemoryBackend BackendProvider = "memory"
	// DynamoDBBackend persists state in Amazon DynamoDB.
	DynamoDBBackend BackendProvider = "dynamodb"
	// RedisBackend reads session ownership from Redis hashes.
	RedisBackend BackendProvider = "redis"
)

// Environment represents the execution environment (e.g., CLI, server).
type Environment string

// Environment types for logger configuration.
const (
	Development Environment = "development"
	Production  Environment = "production"
	CLI         Environment = "cli"
)
