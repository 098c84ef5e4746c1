// Package app assembles the relay: storage backends, the session activity
// cache, the connection registry, the alarm scheduler, the router, the socket
// handler and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/enflame-media/syncrelay/internal/config"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/database"
	"github.com/enflame-media/syncrelay/internal/database/memory"
	awsdb "github.com/enflame-media/syncrelay/internal/providers/aws/database"
	redisrepo "github.com/enflame-media/syncrelay/internal/providers/redis"
)

// backends are the repositories selected by configuration.
type backends struct {
	repos *database.Repositories
	// store is set when any repository lives in process memory.
	store   *memory.Store
	closers []func() error
}

// initializeBackends creates the repositories for the configured storage and
// session backends.
//
// Supported backends:
//   - storage "memory": updates, tokens and dead letters in process memory
//   - storage "dynamodb": the same in DynamoDB tables
//   - sessions "memory", "dynamodb" or "redis"
func initializeBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backends, error) {
	log.Debug("initializing relay backends", "context", map[string]any{
		"storage_backend": string(cfg.StorageBackend),
		"session_backend": string(cfg.SessionBackend),
		"version":         *constants.GetVersion(),
	})

	b := &backends{}
	switch cfg.StorageBackend {
	case constants.MemoryBackend:
		b.store = memory.NewStore()
		b.repos = b.store.Repositories()
	case constants.DynamoDBBackend:
		client, err := awsdb.NewClient(ctx, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize DynamoDB: %w", err)
		}
		b.repos = awsdb.CreateRepositories(client, cfg.AWS, cfg.SessionBackend == constants.DynamoDBBackend, log)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: %s, %s)",
			cfg.StorageBackend, constants.MemoryBackend, constants.DynamoDBBackend)
	}

	switch cfg.SessionBackend {
	case constants.MemoryBackend:
		if b.store == nil {
			b.store = memory.NewStore()
		}
		b.repos.Sessions = b.store
	case constants.DynamoDBBackend:
		if b.repos.Sessions == nil {
			client, err := awsdb.NewClient(ctx, cfg.AWS)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize DynamoDB: %w", err)
			}
			b.repos.Sessions = awsdb.CreateRepositories(client, cfg.AWS, true, log).Sessions
		}
	case constants.RedisBackend:
		client, err := redisrepo.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.repos.Sessions = redisrepo.NewSessionRepository(client, cfg.Redis.SessionKeyPrefix, log)
	default:
		return nil, fmt.Errorf("unknown session backend: %s (supported: %s, %s, %s)",
			cfg.SessionBackend, constants.MemoryBackend, constants.DynamoDBBackend, constants.RedisBackend)
	}

	log.Debug("relay backends initialized")
	return b, nil
}

// recorder returns the in-memory session store when the relay owns sessions.
func (b *backends) recorder(cfg *config.Config) *memory.Store {
	if cfg.SessionBackend == constants.MemoryBackend {
		return b.store
	}
	return nil
}
