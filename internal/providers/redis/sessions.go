// Package redis reads session ownership from Redis hashes written by the
// session service. Each session is a hash at <prefix><sessionId> with the
// fields user_id, active and archived_at.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/database"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/logger"
)

// HashReader is the subset of the go-redis client used by SessionRepository.
type HashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// SessionRepository implements database.SessionRepository on Redis.
type SessionRepository struct {
	client    HashReader
	keyPrefix string
	logger    *slog.Logger
}

// NewSessionRepository creates a Redis-backed session repository.
func NewSessionRepository(client HashReader, keyPrefix string, log *slog.Logger) database.SessionRepository {
	return &SessionRepository{client: client, keyPrefix: keyPrefix, logger: log}
}

// NewClient connects to Redis and verifies the connection with PING.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// GetSession returns nil when the hash does not exist.
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*api.SessionRecord, error) {
	key := r.keyPrefix + sessionID

	logArgs := []any{
		"operation", "Redis.HGetAll",
		"key", key,
	}
	logArgs = append(logArgs, logger.GetDeadlineInfo(ctx)...)
	logger.DeriveRequestLogger(ctx, r.logger).Debug("calling external service", "context", logger.SliceToMap(logArgs))

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, apperrors.ErrDatabaseError("failed to read session", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	record := &api.SessionRecord{
		SessionID: sessionID,
		UserID:    fields["user_id"],
	}
	if raw, ok := fields["active"]; ok {
		if record.Active, err = strconv.ParseBool(raw); err != nil {
			return nil, apperrors.ErrDatabaseError("invalid active field on session "+sessionID, err)
		}
	}
	if raw := fields["archived_at"]; raw != "" {
		if record.ArchivedAt, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, apperrors.ErrDatabaseError("invalid archived_at field on session "+sessionID, err)
		}
	}

	return record, nil
}
