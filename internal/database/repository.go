// Package database defines repository interfaces for data persistence.
// It provides abstractions for the update log, session lookups, token
// verification and the alarm dead-letter log.
package database

import (
	"context"

	"github.com/enflame-media/syncrelay/internal/api"
)

// UpdateRepository stores sequenced persistent updates.
// Records are append-only: a sequence number, once written, is never reused or rewritten.
type UpdateRepository interface {
	// AppendUpdate stores record under its stream key and sequence.
	// Returns an ErrConflict AppError when the sequence is already taken.
	AppendUpdate(ctx context.Context, record *api.UpdateRecord) error

	// LatestSequence returns the highest stored sequence for the stream, or 0 when it is empty.
	LatestSequence(ctx context.Context, stream api.StreamKey) (int64, error)

	// ListUpdatesAfter returns at most limit records with seq > after, in ascending sequence order.
	ListUpdatesAfter(ctx context.Context, stream api.StreamKey, after int64, limit int) ([]*api.UpdateRecord, error)
}

// SessionRepository answers session ownership lookups for the session activity cache.
// The sessions themselves are owned by an external service.
type SessionRepository interface {
	// GetSession returns the session, or nil when it does not exist.
	GetSession(ctx context.Context, sessionID string) (*api.SessionRecord, error)
}

// TokenRepository resolves hashed bearer tokens presented on the handshake.
type TokenRepository interface {
	// GetTokenByHash returns the token record, or nil when no token has this hash.
	GetTokenByHash(ctx context.Context, tokenHash string) (*api.TokenRecord, error)
}

// TokenWriter provisions bearer tokens. Only hashes are ever stored.
type TokenWriter interface {
	// PutToken stores token. Returns an ErrConflict AppError when the hash is already taken.
	PutToken(ctx context.Context, token *api.TokenRecord) error
}

// DeadLetterRepository persists the alarm dead-letter log for operators.
type DeadLetterRepository interface {
	// SaveDeadLetter appends an entry. Entries are never updated.
	SaveDeadLetter(ctx context.Context, entry *api.AlarmDeadLetterEntry) error

	// ListDeadLetters returns up to limit entries, newest first.
	ListDeadLetters(ctx context.Context, limit int) ([]*api.AlarmDeadLetterEntry, error)
}

// Repositories bundles the repositories of one storage backend.
type Repositories struct {
	Updates     UpdateRepository
	Sessions    SessionRepository
	Tokens      TokenRepository
	DeadLetters DeadLetterRepository
}
