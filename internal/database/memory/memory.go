// Package memory implements the database repositories in process memory.
// It backs the development server and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/database"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
)

// Store keeps updates, sessions, tokens and dead letters in maps.
// It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	updates     map[api.StreamKey][]*api.UpdateRecord
	sessions    map[string]*api.SessionRecord
	tokens      map[string]*api.TokenRecord
	deadLetters []*api.AlarmDeadLetterEntry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		updates:  make(map[api.StreamKey][]*api.UpdateRecord),
		sessions: make(map[string]*api.SessionRecord),
		tokens:   make(map[string]*api.TokenRecord),
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *database.Repositories {
	return &database.Repositories{
		Updates:     s,
		Sessions:    s,
		Tokens:      s,
		DeadLetters: s,
	}
}

// AppendUpdate stores record. Streams are kept sorted by sequence.
func (s *Store) AppendUpdate(_ context.Context, record *api.UpdateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.updates[record.StreamKey]
	idx := sort.Search(len(stream), func(i int) bool { return stream[i].Seq >= record.Seq })
	if idx < len(stream) && stream[idx].Seq == record.Seq {
		return apperrors.ErrConflict(
			fmt.Sprintf("sequence %d already exists on stream %s", record.Seq, record.StreamKey), nil)
	}

	stored := *record
	stream = append(stream, nil)
	copy(stream[idx+1:], stream[idx:])
	stream[idx] = &stored
	s.updates[record.StreamKey] = stream

	return nil
}

// LatestSequence returns the highest stored sequence of the stream.
func (s *Store) LatestSequence(_ context.Context, stream api.StreamKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.updates[stream]
	if len(records) == 0 {
		return 0, nil
	}
	return records[len(records)-1].Seq, nil
}

// ListUpdatesAfter returns records with seq > after in ascending order.
func (s *Store) ListUpdatesAfter(
	_ context.Context,
	stream api.StreamKey,
	after int64,
	limit int,
) ([]*api.UpdateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.updates[stream]
	idx := sort.Search(len(records), func(i int) bool { return records[i].Seq > after })

	var results []*api.UpdateRecord
	for _, record := range records[idx:] {
		if limit > 0 && len(results) >= limit {
			break
		}
		copied := *record
		results = append(results, &copied)
	}

	return results, nil
}

// GetSession returns the session or nil.
func (s *Store) GetSession(_ context.Context, sessionID string) (*api.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

// PutSession creates or replaces a session row.
func (s *Store) PutSession(_ context.Context, session *api.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.sessions[session.SessionID] = &copied
	return nil
}

// GetTokenByHash returns the token record or nil.
func (s *Store) GetTokenByHash(_ context.Context, tokenHash string) (*api.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

// PutToken stores a token record keyed by its hash. A hash is stored once.
func (s *Store) PutToken(_ context.Context, token *api.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.TokenHash]; exists {
		return apperrors.ErrConflict("token hash already exists", nil)
	}

	copied := *token
	s.tokens[token.TokenHash] = &copied
	return nil
}

// SaveDeadLetter appends entry to the log.
func (s *Store) SaveDeadLetter(_ context.Context, entry *api.AlarmDeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	s.deadLetters = append(s.deadLetters, &copied)
	return nil
}

// ListDeadLetters returns up to limit entries, newest first.
func (s *Store) ListDeadLetters(_ context.Context, limit int) ([]*api.AlarmDeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*api.AlarmDeadLetterEntry
	for i := len(s.deadLetters) - 1; i >= 0; i-- {
		if limit > 0 && len(results) >= limit {
			break
		}
		copied := *s.deadLetters[i]
		results = append(results, &copied)
	}

	return results, nil
}
