// Package testutil provides shared testing utilities and helpers.
package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/enflame-media/syncrelay/internal/api"
)

// UpdateRecordBuilder provides a fluent interface for building stored updates.
type UpdateRecordBuilder struct {
	record *api.UpdateRecord
}

// NewUpdateRecordBuilder creates a builder for a new-message update on session s1 of user u1.
func NewUpdateRecordBuilder() *UpdateRecordBuilder {
	return &UpdateRecordBuilder{
		record: &api.UpdateRecord{
			StreamKey: api.SessionStream("u1", "s1"),
			UserID:    "u1",
			Seq:       1,
			ID:        "upd-test-1",
			Kind:      api.UpdateNewMessage,
			Body:      json.RawMessage(`{"t":"new-message","sid":"s1","message":{"c":"b3BhcXVl"}}`),
			CreatedAt: time.Now().UnixMilli(),
		},
	}
}

// WithStream sets the stream key and owning user.
func (b *UpdateRecordBuilder) WithStream(userID string, stream api.StreamKey) *UpdateRecordBuilder {
	b.record.UserID = userID
	b.record.StreamKey = stream
	return b
}

// WithSeq sets the sequence number.
func (b *UpdateRecordBuilder) WithSeq(seq int64) *UpdateRecordBuilder {
	b.record.Seq = seq
	return b
}

// WithID sets the update ID.
func (b *UpdateRecordBuilder) WithID(id string) *UpdateRecordBuilder {
	b.record.ID = id
	return b
}

// Build returns the constructed record.
func (b *UpdateRecordBuilder) Build() *api.UpdateRecord {
	return b.record
}

// ActiveSession returns a live session owned by userID.
func ActiveSession(sessionID, userID string) *api.SessionRecord {
	return &api.SessionRecord{SessionID: sessionID, UserID: userID, Active: true}
}

// ArchivedSession returns an archived session owned by userID.
func ArchivedSession(sessionID, userID string) *api.SessionRecord {
	return &api.SessionRecord{
		SessionID:  sessionID,
		UserID:     userID,
		ArchivedAt: time.Now().Unix(),
	}
}

// SilentLogger creates a logger that discards all output.
func SilentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError + 1,
	}))
}
