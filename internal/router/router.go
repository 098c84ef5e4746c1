// Package router routes normalized socket messages from one connection to the
// other connections of the same user.
//
// Updates are sequenced per stream, persisted and then fanned out while the
// stream is still locked, so every recipient sees them in sequence order.
// Ephemeral events are relayed best-effort and never stored. Payloads are
// relayed as received; the router only reads the routing identifiers.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/database"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/logger"
	"github.com/enflame-media/syncrelay/internal/metrics"
	"github.com/enflame-media/syncrelay/internal/registry"
)

// Reasons recorded when a message is dropped.
const (
	dropMalformed      = "malformed"
	dropUnknownType    = "unknown-type"
	dropSessionInvalid = "session-invalid"
	dropSeqMismatch    = "sequence-mismatch"
	dropSeqConflict    = "sequence-conflict"
	dropStorage        = "storage-error"
	dropPanic          = "panic"
)

// Event categories used in metrics.
const (
	categoryUpdate    = "update"
	categoryEphemeral = "ephemeral"
	categoryControl   = "control"
)

// SessionValidator is the session activity cache as seen by the router.
type SessionValidator interface {
	IsSessionValid(ctx context.Context, sessionID, userID string) bool
	Invalidate(sessionID string)
	MarkValid(sessionID, userID string)
}

// Recipients finds the connections an event is delivered to.
type Recipients interface {
	Find(filter registry.Filter) []*registry.Connection
}

// SessionRecorder mirrors session lifecycle updates into the session store.
// Only set when the relay itself owns the sessions (the in-memory backend).
type SessionRecorder interface {
	PutSession(ctx context.Context, session *api.SessionRecord) error
}

// Config controls optional router behaviour.
type Config struct {
	EnableAutoResponse bool
	ReplayLimit        int
}

// Dependencies are the collaborators of a Router.
type Dependencies struct {
	Updates     database.UpdateRepository
	Sessions    SessionValidator
	Connections Recipients
	// Recorder may be nil.
	Recorder SessionRecorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Router dispatches messages by type. It is safe for concurrent use.
type Router struct {
	updates  database.UpdateRepository
	sessions SessionValidator
	conns    Recipients
	recorder SessionRecorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config

	locks *streamLocks
	now   func() time.Time
	newID func() string
}

// New creates a router.
func New(deps Dependencies, cfg Config) *Router {
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = constants.DefaultReplayLimit
	}
	return &Router{
		updates:  deps.Updates,
		sessions: deps.Sessions,
		conns:    deps.Connections,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
		locks:    newStreamLocks(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Route handles one message from sender on behalf of userID. Failures drop
// the message and are logged; they never reach the sender's socket.
func (r *Router) Route(ctx context.Context, userID string, msg *api.NormalizedMessage, sender *registry.Connection) {
	if msg == nil || sender == nil {
		return
	}

	reqLogger := logger.DeriveRequestLogger(ctx, r.logger)
	start := r.now()
	category := categoryControl

	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.EventDropped(dropPanic)
			reqLogger.Error("panic while routing message", "context", map[string]any{
				"connection_id": sender.ID,
				"user_id":       userID,
				"type":          msg.Type,
				"panic":         fmt.Sprint(rec),
				"stack":         string(debug.Stack()),
			})
		}
		r.metrics.ObserveRoute(category, r.now().Sub(start))
	}()

	var err error
	switch api.MessageType(msg.Type) {
	case api.MessageTypeUpdate:
		category = categoryUpdate
		err = r.routeUpdate(ctx, userID, msg, sender)
	case api.MessageTypeEphemeral:
		category = categoryEphemeral
		err = r.routeEphemeral(ctx, userID, msg, sender, api.DecodeEphemeral)
	case api.MessageTypeReplay:
		err = r.replay(ctx, userID, msg, sender)
	case api.MessageTypeSubscribe:
		err = r.subscribe(ctx, userID, msg, sender)
	case api.MessageTypeUnsubscribe:
		err = r.unsubscribe(msg, sender)
	case api.MessageTypeAck:
		err = r.ack(userID, msg, sender)
	case api.MessageTypePing:
		r.pong(msg, sender)
	default:
		if !api.IsEphemeralKind(msg.Type) {
			err = &dropError{reason: dropUnknownType, cause: fmt.Errorf("message type %q", msg.Type)}
			break
		}
		category = categoryEphemeral
		kind := api.EphemeralKind(msg.Type)
		err = r.routeEphemeral(ctx, userID, msg, sender, func(raw json.RawMessage) (api.EphemeralEvent, error) {
			return api.DecodeEphemeralKind(kind, raw)
		})
	}

	if err != nil {
		r.logDrop(reqLogger, err, userID, msg, sender)
	}
}

// dropError explains why a message was not delivered.
type dropError struct {
	reason string
	cause  error
}

func (e *dropError) Error() string {
	return e.reason + ": " + e.cause.Error()
}

func (e *dropError) Unwrap() error {
	return e.cause
}

func (r *Router) logDrop(reqLogger *slog.Logger, err error, userID string, msg *api.NormalizedMessage, sender *registry.Connection) {
	reason := dropStorage
	var de *dropError
	if errors.As(err, &de) {
		reason = de.reason
	}
	r.metrics.EventDropped(reason)

	logArgs := map[string]any{
		"connection_id": sender.ID,
		"user_id":       userID,
		"type":          msg.Type,
		"reason":        reason,
		"error":         err.Error(),
	}
	switch reason {
	case dropMalformed, dropUnknownType, dropSessionInvalid:
		reqLogger.Debug("message dropped", "context", logArgs)
	default:
		reqLogger.Warn("message dropped", "context", logArgs)
	}
}

func malformed(err error) error {
	return &dropError{reason: dropMalformed, cause: err}
}

// fanOut enqueues data on every connection matching filter and returns the
// number of recipients.
func (r *Router) fanOut(filter registry.Filter, data []byte) int {
	delivered := 0
	for _, conn := range r.conns.Find(filter) {
		if conn.Enqueue(data) {
			delivered++
		}
	}
	return delivered
}

func (r *Router) encode(msgType api.MessageType, payload any, messageID string) ([]byte, error) {
	return json.Marshal(api.ServerMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: r.now().UnixMilli(),
		MessageID: messageID,
	})
}

// reply sends a server message to the sender only.
func (r *Router) reply(sender *registry.Connection, msgType api.MessageType, payload any, messageID string) error {
	data, err := r.encode(msgType, payload, messageID)
	if err != nil {
		return err
	}
	sender.Enqueue(data)
	return nil
}

func messageID(msg *api.NormalizedMessage) string {
	if msg.MessageID == nil {
		return ""
	}
	return *msg.MessageID
}

func storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, constants.StorageCallTimeout)
}

func isConflict(err error) bool {
	return apperrors.GetErrorCode(err) == apperrors.ErrCodeConflict
}
