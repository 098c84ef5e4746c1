package router

import (
	"context"
	"fmt"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/logger"
	"github.com/enflame-media/syncrelay/internal/registry"
)

// streamFor returns the stream an update is sequenced on.
func streamFor(userID string, address api.Address) api.StreamKey {
	if address.Category == api.AddressSession {
		return api.SessionStream(userID, address.ID)
	}
	return api.UserStream(userID)
}

// updateFilter returns the recipients of an update.
func updateFilter(userID string, address api.Address, senderID string) registry.Filter {
	if address.Category == api.AddressSession {
		return registry.Filter{
			UserID:           userID,
			Kind:             registry.AllInterestedInSession,
			SessionID:        address.ID,
			SkipConnectionID: senderID,
		}
	}
	return registry.Filter{
		UserID:           userID,
		Kind:             registry.AllUserAuthenticatedConnections,
		SkipConnectionID: senderID,
	}
}

func (r *Router) routeUpdate(ctx context.Context, userID string, msg *api.NormalizedMessage, sender *registry.Connection) error {
	incoming, err := api.DecodeUpdateBody(msg.Payload)
	if err != nil {
		return malformed(err)
	}

	address := incoming.Body.Address()
	stream := streamFor(userID, address)

	unlock := r.locks.lock(stream)
	defer unlock()

	record, err := r.persist(ctx, userID, stream, incoming)
	if err != nil {
		return err
	}

	r.applySessionLifecycle(ctx, userID, incoming.Body)

	data, err := r.encode(api.MessageTypeUpdate, record.ToUpdate(), "")
	if err != nil {
		return err
	}
	delivered := r.fanOut(updateFilter(userID, address, sender.ID), data)
	r.metrics.EventRouted(categoryUpdate, string(record.Kind))

	if id := messageID(msg); id != "" {
		if err := r.reply(sender, api.MessageTypeAck, api.AckPayload{ID: record.ID, Seq: record.Seq}, id); err != nil {
			return err
		}
	}

	logger.DeriveRequestLogger(ctx, r.logger).Debug("update routed", "context", map[string]any{
		"stream":     string(stream),
		"seq":        record.Seq,
		"kind":       string(record.Kind),
		"recipients": delivered,
	})
	return nil
}

// persist assigns the next sequence of stream and stores the update. A
// proposed sequence must equal the one the relay would assign.
func (r *Router) persist(
	ctx context.Context,
	userID string,
	stream api.StreamKey,
	incoming *api.IncomingUpdate,
) (*api.UpdateRecord, error) {
	storeCtx, cancel := storageContext(ctx)
	defer cancel()

	latest, err := r.updates.LatestSequence(storeCtx, stream)
	if err != nil {
		return nil, &dropError{reason: dropStorage, cause: err}
	}

	next := latest + 1
	if incoming.ProposedSeq != nil && *incoming.ProposedSeq != next {
		return nil, &dropError{
			reason: dropSeqMismatch,
			cause:  fmt.Errorf("proposed seq %d, next is %d", *incoming.ProposedSeq, next),
		}
	}

	record := &api.UpdateRecord{
		StreamKey: stream,
		UserID:    userID,
		Seq:       next,
		ID:        r.newID(),
		Kind:      incoming.Body.Kind(),
		Body:      incoming.Raw,
		CreatedAt: r.now().UnixMilli(),
	}
	if err := r.updates.AppendUpdate(storeCtx, record); err != nil {
		if isConflict(err) {
			return nil, &dropError{reason: dropSeqConflict, cause: err}
		}
		return nil, &dropError{reason: dropStorage, cause: err}
	}
	return record, nil
}

// applySessionLifecycle keeps the session activity cache in step with
// session creation and deletion.
func (r *Router) applySessionLifecycle(ctx context.Context, userID string, body api.UpdateBody) {
	var session *api.SessionRecord

	switch b := body.(type) {
	case *api.NewSessionBody:
		r.sessions.MarkValid(b.SID, userID)
		session = &api.SessionRecord{SessionID: b.SID, UserID: userID, Active: true}
	case *api.DeleteSessionBody:
		r.sessions.Invalidate(b.SID)
		session = &api.SessionRecord{SessionID: b.SID, UserID: userID, ArchivedAt: r.now().Unix()}
	default:
		return
	}

	if r.recorder == nil {
		return
	}
	storeCtx, cancel := storageContext(ctx)
	defer cancel()
	if err := r.recorder.PutSession(storeCtx, session); err != nil {
		logger.DeriveRequestLogger(ctx, r.logger).Warn("failed to record session lifecycle", "context", map[string]any{
			"session_id": session.SessionID,
			"error":      err.Error(),
		})
	}
}
