package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/registry"
)

var errMissingSessionID = errors.New("missing sid")

func decodePayload(msg *api.NormalizedMessage, v any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return malformed(err)
	}
	return nil
}

func (r *Router) replayStream(userID, sessionID string) api.StreamKey {
	if sessionID == "" {
		return api.UserStream(userID)
	}
	return api.SessionStream(userID, sessionID)
}

// replay sends stored updates above the requested sequence to the sender only.
func (r *Router) replay(ctx context.Context, userID string, msg *api.NormalizedMessage, sender *registry.Connection) error {
	var req api.ReplayRequest
	if err := decodePayload(msg, &req); err != nil {
		return err
	}

	stream := r.replayStream(userID, req.SID)
	after := sender.LastAck(stream)
	if req.After != nil {
		after = *req.After
	}
	limit := req.Limit
	if limit <= 0 || limit > r.cfg.ReplayLimit {
		limit = r.cfg.ReplayLimit
	}

	storeCtx, cancel := storageContext(ctx)
	records, err := r.updates.ListUpdatesAfter(storeCtx, stream, after, limit)
	cancel()
	if err != nil {
		return &dropError{reason: dropStorage, cause: err}
	}

	for _, record := range records {
		data, err := r.encode(api.MessageTypeUpdate, record.ToUpdate(), "")
		if err != nil {
			return err
		}
		if !sender.Enqueue(data) {
			break
		}
	}
	r.metrics.EventRouted(categoryControl, string(api.MessageTypeReplay))
	return nil
}

func (r *Router) subscribe(ctx context.Context, userID string, msg *api.NormalizedMessage, sender *registry.Connection) error {
	var req api.SubscriptionRequest
	if err := decodePayload(msg, &req); err != nil {
		return err
	}
	if req.SID == "" {
		return malformed(errMissingSessionID)
	}
	if !r.sessions.IsSessionValid(ctx, req.SID, userID) {
		return &dropError{reason: dropSessionInvalid, cause: fmt.Errorf("subscribe to session %q", req.SID)}
	}

	sender.Subscribe(req.SID)
	r.metrics.EventRouted(categoryControl, string(api.MessageTypeSubscribe))
	return r.reply(sender, api.MessageTypeSubscribed, req, messageID(msg))
}

func (r *Router) unsubscribe(msg *api.NormalizedMessage, sender *registry.Connection) error {
	var req api.SubscriptionRequest
	if err := decodePayload(msg, &req); err != nil {
		return err
	}
	if req.SID == "" {
		return malformed(errMissingSessionID)
	}

	sender.Unsubscribe(req.SID)
	r.metrics.EventRouted(categoryControl, string(api.MessageTypeUnsubscribe))
	return r.reply(sender, api.MessageTypeUnsubscribed, req, messageID(msg))
}

func (r *Router) ack(userID string, msg *api.NormalizedMessage, sender *registry.Connection) error {
	var req api.AckRequest
	if err := decodePayload(msg, &req); err != nil {
		return err
	}
	if req.Seq <= 0 {
		return malformed(fmt.Errorf("ack seq %d", req.Seq))
	}

	sender.Ack(r.replayStream(userID, req.SID), req.Seq)
	return nil
}

func (r *Router) pong(msg *api.NormalizedMessage, sender *registry.Connection) {
	if !r.cfg.EnableAutoResponse {
		return
	}
	_ = r.reply(sender, api.MessageTypePong, nil, messageID(msg))
}
