package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/registry"
)

// ephemeralFilterKind maps an ephemeral kind to its recipient filter.
func ephemeralFilterKind(kind api.EphemeralKind) registry.FilterKind {
	switch kind {
	case api.EphemeralACPSessionUpdate, api.EphemeralACPPermissionRequest, api.EphemeralACPPermissionResponse:
		return registry.AllInterestedInSession
	default:
		return registry.UserScopedOnly
	}
}

func (r *Router) routeEphemeral(
	ctx context.Context,
	userID string,
	msg *api.NormalizedMessage,
	sender *registry.Connection,
	decode func(json.RawMessage) (api.EphemeralEvent, error),
) error {
	event, err := decode(msg.Payload)
	if err != nil {
		return malformed(err)
	}

	address := event.Address()
	if event.CarriesACP() && !r.sessions.IsSessionValid(ctx, address.ID, userID) {
		return &dropError{
			reason: dropSessionInvalid,
			cause:  fmt.Errorf("session %q is not live for the user", address.ID),
		}
	}

	filter := registry.Filter{
		UserID:           userID,
		Kind:             ephemeralFilterKind(event.Kind()),
		SkipConnectionID: sender.ID,
	}
	if filter.Kind == registry.AllInterestedInSession {
		filter.SessionID = address.ID
	}

	data, err := r.encode(api.MessageType(msg.Type), msg.Payload, "")
	if err != nil {
		return err
	}
	r.fanOut(filter, data)
	r.metrics.EventRouted(categoryEphemeral, string(event.Kind()))
	return nil
}
