package api

import "encoding/json"

// MessageType is the discriminator of a normalized message.
type MessageType string

// Message types exchanged on the sync socket.
const (
	MessageTypeUpdate      MessageType = "update"
	MessageTypeEphemeral   MessageType = "ephemeral"
	MessageTypeReplay      MessageType = "replay"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeAck         MessageType = "ack"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeAuth        MessageType = "auth"

	// Relay to client only.
	MessageTypeAuthenticated MessageType = "authenticated"
	MessageTypeSubscribed    MessageType = "subscribed"
	MessageTypeUnsubscribed  MessageType = "unsubscribed"
)

// NormalizedMessage is the single in-memory shape both wire formats are
// converted to before routing. Optional fields are nil when absent.
type NormalizedMessage struct {
	Type      string
	Payload   json.RawMessage
	MessageID *string
	Ack       json.RawMessage
	Timestamp *float64
}

// ClientMessage is the client to relay wire shape.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
	Ack   json.RawMessage `json:"ack,omitempty"`
}

// ServerMessage is the relay to client wire shape.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
	MessageID string      `json:"messageId,omitempty"`
}

// AuthRequest is the payload of an in-band auth message.
type AuthRequest struct {
	Token string `json:"token"`
}

// AuthenticatedPayload confirms a successful in-band authentication.
type AuthenticatedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Scope        Scope  `json:"scope"`
}

// SubscriptionRequest is the payload of subscribe and unsubscribe messages.
type SubscriptionRequest struct {
	SID string `json:"sid"`
}

// ReplayRequest asks for stored updates with a sequence above After.
// A missing SID selects the user stream. A nil After falls back to the
// last sequence the connection acknowledged on that stream.
type ReplayRequest struct {
	SID   string `json:"sid,omitempty"`
	After *int64 `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// AckRequest records the last sequence a connection has applied.
type AckRequest struct {
	SID string `json:"sid,omitempty"`
	Seq int64  `json:"seq"`
}

// AckPayload confirms a persisted update to its sender.
type AckPayload struct {
	ID  string `json:"id"`
	Seq int64  `json:"seq"`
}
