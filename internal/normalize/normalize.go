// Package normalize converts the two socket wire shapes into a single
// api.NormalizedMessage.
//
// Client messages look like {event, data, ackId, ack}; relay messages look
// like {type, payload, timestamp, messageId}. When an object carries a string
// `event`, it is read as a client message even if it also has a `type`.
package normalize

import (
	"encoding/json"

	"github.com/enflame-media/syncrelay/internal/api"
)

type fields map[string]json.RawMessage

// Decode parses a text frame and normalizes it. It returns nil for anything
// that is not a JSON object with a string `event` or `type`.
func Decode(data []byte) *api.NormalizedMessage {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	return fromFields(f)
}

// Normalize accepts an already decoded value, raw JSON bytes or a map, and
// returns nil when it is not a message. It never panics.
func Normalize(raw any) *api.NormalizedMessage {
	switch v := raw.(type) {
	case []byte:
		return Decode(v)
	case json.RawMessage:
		return Decode(v)
	case map[string]json.RawMessage:
		return fromFields(v)
	case map[string]any:
		f := make(fields, len(v))
		for key, value := range v {
			encoded, err := json.Marshal(value)
			if err != nil {
				// Only wire-representable values can be relayed.
				return nil
			}
			f[key] = encoded
		}
		return fromFields(f)
	default:
		return nil
	}
}

func fromFields(f fields) *api.NormalizedMessage {
	if f == nil {
		return nil
	}

	if event, ok := f.str("event"); ok {
		return &api.NormalizedMessage{
			Type:      event,
			Payload:   f.raw("data"),
			MessageID: f.strPtr("ackId"),
			Ack:       f.raw("ack"),
		}
	}

	if msgType, ok := f.str("type"); ok {
		return &api.NormalizedMessage{
			Type:      msgType,
			Payload:   f.raw("payload"),
			MessageID: f.strPtr("messageId"),
			Timestamp: f.number("timestamp"),
		}
	}

	return nil
}

func (f fields) str(key string) (string, bool) {
	raw, ok := f[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (f fields) strPtr(key string) *string {
	if s, ok := f.str(key); ok {
		return &s
	}
	return nil
}

// raw returns the field's bytes, treating an explicit null as absent.
func (f fields) raw(key string) json.RawMessage {
	raw, ok := f[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	return raw
}

func (f fields) number(key string) *float64 {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	return &n
}
