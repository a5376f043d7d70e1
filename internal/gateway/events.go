package gateway

import (
	"encoding/json"
	"fmt"
)

// Inbound event types carried on the transport's event stream.
const (
	EventMessage = "message"
	EventSystem  = "system"
)

// System event kinds. All of them are deleted unconditionally by the engine.
const (
	SystemJoin        = "join"
	SystemLeave       = "leave"
	SystemTitleChange = "title_change"
	SystemPhotoChange = "photo_change"
	SystemPhotoDelete = "photo_delete"
)

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("gateway: decode envelope: %w", err)
	}
	e.Type = head.Type
	return nil
}

// InboundMessage is a user text message received from the transport.
type InboundMessage struct {
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"` // unix timestamp from the transport
}

// SystemEvent is a service notification (join/leave/title/photo change)
// received from the transport.
type SystemEvent struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Kind      string `json:"kind"`
}
