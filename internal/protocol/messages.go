// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeMessage     = "message"
	TypeSetUsername = "setUsername"
)

// Server -> Client message types. TypeMessage is shared: broadcast chat and
// system announcements both go out as "message" frames.
const (
	TypeNotification = "notification"
	TypeError        = "error"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ChatMsg is a text message sent by the client for broadcast to the room.
type ChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SetUsernameMsg is sent by the client to request an identity rename.
type SetUsernameMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// UserInfo is the identity snapshot attached to outbound messages: the
// sender's username and display color at the time the message was built.
type UserInfo struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Style carries presentational hints for system-originated messages. It is
// ignored by non-rendering consumers.
type Style struct {
	FontStyle string `json:"fontStyle"`
	FontSize  string `json:"fontSize"`
	Color     string `json:"color"`
}

// NotificationMsg confirms an identity assignment or change to the sender only.
type NotificationMsg struct {
	Type string   `json:"type"`
	Text string   `json:"text"`
	User UserInfo `json:"user"`
}

// ErrorMsg reports a rejected request to the sender only.
type ErrorMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BroadcastMsg is a chat or system message delivered to broadcast recipients.
// Timestamp is server-assigned (RFC 3339 UTC). Style is set only on
// system-originated messages.
type BroadcastMsg struct {
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	User      UserInfo `json:"user"`
	Timestamp string   `json:"timestamp"`
	Style     *Style   `json:"style,omitempty"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or server-only
// message types; the caller is expected to log the error and drop the frame
// without replying.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetUsername:
		var m SetUsernameMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
