package transport

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a wire message in either direction.
type MessageType string

const (
	// Handshake message types
	TypeConnectionHello MessageType = "connection:hello"
	TypeConnectionReady MessageType = "connection:ready"

	// Correlated request types issued by the desktop UI
	TypeSessionStart MessageType = "session:start"
	TypeSessionPing  MessageType = "session:ping"
	TypeFileOpen     MessageType = "file:open"
	TypeFileSave     MessageType = "file:save"
	TypeReviewFetch  MessageType = "review:fetch"

	// Broadcast types produced by the backend
	TypeDashboardUpdate MessageType = "dashboard:update"
	TypePlanningUpdate  MessageType = "planning:update"
	TypeCoachingHint    MessageType = "coaching:hint"
	TypeReviewComment   MessageType = "review:comment"

	// Fire-and-forget UI telemetry, no server acknowledgment expected
	TypeCursorMove      MessageType = "cursor:move"
	TypeSelectionChange MessageType = "selection:change"
	TypeScrollSync      MessageType = "scroll:sync"
	TypeBufferUpdate    MessageType = "buffer:update"
	TypeSessionIdle     MessageType = "session:idle"
	TypeCoachingDismiss MessageType = "coaching:dismiss"
)

// Message is the wire shape in both directions. ID is present only on
// correlated requests and their matching responses. Timestamp is Unix
// milliseconds.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WindowSize describes the desktop window, reported in the handshake.
type WindowSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HelloPayload is the handshake payload sent right after the socket opens.
type HelloPayload struct {
	Version    string      `json:"version"`
	Platform   string      `json:"platform"`
	WindowSize *WindowSize `json:"windowSize,omitempty"`
}

// NewMessage builds an outbound message, encoding the payload as JSON.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// NewHelloMessage builds the fixed handshake message.
func NewHelloMessage(version, platform string, size *WindowSize) *Message {
	msg, _ := NewMessage(TypeConnectionHello, HelloPayload{
		Version:    version,
		Platform:   platform,
		WindowSize: size,
	})
	return msg
}

// DecodePayload unmarshals the message payload into v.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// ToJSON converts the message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func FromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}
