package bridge

import (
	"encoding/json"
)

// MessageType identifies the kind of frame exchanged with the engine sidecar.
type MessageType string

const (
	// MessageTypeQR carries a new pairing challenge from the engine.
	// Payload: QRPayload
	MessageTypeQR MessageType = "qr"

	// MessageTypeReady reports the session is authenticated and usable.
	// Payload: none
	MessageTypeReady MessageType = "ready"

	// MessageTypeDisconnected reports the session dropped.
	// Payload: DisconnectedPayload
	MessageTypeDisconnected MessageType = "disconnected"

	// MessageTypeMessage carries an inbound chat message.
	// Payload: MessagePayload
	MessageTypeMessage MessageType = "message"

	// MessageTypeReplyResult answers a reply command, correlated by ID.
	// Payload: ReplyResultPayload
	MessageTypeReplyResult MessageType = "reply.result"

	// MessageTypeInitialize asks the engine to start or restart the session.
	// Payload: InitializePayload
	MessageTypeInitialize MessageType = "initialize"

	// MessageTypeReply asks the engine to send a chat message.
	// Payload: ReplyPayload
	MessageTypeReply MessageType = "reply"
)

// Envelope is the JSON frame used in both directions.
type Envelope struct {
	// Type identifies what kind of message this is.
	Type MessageType `json:"type"`

	// ID correlates reply commands with their results.
	ID string `json:"id,omitempty"`

	// Payload contains the message-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// QRPayload is the payload for qr frames.
type QRPayload struct {
	Code string `json:"code"`
}

// DisconnectedPayload is the payload for disconnected frames.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
}

// MessagePayload is the payload for message frames.
type MessagePayload struct {
	From   string `json:"from"`
	Body   string `json:"body"`
	FromMe bool   `json:"from_me,omitempty"`
}

// ReplyResultPayload is the payload for reply.result frames.
type ReplyResultPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// InitializePayload is the payload for initialize commands. Both fields are
// opaque to wabot; the engine uses them to locate persisted credentials.
type InitializePayload struct {
	ClientID string `json:"client_id"`
	DataPath string `json:"data_path"`
}

// ReplyPayload is the payload for reply commands.
type ReplyPayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// NewEnvelope marshals payload into an Envelope of type t.
func NewEnvelope(t MessageType, id string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: t, ID: id}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// decodePayload unmarshals env.Payload into v. A missing payload leaves v zeroed.
func decodePayload(env Envelope, v interface{}) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(env.Payload, v)
}
