package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type messageType string

// Client -> server message types.
const (
	messageTypeJoin   messageType = "join"
	messageTypeSignal messageType = "signal"
	messageTypeChat   messageType = "chat"
	messageTypeEnd    messageType = "end"
	messageTypeClose  messageType = "close"
)

// Server -> client message types.
const (
	messageTypeWelcome      messageType = "welcome"
	messageTypePeerJoined   messageType = "peer-joined"
	messageTypePeerLeft     messageType = "peer-left"
	messageTypeMeetingEnded messageType = "meeting-ended"
	messageTypeError        messageType = "error"
)

// wireMessage is the single envelope for all signaling frames. Fields are
// populated per type; parseClientMessage rejects frames with fields that do
// not belong to their type.
//
// Payload is never inspected by the relay: session descriptions and ICE
// candidates pass through as opaque JSON.
type wireMessage struct {
	Type messageType `json:"type"`

	// join
	Room string `json:"room,omitempty"`
	Host bool   `json:"host,omitempty"`

	// signal
	Target  string          `json:"target,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// chat
	Text        string `json:"text,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	// welcome / membership
	Handle  string   `json:"handle,omitempty"`
	Members []string `json:"members,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func parseClientMessage(data []byte) (wireMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg wireMessage
	if err := dec.Decode(&msg); err != nil {
		return wireMessage{}, err
	}
	if err := msg.validateInbound(); err != nil {
		return wireMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return wireMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m wireMessage) validateInbound() error {
	// Server-assigned fields must never arrive from a client.
	if m.From != "" || m.Handle != "" || len(m.Members) > 0 || m.Code != "" || m.Message != "" {
		return fmt.Errorf("message has server-assigned fields")
	}

	switch m.Type {
	case messageTypeJoin:
		if m.Room == "" {
			return fmt.Errorf("join message missing room")
		}
		if m.Target != "" || m.Payload != nil || m.Text != "" || m.DisplayName != "" {
			return fmt.Errorf("join message has unexpected fields")
		}
	case messageTypeSignal:
		if m.Target == "" {
			return fmt.Errorf("signal message missing target")
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("signal message missing payload")
		}
		if m.Room != "" || m.Host || m.Text != "" || m.DisplayName != "" {
			return fmt.Errorf("signal message has unexpected fields")
		}
	case messageTypeChat:
		if m.Text == "" {
			return fmt.Errorf("chat message missing text")
		}
		if m.Room != "" || m.Host || m.Target != "" || m.Payload != nil {
			return fmt.Errorf("chat message has unexpected fields")
		}
	case messageTypeEnd:
		if m.Room == "" {
			return fmt.Errorf("end message missing room")
		}
		if m.Host || m.Target != "" || m.Payload != nil || m.Text != "" || m.DisplayName != "" {
			return fmt.Errorf("end message has unexpected fields")
		}
	case messageTypeClose:
		if m.Room != "" || m.Host || m.Target != "" || m.Payload != nil || m.Text != "" || m.DisplayName != "" {
			return fmt.Errorf("close message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}
