package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	EventRegister = "register"
	EventSignal   = "signal"
)

// Message is the JSON frame exchanged between peers and the relay.
// Signal is never interpreted here.
type Message struct {
	Event  string          `json:"event"`
	PeerID string          `json:"peerId,omitempty"`
	Target string          `json:"target,omitempty"`
	Sender string          `json:"sender,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// Envelope is an outbound signal from a registered connection.
type Envelope struct {
	Target  string
	Payload json.RawMessage
}

func NewRegisterMessage(peerID string) *Message {
	return &Message{Event: EventRegister, PeerID: peerID}
}

func NewSignalMessage(target string, payload json.RawMessage) *Message {
	return &Message{Event: EventSignal, Target: target, Signal: payload}
}

func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedMessage)
	}
	return &msg, nil
}

// hasPayload reports whether raw is present and not a falsy JSON value
// (null, false, "", 0), all of which browsers treat as no signal.
func hasPayload(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", `""`:
		return false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n == 0 {
		return false
	}
	return true
}
