// Package protocol defines the versioned event envelope exchanged with clients,
// the event names in both directions, and the payload shapes each carries.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/barlink/internal/chat"
)

// Version is the protocol revision stamped on every outbound frame.
const Version = 1

// Client to server events.
const (
	EventJoinBar     = "joinBar"
	EventLeaveBar    = "leaveBar"
	EventSetProfile  = "setProfile"
	EventSendMessage = "sendMessage"
	EventSendImage   = "sendImage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
	EventCreatePoll  = "createPoll"
	EventVotePoll    = "votePoll"
)

// Server to client events.
const (
	EventWelcome        = "welcome"
	EventJoinedBar      = "joinedBar"
	EventLeftBar        = "leftBar"
	EventNewMessage     = "newMessage"
	EventNewImage       = "newImage"
	EventUserTyping     = "userTyping"
	EventUserStopTyping = "userStopTyping"
	EventNewPoll        = "newPoll"
	EventPollVote       = "pollVote"
	EventError          = "error"
)

// Frame is the envelope of every message on the wire.
type Frame struct {
	V     int             `json:"v,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses one inbound frame.
//
// Postcondition: On success the frame has a non-empty Event and a supported
// version. Every failure wraps chat.ErrMalformedEvent.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", chat.ErrMalformedEvent, err)
	}
	if f.V != 0 && f.V != Version {
		return Frame{}, fmt.Errorf("%w: unsupported protocol version %d", chat.ErrMalformedEvent, f.V)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event name", chat.ErrMalformedEvent)
	}
	return f, nil
}

// Encode builds an outbound frame for event carrying data.
//
// Postcondition: Returns the JSON encoding of a version-stamped Frame or a non-nil error.
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	out, err := json.Marshal(Frame{V: Version, Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", event, err)
	}
	return out, nil
}

// Payload is implemented by every inbound payload; Validate reports missing fields.
type Payload interface {
	Validate() error
}

// DecodePayload unmarshals f.Data into dst and validates it.
//
// Postcondition: Every failure wraps chat.ErrMalformedEvent.
func DecodePayload(f Frame, dst Payload) error {
	if len(bytes.TrimSpace(f.Data)) == 0 {
		return fmt.Errorf("%w: %s: missing payload", chat.ErrMalformedEvent, f.Event)
	}
	if err := json.Unmarshal(f.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", chat.ErrMalformedEvent, f.Event, err)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", chat.ErrMalformedEvent, f.Event, err)
	}
	return nil
}
