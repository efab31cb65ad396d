// Package chat defines the relay's shared domain vocabulary: session and room
// identifiers, display profiles, messages, polls, the Transport handle each
// session writes through, and the error taxonomy reported to clients.
package chat

import (
	"time"
)

// SessionID identifies one live client connection.
type SessionID string

// Transport is the outbound handle of one session. Send must not block on the
// network: implementations queue the frame and report an error when they cannot.
type Transport interface {
	// Send queues one encoded frame for delivery.
	Send(frame []byte) error
	// Close releases the connection. Calling Close more than once is safe.
	Close() error
}

// Profile is the display metadata a session attaches to what it sends.
// Age and Gender are carried opaquely for client-side rendering.
type Profile struct {
	Name   string `json:"name"`
	Age    string `json:"age"`
	Gender string `json:"gender"`
}

// MessageKind tags the variant of a Message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// Message is a chat message relayed to a room. Text messages carry Text,
// image messages carry ImageURL.
type Message struct {
	Kind MessageKind `json:"kind"`
	Profile
	Bar      string `json:"bar"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	// Timestamp is the client-supplied display time, relayed unchanged.
	Timestamp string `json:"timestamp,omitempty"`
	// SentAt is assigned by the server when the message is accepted.
	SentAt time.Time `json:"sentAt"`
}

// NewText builds a text message stamped with now.
func NewText(p Profile, bar, text, timestamp string, now time.Time) Message {
	return Message{Kind: KindText, Profile: p, Bar: bar, Text: text, Timestamp: timestamp, SentAt: now.UTC()}
}

// NewImage builds an image message stamped with now.
func NewImage(p Profile, bar, url, timestamp string, now time.Time) Message {
	return Message{Kind: KindImage, Profile: p, Bar: bar, ImageURL: url, Timestamp: timestamp, SentAt: now.UTC()}
}

// Poll is a room-scoped question with per-option vote counters.
//
// Invariant: len(Votes) == len(Options) and len(Options) >= 2.
type Poll struct {
	Bar      string   `json:"bar"`
	Index    int      `json:"pollIndex"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Votes    []int    `json:"votes"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p Poll) Clone() Poll {
	p.Options = append([]string(nil), p.Options...)
	p.Votes = append([]int(nil), p.Votes...)
	return p
}

// Tally is the state of a poll after one vote.
type Tally struct {
	Bar         string `json:"bar"`
	PollIndex   int    `json:"pollIndex"`
	OptionIndex int    `json:"optionIndex"`
	Votes       []int  `json:"votes"`
}
