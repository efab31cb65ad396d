// Package session tracks live client sessions: identity, display profile,
// current room, and the outbound queue each connection drains.
package session

import (
	"fmt"
	"sync"

	"github.com/cory-johannsen/barlink/internal/chat"
)

// Send errors. They alias the chat transport errors so callers need not know
// the concrete transport.
var (
	ErrOutboxFull   = chat.ErrTransportFull
	ErrOutboxClosed = chat.ErrTransportClosed
)

// Outbox is a bounded frame queue implementing chat.Transport. The connection
// writer drains Frames until it is closed.
type Outbox struct {
	label  string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox holding up to size frames.
//
// Precondition: label identifies the connection in errors.
// Postcondition: Returns an open Outbox; size <= 0 selects 64.
func NewOutbox(label string, size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{
		label:  label,
		frames: make(chan []byte, size),
	}
}

// Send queues frame without blocking.
//
// Postcondition: The frame is queued, or an error wrapping ErrOutboxClosed or ErrOutboxFull.
func (o *Outbox) Send(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("connection %s: %w", o.label, ErrOutboxClosed)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", o.label, ErrOutboxFull)
	}
}

// Frames returns the queue the connection writer drains.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close stops accepting frames and closes the queue. Frames already queued
// remain readable.
//
// Postcondition: Frames is closed. Further Send calls fail.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
