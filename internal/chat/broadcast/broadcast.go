// Package broadcast fans encoded events out to the members of a room.
package broadcast

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/barlink/internal/chat"
	"github.com/cory-johannsen/barlink/internal/chat/protocol"
)

// Scope is the audience of one publish: a room id and its current members.
type Scope interface {
	ID() string
	Members() []chat.SessionID
}

// Broadcaster delivers events to every member of a scope. Callers hold the
// room's exclusivity while publishing, so per-room publish order is delivery order.
// A cross-process implementation can replace Local without changing callers.
type Broadcaster interface {
	// Publish delivers event to every member of scope, including the sender.
	Publish(ctx context.Context, scope Scope, event string, data any) error
	// PublishExcept delivers event to every member of scope except one session.
	PublishExcept(ctx context.Context, scope Scope, except chat.SessionID, event string, data any) error
}

// Resolver finds the outbound transport of a session.
type Resolver interface {
	Transport(id chat.SessionID) (chat.Transport, bool)
}

// Local is the in-process Broadcaster.
type Local struct {
	resolver Resolver
	logger   *zap.Logger
	onDrop   func(chat.SessionID)
}

// NewLocal creates a Local broadcaster.
//
// Precondition: resolver and logger must be non-nil. onDrop may be nil; it is
// called for every session whose transport is closed for falling behind.
func NewLocal(resolver Resolver, logger *zap.Logger, onDrop func(chat.SessionID)) *Local {
	return &Local{resolver: resolver, logger: logger, onDrop: onDrop}
}

// Publish implements Broadcaster.
func (l *Local) Publish(ctx context.Context, scope Scope, event string, data any) error {
	return l.fanout(ctx, scope, "", event, data)
}

// PublishExcept implements Broadcaster.
func (l *Local) PublishExcept(ctx context.Context, scope Scope, except chat.SessionID, event string, data any) error {
	return l.fanout(ctx, scope, except, event, data)
}

// fanout encodes once and queues the frame on each member's transport.
// A member that cannot accept the frame does not affect the others.
func (l *Local) fanout(ctx context.Context, scope Scope, except chat.SessionID, event string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	members := scope.Members()
	if len(members) == 0 {
		return nil
	}
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return fmt.Errorf("broadcast %s to %s: %w", event, scope.ID(), err)
	}
	for _, sid := range members {
		if sid == except {
			continue
		}
		t, ok := l.resolver.Transport(sid)
		if !ok {
			continue
		}
		if err := t.Send(frame); err != nil {
			l.logger.Warn("dropping frame for session",
				zap.String("session", string(sid)),
				zap.String("room", scope.ID()),
				zap.String("event", event),
				zap.Error(err),
			)
			if !errors.Is(err, chat.ErrTransportClosed) {
				// Slow consumer: close it so its connection drops and cleanup runs.
				_ = t.Close()
				if l.onDrop != nil {
					l.onDrop(sid)
				}
			}
		}
	}
	return nil
}

// Unicast sends one event to a single transport.
//
// Postcondition: Returns the transport's error, if any.
func Unicast(t chat.Transport, event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	return t.Send(frame)
}
