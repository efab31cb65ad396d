// Package typing tracks per-room "is typing" presence with automatic expiry.
//
// Each (room, display name) pair is either absent or typing. Entering typing
// broadcasts userTyping; leaving it by stopTyping, expiry, or disconnect
// broadcasts userStopTyping. Presence events skip the typer.
package typing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/barlink/internal/chat"
	"github.com/cory-johannsen/barlink/internal/chat/broadcast"
	"github.com/cory-johannsen/barlink/internal/chat/protocol"
	"github.com/cory-johannsen/barlink/internal/chat/room"
)

// DefaultExpiry is how long a marker lives without a refresh.
const DefaultExpiry = 3 * time.Second

// Tracker owns the typing state machine. Its Start, Stop and Clear methods
// take a *room.Room and must run inside a Directory callback; expiries
// re-enter the room through the Directory.
type Tracker struct {
	dir    *room.Directory
	bc     broadcast.Broadcaster
	sched  Scheduler
	expiry time.Duration
	logger *zap.Logger

	// gen is shared across rooms so a timer from a reclaimed room can never
	// match a marker in its replacement.
	gen atomic.Uint64
}

// NewTracker creates a Tracker.
//
// Precondition: dir, bc, sched and logger must be non-nil; expiry > 0.
func NewTracker(dir *room.Directory, bc broadcast.Broadcaster, sched Scheduler, expiry time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{dir: dir, bc: bc, sched: sched, expiry: expiry, logger: logger}
}

// Start enters or refreshes the typing state for name.
//
// Precondition: called with r's lock held.
// Postcondition: Exactly one marker exists for name, expiring one window from
// now. Returns true and broadcasts userTyping only on the absent to typing transition.
func (t *Tracker) Start(ctx context.Context, r *room.Room, sid chat.SessionID, name string) (bool, error) {
	_, live := r.Marker(name)

	gen := t.gen.Add(1)
	roomID := r.ID()
	timer := t.sched.AfterFunc(t.expiry, func() { t.expire(roomID, name, gen) })
	r.PutMarker(&room.Marker{
		Name:      name,
		Owner:     sid,
		Gen:       gen,
		ExpiresAt: t.sched.Now().Add(t.expiry),
		Timer:     timer,
	})

	if live {
		return false, nil
	}
	return true, t.bc.PublishExcept(ctx, r, sid, protocol.EventUserTyping, name)
}

// Stop clears the typing state for name.
//
// Precondition: called with r's lock held.
// Postcondition: No marker exists for name. Returns true and broadcasts
// userStopTyping only if a marker was live.
func (t *Tracker) Stop(ctx context.Context, r *room.Room, sid chat.SessionID, name string) (bool, error) {
	if _, ok := r.RemoveMarker(name); !ok {
		return false, nil
	}
	return true, t.bc.PublishExcept(ctx, r, sid, protocol.EventUserStopTyping, name)
}

// Clear drops every marker sid last refreshed, plus the marker for name if
// one is live. Used when a session leaves or disconnects.
//
// Precondition: called with r's lock held.
// Postcondition: Returns the cleared names; one userStopTyping is broadcast per name.
func (t *Tracker) Clear(ctx context.Context, r *room.Room, sid chat.SessionID, name string) []string {
	names := r.MarkersOwnedBy(sid)
	if _, ok := r.Marker(name); ok && name != "" && !contains(names, name) {
		names = append(names, name)
	}
	for _, n := range names {
		if _, err := t.Stop(ctx, r, sid, n); err != nil {
			t.logger.Warn("broadcasting typing clear",
				zap.String("room", r.ID()),
				zap.String("name", n),
				zap.Error(err),
			)
		}
	}
	return names
}

// expire runs when a marker's timer fires. It is a no-op unless the marker is
// still the one the timer was scheduled for.
func (t *Tracker) expire(roomID, name string, gen uint64) {
	err := t.dir.WithRoom(roomID, func(r *room.Room) error {
		m, ok := r.Marker(name)
		if !ok || m.Gen != gen {
			return nil
		}
		r.RemoveMarker(name)
		return t.bc.PublishExcept(context.Background(), r, m.Owner, protocol.EventUserStopTyping, name)
	})
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		t.logger.Debug("typing expiry for reclaimed room", zap.String("room", roomID), zap.String("name", name))
	case err != nil:
		t.logger.Warn("typing expiry", zap.String("room", roomID), zap.String("name", name), zap.Error(err))
	}
}

// Typing applies a typing event from sid in roomID.
//
// Postcondition: Returns an error wrapping chat.ErrNotInRoom if sid is not a member.
func (t *Tracker) Typing(ctx context.Context, roomID string, sid chat.SessionID, name string) error {
	return t.dir.WithRoom(roomID, func(r *room.Room) error {
		if !r.Has(sid) {
			return fmt.Errorf("typing in %q: %w", roomID, chat.ErrNotInRoom)
		}
		_, err := t.Start(ctx, r, sid, name)
		return err
	})
}

// StopTyping applies a stopTyping event from sid in roomID.
//
// Postcondition: Returns an error wrapping chat.ErrNotInRoom if sid is not a member.
func (t *Tracker) StopTyping(ctx context.Context, roomID string, sid chat.SessionID, name string) error {
	return t.dir.WithRoom(roomID, func(r *room.Room) error {
		if !r.Has(sid) {
			return fmt.Errorf("stop typing in %q: %w", roomID, chat.ErrNotInRoom)
		}
		_, err := t.Stop(ctx, r, sid, name)
		return err
	})
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
