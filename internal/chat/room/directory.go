package room

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/barlink/internal/chat"
)

// Directory maps room ids to live rooms, creating them on first join and
// reclaiming them when the last member leaves. All methods are safe for
// concurrent use.
//
// The directory lock only guards the map and is never held while waiting for a
// room. Leave takes it under a room's lock to unlink a reclaimed room, so the
// lock order is room then directory.
type Directory struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*Room)}
}

// lock returns roomID's live room with its lock held, or nil. When create is
// set a missing room is created.
func (d *Directory) lock(roomID string, create bool) *Room {
	for {
		d.mu.Lock()
		r, ok := d.rooms[roomID]
		if !ok {
			if !create {
				d.mu.Unlock()
				return nil
			}
			r = newRoom(roomID)
			d.rooms[roomID] = r
		}
		d.mu.Unlock()

		r.mu.Lock()
		if !r.closed {
			return r
		}
		r.mu.Unlock()
		if !create {
			return nil
		}
		// a closed room is unlinked before its lock is released, so the next
		// lookup misses it
	}
}

// Join adds sid to roomID, creating the room if absent, then runs fn under the
// room's lock. added is false when sid was already a member.
//
// Precondition: roomID must be non-empty; fn may be nil.
// Postcondition: sid is a member of roomID. Returns added.
func (d *Directory) Join(roomID string, sid chat.SessionID, fn func(r *Room, added bool)) bool {
	r := d.lock(roomID, true)
	defer r.mu.Unlock()

	_, exists := r.members[sid]
	if !exists {
		r.members[sid] = struct{}{}
	}
	if fn != nil {
		fn(r, !exists)
	}
	return !exists
}

// Leave removes sid from roomID. fn runs under the room's lock after removal
// and only when sid was a member. If the room is left empty it is reclaimed:
// pending typing expiries are cancelled and its polls dropped.
//
// Precondition: fn may be nil.
// Postcondition: sid is not a member of roomID. Leaving a room sid is not in is a no-op.
func (d *Directory) Leave(roomID string, sid chat.SessionID, fn func(r *Room)) (removed, reclaimed bool) {
	r := d.lock(roomID, false)
	if r == nil {
		return false, false
	}
	defer r.mu.Unlock()

	if _, member := r.members[sid]; !member {
		return false, false
	}
	delete(r.members, sid)
	if fn != nil {
		fn(r)
	}
	if len(r.members) > 0 {
		return true, false
	}

	r.release()
	d.mu.Lock()
	if d.rooms[roomID] == r {
		delete(d.rooms, roomID)
	}
	d.mu.Unlock()
	return true, true
}

// WithRoom runs fn under roomID's lock.
//
// Postcondition: Returns an error wrapping chat.ErrRoomNotFound if the room is
// absent or was reclaimed; otherwise fn's error.
func (d *Directory) WithRoom(roomID string, fn func(r *Room) error) error {
	r := d.lock(roomID, false)
	if r == nil {
		return fmt.Errorf("room %q: %w", roomID, chat.ErrRoomNotFound)
	}
	defer r.mu.Unlock()
	return fn(r)
}

// Members returns a snapshot of roomID's members; nil if the room does not exist.
func (d *Directory) Members(roomID string) []chat.SessionID {
	var out []chat.SessionID
	_ = d.WithRoom(roomID, func(r *Room) error {
		out = r.Members()
		return nil
	})
	return out
}

// Exists reports whether roomID is live.
func (d *Directory) Exists(roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rooms[roomID]
	return ok
}

// Len returns the number of live rooms.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// IDs returns the live room ids, sorted.
func (d *Directory) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
