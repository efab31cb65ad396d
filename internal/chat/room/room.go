// Package room owns the live rooms: their member sets, typing markers and polls.
//
// A Room's state is only reachable through Directory callbacks, which run with
// the room's lock held. Callbacks must not block and must not call back into
// the Directory.
package room

import (
	"sort"
	"sync"
	"time"

	"github.com/cory-johannsen/barlink/internal/chat"
)

// Timer is a pending scheduled task that can be cancelled.
type Timer interface {
	// Stop cancels the task; it reports whether the task had not yet fired.
	Stop() bool
}

// Marker is a live "is typing" flag for one display name in one room.
type Marker struct {
	Name  string
	Owner chat.SessionID
	// Gen identifies the schedule that owns the marker; a firing timer whose
	// generation differs is stale.
	Gen       uint64
	ExpiresAt time.Time
	Timer     Timer
}

// Room is one named chat scope.
type Room struct {
	id      string
	mu      sync.Mutex
	closed  bool
	members map[chat.SessionID]struct{}
	typing  map[string]*Marker
	polls   []*chat.Poll
}

func newRoom(id string) *Room {
	return &Room{
		id:      id,
		members: make(map[chat.SessionID]struct{}),
		typing:  make(map[string]*Marker),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Has reports whether sid is a member.
func (r *Room) Has(sid chat.SessionID) bool {
	_, ok := r.members[sid]
	return ok
}

// Len returns the member count.
func (r *Room) Len() int { return len(r.members) }

// Members returns a sorted snapshot of the member set.
func (r *Room) Members() []chat.SessionID {
	out := make([]chat.SessionID, 0, len(r.members))
	for sid := range r.members {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Marker returns the live typing marker for name.
func (r *Room) Marker(name string) (*Marker, bool) {
	m, ok := r.typing[name]
	return m, ok
}

// PutMarker installs m, cancelling the timer of any marker it replaces.
//
// Postcondition: At most one marker exists for m.Name.
func (r *Room) PutMarker(m *Marker) {
	if old, ok := r.typing[m.Name]; ok && old != m && old.Timer != nil {
		old.Timer.Stop()
	}
	r.typing[m.Name] = m
}

// RemoveMarker deletes the marker for name and cancels its timer.
//
// Postcondition: Returns the removed marker and true, or (nil, false) if none was live.
func (r *Room) RemoveMarker(name string) (*Marker, bool) {
	m, ok := r.typing[name]
	if !ok {
		return nil, false
	}
	delete(r.typing, name)
	if m.Timer != nil {
		m.Timer.Stop()
	}
	return m, true
}

// MarkersOwnedBy returns the names whose marker was last refreshed by sid, sorted.
func (r *Room) MarkersOwnedBy(sid chat.SessionID) []string {
	var names []string
	for name, m := range r.typing {
		if m.Owner == sid {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// TypingCount returns the number of live markers.
func (r *Room) TypingCount() int { return len(r.typing) }

// AddPoll appends a poll with zeroed votes.
//
// Precondition: the caller has validated question and options.
// Postcondition: The poll's index is the room's previous poll count.
func (r *Room) AddPoll(question string, options []string) chat.Poll {
	p := &chat.Poll{
		Bar:      r.id,
		Index:    len(r.polls),
		Question: question,
		Options:  append([]string(nil), options...),
		Votes:    make([]int, len(options)),
	}
	r.polls = append(r.polls, p)
	return p.Clone()
}

// PollAt returns the mutable poll at index i.
func (r *Room) PollAt(i int) (*chat.Poll, bool) {
	if i < 0 || i >= len(r.polls) {
		return nil, false
	}
	return r.polls[i], true
}

// Polls returns copies of every poll in creation order.
func (r *Room) Polls() []chat.Poll {
	out := make([]chat.Poll, len(r.polls))
	for i, p := range r.polls {
		out[i] = p.Clone()
	}
	return out
}

// release cancels every pending timer and drops all state.
func (r *Room) release() {
	r.closed = true
	for name, m := range r.typing {
		if m.Timer != nil {
			m.Timer.Stop()
		}
		delete(r.typing, name)
	}
	r.polls = nil
}
