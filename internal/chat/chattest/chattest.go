// Package chattest provides in-memory transports and a manual clock for
// exercising the chat components without sockets or wall-clock waits.
package chattest

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cory-johannsen/barlink/internal/chat"
	"github.com/cory-johannsen/barlink/internal/chat/protocol"
	"github.com/cory-johannsen/barlink/internal/chat/room"
)

// Recorder is a chat.Transport that keeps every frame it is sent.
type Recorder struct {
	mu     sync.Mutex
	frames [][]byte
	closes int
	// Capacity, when > 0, makes Send fail with chat.ErrTransportFull once that
	// many frames are held.
	Capacity int
}

// Send implements chat.Transport.
func (r *Recorder) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closes > 0 {
		return chat.ErrTransportClosed
	}
	if r.Capacity > 0 && len(r.frames) >= r.Capacity {
		return chat.ErrTransportFull
	}
	r.frames = append(r.frames, frame)
	return nil
}

// Close implements chat.Transport.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes > 0
}

// Frames decodes every recorded frame.
func (r *Recorder) Frames() []protocol.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Frame, 0, len(r.frames))
	for _, raw := range r.frames {
		var f protocol.Frame
		if err := json.Unmarshal(raw, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// Events returns the event names of every recorded frame in order.
func (r *Recorder) Events() []string {
	var names []string
	for _, f := range r.Frames() {
		names = append(names, f.Event)
	}
	return names
}

// Last returns the most recent frame with the given event name.
func (r *Recorder) Last(event string) (protocol.Frame, bool) {
	frames := r.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == event {
			return frames[i], true
		}
	}
	return protocol.Frame{}, false
}

// Count returns how many frames with the given event name were recorded.
func (r *Recorder) Count(event string) int {
	n := 0
	for _, f := range r.Frames() {
		if f.Event == event {
			n++
		}
	}
	return n
}

// Reset drops every recorded frame.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

// Resolver maps session ids to Recorders.
type Resolver struct {
	mu    sync.Mutex
	peers map[chat.SessionID]*Recorder
}

// NewResolver creates a Resolver with a Recorder for each id.
func NewResolver(ids ...chat.SessionID) *Resolver {
	r := &Resolver{peers: make(map[chat.SessionID]*Recorder)}
	for _, id := range ids {
		r.peers[id] = &Recorder{}
	}
	return r
}

// Transport implements broadcast.Resolver.
func (r *Resolver) Transport(id chat.SessionID) (chat.Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	return p, true
}

// Peer returns the Recorder for id.
func (r *Resolver) Peer(id chat.SessionID) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[id]
}

// Scope is a fixed broadcast audience.
type Scope struct {
	Room string
	IDs  []chat.SessionID
}

// NewScope builds a Scope over ids.
func NewScope(roomID string, ids ...chat.SessionID) Scope {
	return Scope{Room: roomID, IDs: ids}
}

// ID implements broadcast.Scope.
func (s Scope) ID() string { return s.Room }

// Members implements broadcast.Scope.
func (s Scope) Members() []chat.SessionID { return s.IDs }

// Clock is a manual scheduler: tasks fire only when Advance passes their deadline.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*task
}

type task struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
	clock   *Clock
}

// NewClock creates a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules fn to run once the clock has advanced by d.
func (c *Clock) AfterFunc(d time.Duration, fn func()) room.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &task{at: c.now.Add(d), fn: fn, clock: c}
	c.tasks = append(c.tasks, t)
	return t
}

// Stop implements room.Timer.
func (t *task) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending returns the number of scheduled tasks that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and runs every due task in deadline
// order on the calling goroutine.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*task
	for _, t := range c.tasks {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// FireStale runs fn of every task, including stopped ones, to simulate a timer
// that fired concurrently with its cancellation.
func (c *Clock) FireStale() {
	c.mu.Lock()
	all := append([]*task(nil), c.tasks...)
	c.mu.Unlock()
	for _, t := range all {
		t.fn()
	}
}
