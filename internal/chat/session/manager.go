package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cory-johannsen/barlink/internal/chat"
)

// Session is one live connection. Its profile and room are guarded by the
// session's own lock; the transport is fixed at registration.
type Session struct {
	ID        chat.SessionID
	transport chat.Transport

	mu      sync.Mutex
	profile chat.Profile
	room    string
}

// Transport returns the session's outbound handle.
func (s *Session) Transport() chat.Transport { return s.transport }

// Profile returns the current display profile.
func (s *Session) Profile() chat.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Room returns the room the session is in, or "" before any join.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Manager is the session registry. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[chat.SessionID]*Session
	newID    func() chat.SessionID
}

// NewManager creates an empty registry that allocates uuid session ids.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[chat.SessionID]*Session),
		newID:    func() chat.SessionID { return chat.SessionID(uuid.NewString()) },
	}
}

// Register allocates a session for a freshly connected transport.
//
// Precondition: t must be non-nil.
// Postcondition: Returns a session with a unique id, an empty profile, and no room.
func (m *Manager) Register(t chat.Transport) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.newID()
	for _, exists := m.sessions[id]; exists; _, exists = m.sessions[id] {
		id = m.newID()
	}
	s := &Session{ID: id, transport: t}
	m.sessions[id] = s
	return s
}

// Unregister removes the session and closes its transport.
//
// Postcondition: Returns the removed session and true on the first call for id;
// every later call returns (nil, false) and has no effect.
func (m *Manager) Unregister(id chat.SessionID) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil, false
	}
	_ = s.transport.Close()
	return s, true
}

// Get returns the session for id.
func (m *Manager) Get(id chat.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Transport returns the outbound handle for id; it satisfies broadcast.Resolver.
func (m *Manager) Transport(id chat.SessionID) (chat.Transport, bool) {
	s, ok := m.Get(id)
	if !ok {
		return nil, false
	}
	return s.transport, true
}

// SetProfile replaces the session's display profile.
//
// Precondition: p.Name must be non-empty.
// Postcondition: Returns an error wrapping chat.ErrSessionNotFound if id is unknown.
func (m *Manager) SetProfile(id chat.SessionID, p chat.Profile) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("set profile for %s: %w", id, chat.ErrSessionNotFound)
	}
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
	return nil
}

// SetRoom records the session's current room; "" clears it.
//
// Postcondition: Returns an error wrapping chat.ErrSessionNotFound if id is unknown.
func (m *Manager) SetRoom(id chat.SessionID, room string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("set room for %s: %w", id, chat.ErrSessionNotFound)
	}
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
	return nil
}

// ClearRoom clears the session's room only if it is still room.
//
// Postcondition: Returns true if the room was cleared.
func (m *Manager) ClearRoom(id chat.SessionID, room string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != room {
		return false
	}
	s.room = ""
	return true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
