package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics holds process-lifetime relay counters. The zero value is ready to use
// and every method is safe for concurrent use.
type Metrics struct {
	activeConns     atomic.Int64
	sessions        atomic.Uint64
	messages        atomic.Uint64
	images          atomic.Uint64
	typing          atomic.Uint64
	polls           atomic.Uint64
	votes           atomic.Uint64
	uploads         atomic.Uint64
	uploadFailures  atomic.Uint64
	malformedEvents atomic.Uint64
	droppedSessions atomic.Uint64

	rooms func() int
}

// NewMetrics returns an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// SetRoomGauge installs the function reporting the live room count.
//
// Precondition: fn must be safe for concurrent use.
func (m *Metrics) SetRoomGauge(fn func() int) { m.rooms = fn }

func (m *Metrics) IncConn()           { m.activeConns.Add(1); m.sessions.Add(1) }
func (m *Metrics) DecConn()           { m.activeConns.Add(-1) }
func (m *Metrics) IncMessage()        { m.messages.Add(1) }
func (m *Metrics) IncImage()          { m.images.Add(1) }
func (m *Metrics) IncTyping()         { m.typing.Add(1) }
func (m *Metrics) IncPoll()           { m.polls.Add(1) }
func (m *Metrics) IncVote()           { m.votes.Add(1) }
func (m *Metrics) IncUpload()         { m.uploads.Add(1) }
func (m *Metrics) IncUploadFailure()  { m.uploadFailures.Add(1) }
func (m *Metrics) IncMalformedEvent() { m.malformedEvents.Add(1) }
func (m *Metrics) IncDroppedSession() { m.droppedSessions.Add(1) }

// Snapshot returns the current counter values keyed by their exported names.
func (m *Metrics) Snapshot() map[string]any {
	snap := map[string]any{
		"active_connections":     m.activeConns.Load(),
		"sessions_total":         m.sessions.Load(),
		"messages_total":         m.messages.Load(),
		"images_total":           m.images.Load(),
		"typing_events_total":    m.typing.Load(),
		"polls_total":            m.polls.Load(),
		"votes_total":            m.votes.Load(),
		"uploads_total":          m.uploads.Load(),
		"upload_failures_total":  m.uploadFailures.Load(),
		"malformed_events_total": m.malformedEvents.Load(),
		"dropped_sessions_total": m.droppedSessions.Load(),
	}
	if m.rooms != nil {
		snap["rooms"] = m.rooms()
	}
	return snap
}

// ServeHTTP writes the snapshot as JSON.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
