package room

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/barlink/internal/chat"
)

type stubTimer struct {
	stopped atomic.Bool
}

func (s *stubTimer) Stop() bool { return !s.stopped.Swap(true) }

func TestDirectory_JoinCreatesRoomLazily(t *testing.T) {
	d := NewDirectory()
	assert.False(t, d.Exists("moes"))

	added := d.Join("moes", "s1", nil)
	assert.True(t, added)
	assert.True(t, d.Exists("moes"))
	assert.Equal(t, []chat.SessionID{"s1"}, d.Members("moes"))
	assert.Equal(t, 1, d.Len())
}

func TestDirectory_JoinIsIdempotent(t *testing.T) {
	d := NewDirectory()
	var calls []bool
	record := func(r *Room, added bool) { calls = append(calls, added) }

	assert.True(t, d.Join("moes", "s1", record))
	assert.False(t, d.Join("moes", "s1", record))
	assert.Equal(t, []bool{true, false}, calls)
	assert.Len(t, d.Members("moes"), 1)
}

func TestDirectory_LeaveUnjoinedIsNoop(t *testing.T) {
	d := NewDirectory()
	called := false
	removed, reclaimed := d.Leave("moes", "s1", func(*Room) { called = true })
	assert.False(t, removed)
	assert.False(t, reclaimed)
	assert.False(t, called)

	d.Join("moes", "s1", nil)
	removed, _ = d.Leave("moes", "s2", func(*Room) { called = true })
	assert.False(t, removed)
	assert.False(t, called)
	assert.Len(t, d.Members("moes"), 1)
}

func TestDirectory_LastLeaveReclaimsRoomAndCancelsTimers(t *testing.T) {
	d := NewDirectory()
	d.Join("moes", "s1", nil)
	d.Join("moes", "s2", nil)

	timer := &stubTimer{}
	require.NoError(t, d.WithRoom("moes", func(r *Room) error {
		r.PutMarker(&Marker{Name: "ana", Owner: "s1", Gen: 1, Timer: timer})
		r.AddPoll("Best drink?", []string{"Beer", "Wine"})
		return nil
	}))

	removed, reclaimed := d.Leave("moes", "s1", func(r *Room) {
		assert.Equal(t, 1, r.Len())
	})
	assert.True(t, removed)
	assert.False(t, reclaimed)
	assert.False(t, timer.stopped.Load())

	removed, reclaimed = d.Leave("moes", "s2", nil)
	assert.True(t, removed)
	assert.True(t, reclaimed)
	assert.True(t, timer.stopped.Load())
	assert.False(t, d.Exists("moes"))
	assert.Nil(t, d.Members("moes"))

	err := d.WithRoom("moes", func(*Room) error { return nil })
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)
}

func TestDirectory_RecreatedRoomStartsFresh(t *testing.T) {
	d := NewDirectory()
	d.Join("moes", "s1", nil)
	require.NoError(t, d.WithRoom("moes", func(r *Room) error {
		r.AddPoll("q", []string{"a", "b"})
		return nil
	}))
	d.Leave("moes", "s1", nil)

	d.Join("moes", "s2", func(r *Room, added bool) {
		assert.True(t, added)
		assert.Empty(t, r.Polls())
		assert.Zero(t, r.TypingCount())
	})
}

func TestDirectory_WithRoomPropagatesError(t *testing.T) {
	d := NewDirectory()
	d.Join("moes", "s1", nil)
	boom := errors.New("boom")
	assert.ErrorIs(t, d.WithRoom("moes", func(*Room) error { return boom }), boom)
}

func TestRoom_Markers(t *testing.T) {
	r := newRoom("moes")
	first := &stubTimer{}
	second := &stubTimer{}

	r.PutMarker(&Marker{Name: "ana", Owner: "s1", Gen: 1, Timer: first})
	r.PutMarker(&Marker{Name: "ana", Owner: "s1", Gen: 2, Timer: second})
	assert.True(t, first.stopped.Load(), "replacing a marker cancels its timer")
	assert.Equal(t, 1, r.TypingCount())

	r.PutMarker(&Marker{Name: "bo", Owner: "s2", Gen: 3})
	assert.Equal(t, []string{"ana"}, r.MarkersOwnedBy("s1"))

	m, ok := r.RemoveMarker("ana")
	require.True(t, ok)
	assert.Equal(t, uint64(2), m.Gen)
	assert.True(t, second.stopped.Load())

	_, ok = r.RemoveMarker("ana")
	assert.False(t, ok)
}

func TestRoom_PollsAreSequential(t *testing.T) {
	r := newRoom("moes")
	p0 := r.AddPoll("q0", []string{"a", "b"})
	p1 := r.AddPoll("q1", []string{"a", "b", "c"})
	assert.Equal(t, 0, p0.Index)
	assert.Equal(t, 1, p1.Index)
	assert.Equal(t, []int{0, 0, 0}, p1.Votes)
	assert.Equal(t, "moes", p1.Bar)

	p, ok := r.PollAt(1)
	require.True(t, ok)
	p.Votes[2]++
	assert.Equal(t, []int{0, 0, 0}, p1.Votes, "AddPoll returns a copy")
	assert.Equal(t, []int{0, 0, 1}, r.Polls()[1].Votes)

	_, ok = r.PollAt(2)
	assert.False(t, ok)
	_, ok = r.PollAt(-1)
	assert.False(t, ok)
}

func TestDirectory_ConcurrentJoinLeave(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := chat.SessionID(fmt.Sprintf("s%d", i))
			roomID := fmt.Sprintf("bar%d", i%3)
			d.Join(roomID, sid, nil)
			_ = d.WithRoom(roomID, func(r *Room) error {
				if !r.Has(sid) {
					t.Errorf("%s missing from %s", sid, roomID)
				}
				return nil
			})
			d.Leave(roomID, sid, nil)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, d.Len())
}

func TestPropertyMembershipMatchesModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := NewDirectory()
		rooms := []string{"moes", "cheers", "paddys"}
		sessions := []chat.SessionID{"a", "b", "c", "d"}
		model := map[string]map[chat.SessionID]bool{}

		steps := rapid.IntRange(1, 80).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			roomID := rapid.SampledFrom(rooms).Draw(t, "room")
			sid := rapid.SampledFrom(sessions).Draw(t, "session")
			if rapid.Bool().Draw(t, "join") {
				d.Join(roomID, sid, nil)
				if model[roomID] == nil {
					model[roomID] = map[chat.SessionID]bool{}
				}
				model[roomID][sid] = true
			} else {
				d.Leave(roomID, sid, nil)
				delete(model[roomID], sid)
				if len(model[roomID]) == 0 {
					delete(model, roomID)
				}
			}
		}

		if d.Len() != len(model) {
			t.Fatalf("directory has %d rooms, model %d", d.Len(), len(model))
		}
		for _, roomID := range rooms {
			got := d.Members(roomID)
			if len(got) != len(model[roomID]) {
				t.Fatalf("room %s has %d members, model %d", roomID, len(got), len(model[roomID]))
			}
			for _, sid := range got {
				if !model[roomID][sid] {
					t.Fatalf("unexpected member %s in %s", sid, roomID)
				}
			}
			if len(model[roomID]) == 0 && d.Exists(roomID) {
				t.Fatalf("empty room %s was not reclaimed", roomID)
			}
		}
	})
}

func TestDirectory_BusyRoomDoesNotBlockOthers(t *testing.T) {
	d := NewDirectory()
	d.Join("busy", "s1", nil)

	holding := make(chan struct{})
	unblock := make(chan struct{})
	go func() {
		_ = d.WithRoom("busy", func(r *Room) error {
			close(holding)
			<-unblock
			return nil
		})
	}()
	<-holding
	defer close(unblock)

	// a second caller queues on the busy room's lock
	waiting := make(chan struct{})
	go func() {
		defer close(waiting)
		d.Join("busy", "s2", nil)
	}()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Join("other", "s3", nil)
		d.Leave("other", "s3", nil)
		_ = d.Len()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("operations on another room blocked behind a busy room")
	}
	assert.False(t, d.Exists("other"))
}

func TestDirectory_JoinAfterReclaimGetsFreshRoom(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Join("moes", "a", nil)
			d.Leave("moes", "a", nil)
		}()
		go func() {
			defer wg.Done()
			d.Join("moes", "b", nil)
		}()
		wg.Wait()
		require.Equal(t, []chat.SessionID{"b"}, d.Members("moes"))
		_, reclaimed := d.Leave("moes", "b", nil)
		require.True(t, reclaimed)
		require.False(t, d.Exists("moes"))
	}
}
