package upload

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/barlink/internal/chat"
	"github.com/cory-johannsen/barlink/internal/chat/broadcast"
	"github.com/cory-johannsen/barlink/internal/chat/chattest"
	"github.com/cory-johannsen/barlink/internal/chat/protocol"
	"github.com/cory-johannsen/barlink/internal/chat/room"
	"github.com/cory-johannsen/barlink/internal/chat/session"
)

// memStore is an in-memory BlobStore.
type memStore struct {
	mu    sync.Mutex
	blobs map[string]Blob
	err   error
	// gate, when set, blocks Put until it is closed.
	gate chan struct{}
}

func (m *memStore) Put(ctx context.Context, b Blob) (string, error) {
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs == nil {
		m.blobs = map[string]Blob{}
	}
	url := "/uploads/" + b.Name
	m.blobs[url] = b
	return url, nil
}

type harness struct {
	sessions *session.Manager
	dir      *room.Directory
	store    *memStore
	relay    *Relay
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sessions := session.NewManager()
	dir := room.NewDirectory()
	store := &memStore{}
	bc := broadcast.NewLocal(sessions, zaptest.NewLogger(t), nil)
	r := NewRelay(sessions, dir, bc, store, zaptest.NewLogger(t))
	r.now = func() time.Time { return time.Date(2026, 5, 1, 22, 0, 0, 0, time.UTC) }
	return &harness{sessions: sessions, dir: dir, store: store, relay: r}
}

func (h *harness) join(roomID string, name string) (*session.Session, *chattest.Recorder) {
	rec := &chattest.Recorder{}
	s := h.sessions.Register(rec)
	_ = h.sessions.SetProfile(s.ID, chat.Profile{Name: name, Age: "30", Gender: "m"})
	h.dir.Join(roomID, s.ID, nil)
	_ = h.sessions.SetRoom(s.ID, roomID)
	return s, rec
}

func TestRelayImagePublishesToRoomIncludingSender(t *testing.T) {
	h := newHarness(t)
	sender, senderRec := h.join("moes", "ana")
	_, peerRec := h.join("moes", "bo")
	_, outsiderRec := h.join("cheers", "cy")

	msg, err := h.relay.RelayImage(context.Background(), sender.ID, Blob{Name: "pint.png", ContentType: "image/png", Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, chat.KindImage, msg.Kind)
	assert.Equal(t, "/uploads/pint.png", msg.ImageURL)
	assert.Equal(t, "ana", msg.Name)

	for _, rec := range []*chattest.Recorder{senderRec, peerRec} {
		f, ok := rec.Last(protocol.EventNewImage)
		require.True(t, ok)
		var got chat.Message
		require.NoError(t, json.Unmarshal(f.Data, &got))
		assert.Equal(t, msg.ImageURL, got.ImageURL)
		assert.Equal(t, "moes", got.Bar)
	}
	assert.Empty(t, outsiderRec.Events())
}

func TestRelayImageWithoutRoomFailsToSenderOnly(t *testing.T) {
	h := newHarness(t)
	rec := &chattest.Recorder{}
	s := h.sessions.Register(rec)

	_, err := h.relay.RelayImage(context.Background(), s.ID, Blob{Name: "a.png"})
	assert.ErrorIs(t, err, chat.ErrUploadFailed)
	assert.ErrorIs(t, err, chat.ErrNotInRoom)

	f, ok := rec.Last(protocol.EventError)
	require.True(t, ok)
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, chat.CodeUploadFailed, p.Code)
	assert.Empty(t, h.store.blobs, "nothing is stored for a roomless session")
}

func TestRelayImageStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("disk full")
	sender, senderRec := h.join("moes", "ana")
	_, peerRec := h.join("moes", "bo")

	_, err := h.relay.RelayImage(context.Background(), sender.ID, Blob{Name: "a.png"})
	assert.ErrorIs(t, err, chat.ErrUploadFailed)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, []string{protocol.EventError}, senderRec.Events())
	assert.Empty(t, peerRec.Events(), "failures are never broadcast")
}

func TestRelayImageUnknownSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.relay.RelayImage(context.Background(), "ghost", Blob{Name: "a.png"})
	assert.ErrorIs(t, err, chat.ErrUploadFailed)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestRelayImageSenderLeftDuringStore(t *testing.T) {
	h := newHarness(t)
	h.store.gate = make(chan struct{})
	sender, senderRec := h.join("moes", "ana")
	_, peerRec := h.join("moes", "bo")

	done := make(chan error, 1)
	go func() {
		_, err := h.relay.RelayImage(context.Background(), sender.ID, Blob{Name: "a.png"})
		done <- err
	}()

	// other rooms and events proceed while the store call is in flight
	h.dir.Leave("moes", sender.ID, nil)
	close(h.store.gate)

	err := <-done
	assert.ErrorIs(t, err, chat.ErrUploadFailed)
	assert.ErrorIs(t, err, chat.ErrNotInRoom)
	assert.Empty(t, peerRec.Events())
	assert.Equal(t, 1, senderRec.Count(protocol.EventError))
}

func TestImageThenTextKeepOrderAndVariant(t *testing.T) {
	h := newHarness(t)
	sender, _ := h.join("moes", "ana")
	_, peerRec := h.join("moes", "bo")
	bc := broadcast.NewLocal(h.sessions, zaptest.NewLogger(t), nil)

	_, err := h.relay.RelayImage(context.Background(), sender.ID, Blob{Name: "a.png"})
	require.NoError(t, err)
	require.NoError(t, h.dir.WithRoom("moes", func(r *room.Room) error {
		msg := chat.NewText(sender.Profile(), "moes", "cheers", "", time.Now())
		return bc.Publish(context.Background(), r, protocol.EventNewMessage, msg)
	}))

	frames := peerRec.Frames()
	require.Len(t, frames, 2)
	var first, second chat.Message
	require.NoError(t, json.Unmarshal(frames[0].Data, &first))
	require.NoError(t, json.Unmarshal(frames[1].Data, &second))
	assert.Equal(t, chat.KindImage, first.Kind)
	assert.Equal(t, chat.KindText, second.Kind)
}
