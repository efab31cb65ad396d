// Package upload stores uploaded images and relays them into rooms as image messages.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/barlink/internal/chat"
	"github.com/cory-johannsen/barlink/internal/chat/broadcast"
	"github.com/cory-johannsen/barlink/internal/chat/protocol"
	"github.com/cory-johannsen/barlink/internal/chat/room"
	"github.com/cory-johannsen/barlink/internal/chat/session"
)

// Blob is one uploaded file.
type Blob struct {
	// Name is the client-supplied file name.
	Name        string
	ContentType string
	Data        []byte
}

// BlobStore persists image bytes and returns the URL they are served from.
type BlobStore interface {
	Put(ctx context.Context, b Blob) (url string, err error)
}

// BlobOpener is implemented by stores that serve blobs themselves rather than
// through a static file server.
type BlobOpener interface {
	// Open returns the blob stored under name, the last URL path element
	// returned by Put. It returns an error wrapping ErrBlobNotFound when absent.
	Open(ctx context.Context, name string) (Blob, error)
}

// ErrBlobNotFound is returned by BlobOpener.Open for unknown names.
var ErrBlobNotFound = errors.New("blob not found")

// Relay stores blobs and publishes the resulting image messages.
type Relay struct {
	sessions *session.Manager
	dir      *room.Directory
	bc       broadcast.Broadcaster
	store    BlobStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewRelay creates a Relay.
//
// Precondition: every argument must be non-nil.
func NewRelay(sessions *session.Manager, dir *room.Directory, bc broadcast.Broadcaster, store BlobStore, logger *zap.Logger) *Relay {
	return &Relay{
		sessions: sessions,
		dir:      dir,
		bc:       bc,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Store persists b without relaying it.
//
// Postcondition: Returns the blob URL, or an error wrapping chat.ErrUploadFailed.
func (r *Relay) Store(ctx context.Context, b Blob) (string, error) {
	url, err := r.store.Put(ctx, b)
	if err != nil {
		return "", fmt.Errorf("%w: storing %q: %w", chat.ErrUploadFailed, b.Name, err)
	}
	return url, nil
}

// RelayImage stores b and publishes it as a newImage message from sid to the
// room sid is in. The store call runs on the caller's goroutine without any
// room lock; only the final publish takes the room's exclusivity.
//
// Postcondition: On success every member of the room, sid included, has been
// sent the image. On failure the error wraps chat.ErrUploadFailed, the error is
// reported to sid alone, and nothing is broadcast. A sender without a room also
// matches chat.ErrNotInRoom.
func (r *Relay) RelayImage(ctx context.Context, sid chat.SessionID, b Blob) (chat.Message, error) {
	s, ok := r.sessions.Get(sid)
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: %w", chat.ErrUploadFailed, chat.ErrSessionNotFound)
	}

	msg, err := r.relay(ctx, s, b)
	if err != nil {
		r.logger.Debug("image relay failed", zap.String("session", string(sid)), zap.Error(err))
		if uerr := broadcast.Unicast(s.Transport(), protocol.EventError, protocol.NewError(protocol.EventSendImage, err)); uerr != nil {
			r.logger.Warn("reporting upload failure", zap.String("session", string(sid)), zap.Error(uerr))
		}
		return chat.Message{}, err
	}
	return msg, nil
}

func (r *Relay) relay(ctx context.Context, s *session.Session, b Blob) (chat.Message, error) {
	roomID := s.Room()
	if roomID == "" {
		return chat.Message{}, fmt.Errorf("%w: session has no current room: %w", chat.ErrUploadFailed, chat.ErrNotInRoom)
	}

	url, err := r.Store(ctx, b)
	if err != nil {
		return chat.Message{}, err
	}

	msg := chat.NewImage(s.Profile(), roomID, url, "", r.now())
	err = r.dir.WithRoom(roomID, func(rm *room.Room) error {
		if !rm.Has(s.ID) {
			return chat.ErrNotInRoom
		}
		return r.bc.Publish(ctx, rm, protocol.EventNewImage, msg)
	})
	if errors.Is(err, chat.ErrNotInRoom) || errors.Is(err, chat.ErrRoomNotFound) {
		return chat.Message{}, fmt.Errorf("%w: left %q during upload: %w", chat.ErrUploadFailed, roomID, chat.ErrNotInRoom)
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %w", chat.ErrUploadFailed, err)
	}
	return msg, nil
}
