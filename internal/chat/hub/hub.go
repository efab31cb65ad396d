// Package hub dispatches inbound client events to the chat components.
//
// A transport calls Connect once, then Handle for every inbound frame, then
// Disconnect once. Handle and Disconnect for one session must be called from a
// single goroutine; different sessions may be handled concurrently.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/barlink/internal/chat"
	"github.com/cory-johannsen/barlink/internal/chat/broadcast"
	"github.com/cory-johannsen/barlink/internal/chat/poll"
	"github.com/cory-johannsen/barlink/internal/chat/protocol"
	"github.com/cory-johannsen/barlink/internal/chat/room"
	"github.com/cory-johannsen/barlink/internal/chat/session"
	"github.com/cory-johannsen/barlink/internal/chat/typing"
	"github.com/cory-johannsen/barlink/internal/chat/upload"
	"github.com/cory-johannsen/barlink/internal/observability"
)

// Options configures a Hub.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Store persists uploaded images.
	Store upload.BlobStore
	// TypingExpiry defaults to typing.DefaultExpiry.
	TypingExpiry time.Duration
	// Scheduler defaults to typing.WallClock.
	Scheduler typing.Scheduler
}

// Hub owns the session registry and room directory and routes events between them.
type Hub struct {
	sessions *session.Manager
	dir      *room.Directory
	bc       broadcast.Broadcaster
	typing   *typing.Tracker
	polls    *poll.Engine
	relay    *upload.Relay
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// New wires a Hub and its components.
//
// Precondition: opts.Logger and opts.Store must be non-nil.
// Postcondition: Returns a Hub with no sessions and no rooms.
func New(opts Options) *Hub {
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = typing.DefaultExpiry
	}
	if opts.Scheduler == nil {
		opts.Scheduler = typing.WallClock{}
	}

	h := &Hub{
		sessions: session.NewManager(),
		dir:      room.NewDirectory(),
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Scheduler.Now,
	}
	h.bc = broadcast.NewLocal(h.sessions, opts.Logger, func(chat.SessionID) { h.metrics.IncDroppedSession() })
	h.typing = typing.NewTracker(h.dir, h.bc, opts.Scheduler, opts.TypingExpiry, opts.Logger)
	h.polls = poll.NewEngine(h.dir, h.bc)
	h.relay = upload.NewRelay(h.sessions, h.dir, h.bc, opts.Store, opts.Logger)
	h.metrics.SetRoomGauge(h.dir.Len)
	return h
}

// Relay returns the upload relay.
func (h *Hub) Relay() *upload.Relay { return h.relay }

// Sessions returns the session registry.
func (h *Hub) Sessions() *session.Manager { return h.sessions }

// Connect registers a new session on t and sends it a welcome frame.
//
// Precondition: t must be non-nil.
// Postcondition: Returns the registered session.
func (h *Hub) Connect(t chat.Transport) *session.Session {
	s := h.sessions.Register(t)
	h.metrics.IncConn()
	if err := broadcast.Unicast(t, protocol.EventWelcome, protocol.WelcomePayload{SessionID: s.ID, Version: protocol.Version}); err != nil {
		h.logger.Warn("sending welcome", zap.String("session", string(s.ID)), zap.Error(err))
	}
	h.logger.Debug("session connected", zap.String("session", string(s.ID)))
	return s
}

// Disconnect tears down sid: it leaves its room, clears its typing markers and
// closes its transport.
//
// Postcondition: Only the first call for sid has any effect.
func (h *Hub) Disconnect(ctx context.Context, sid chat.SessionID) {
	s, ok := h.sessions.Unregister(sid)
	if !ok {
		return
	}
	h.metrics.DecConn()
	if bar := s.Room(); bar != "" {
		h.leave(ctx, s, bar, false)
	}
	h.logger.Debug("session disconnected", zap.String("session", string(sid)))
}

// Handle decodes and applies one inbound frame from sid.
//
// Postcondition: Any failure has been logged and reported to sid alone; the
// same error is returned. Malformed frames change no state.
func (h *Hub) Handle(ctx context.Context, sid chat.SessionID, raw []byte) error {
	s, ok := h.sessions.Get(sid)
	if !ok {
		return fmt.Errorf("handle frame: %w", chat.ErrSessionNotFound)
	}

	f, err := protocol.Decode(raw)
	if err != nil {
		h.reject(s, "", err)
		return err
	}

	if err := h.dispatch(ctx, s, f); err != nil {
		if errors.Is(err, chat.ErrMalformedEvent) {
			h.reject(s, f.Event, err)
		} else {
			h.fail(s, f.Event, err)
		}
		return err
	}
	return nil
}

func (h *Hub) dispatch(ctx context.Context, s *session.Session, f protocol.Frame) error {
	switch f.Event {
	case protocol.EventJoinBar:
		var p protocol.BarRef
		if err := protocol.DecodePayload(f, &p); err != nil {
			return err
		}
		return h.join(ctx, s, p.Bar)

	case protocol.EventLeaveBar:
		var p protocol.BarRef
		if err := protocol.DecodePayload(f, &p); err != nil {
			return err
		}
		h.leave(ctx, s, p.Bar, true)
		return nil

	case protocol.EventSetProfile:
		var p protocol.ProfilePayload
		if err := protocol.DecodePayload(f, &p); err != nil {
			return err
		}
		return h.sessions.SetProfile(s.ID, p.Profile())

	case protocol.EventSendMessage:
		var p protocol.MessagePayload
		if err := protocol.DecodePayload(f, &p); err != nil {
			return err
		}
		msg := chat.NewText(h.profile(s, p.ProfilePayload), p.Bar, p.Text, string(p.Timestamp), h.now())
		if err := h.publish(ctx, s, p.Bar, protocol.EventNewMessage, msg); err != nil {
			return err
		}
		h.metrics.IncMessage()
		return nil

	case protocol.EventSendImage:
		var p protocol.ImagePayload
		if err := protocol.DecodePayload(f, &p); err != nil {
			return err
		}
		msg := chat.NewImage(h.profile(s, p.ProfilePayload), p.Bar, p.ImageURL, string(p.Timestamp), h.now())
		if err := h.publish(ctx, s, p.Bar, protocol.EventNewImage, msg); err != nil {
			return err
		}
		h.metrics.IncImage()
		return nil

	case protocol.EventTyping:
		var p protocol.TypingPayload
		if err := protocol.DecodePayload(f, &p); err != nil {
			return err
		}
		h.rename(s, p.Name)
		if err := h.typing.Typing(ctx, p.Bar, s.ID, p.Name); err != nil {
			return err
		}
		h.metrics.IncTyping()
		return nil

	case protocol.EventStopTyping:
		var p protocol.TypingPayload
		if err := protocol.DecodePayload(f, &p); err != nil {
			return err
		}
		return h.typing.StopTyping(ctx, p.Bar, s.ID, p.Name)

	case protocol.EventCreatePoll:
		var p protocol.CreatePollPayload
		if err := protocol.DecodePayload(f, &p); err != nil {
			return err
		}
		if _, err := h.polls.CreatePoll(ctx, p.Bar, s.ID, p.Question, p.Options); err != nil {
			return err
		}
		h.metrics.IncPoll()
		return nil

	case protocol.EventVotePoll:
		var p protocol.VotePayload
		if err := protocol.DecodePayload(f, &p); err != nil {
			return err
		}
		if _, err := h.polls.VotePoll(ctx, p.Bar, s.ID, *p.PollIndex, *p.OptionIndex); err != nil {
			return err
		}
		h.metrics.IncVote()
		return nil

	default:
		return fmt.Errorf("%w: unknown event %q", chat.ErrMalformedEvent, f.Event)
	}
}

// join moves s into bar, leaving any other room first.
func (h *Hub) join(ctx context.Context, s *session.Session, bar string) error {
	if prev := s.Room(); prev != "" && prev != bar {
		h.leave(ctx, s, prev, true)
	}
	h.dir.Join(bar, s.ID, func(r *room.Room, added bool) {
		if !added {
			return
		}
		ack := protocol.JoinedPayload{Bar: bar, Members: r.Len(), Polls: r.Polls()}
		if err := broadcast.Unicast(s.Transport(), protocol.EventJoinedBar, ack); err != nil {
			h.logger.Warn("sending join ack", zap.String("session", string(s.ID)), zap.Error(err))
		}
	})
	return h.sessions.SetRoom(s.ID, bar)
}

// leave removes s from bar, clearing the typing markers it owns there.
func (h *Hub) leave(ctx context.Context, s *session.Session, bar string, ack bool) {
	name := s.Profile().Name
	removed, reclaimed := h.dir.Leave(bar, s.ID, func(r *room.Room) {
		h.typing.Clear(ctx, r, s.ID, name)
	})
	h.sessions.ClearRoom(s.ID, bar)
	if reclaimed {
		h.logger.Debug("room reclaimed", zap.String("room", bar))
	}
	if removed && ack {
		if err := broadcast.Unicast(s.Transport(), protocol.EventLeftBar, protocol.LeftPayload{Bar: bar}); err != nil {
			h.logger.Debug("sending leave ack", zap.String("session", string(s.ID)), zap.Error(err))
		}
	}
}

// publish sends event to every member of bar, provided s is one of them.
func (h *Hub) publish(ctx context.Context, s *session.Session, bar, event string, data any) error {
	return h.dir.WithRoom(bar, func(r *room.Room) error {
		if !r.Has(s.ID) {
			return fmt.Errorf("%s to %q: %w", event, bar, chat.ErrNotInRoom)
		}
		return h.bc.Publish(ctx, r, event, data)
	})
}

// profile applies the display fields carried by a message and returns the
// session's resulting profile.
func (h *Hub) profile(s *session.Session, p protocol.ProfilePayload) chat.Profile {
	if p.Name != "" {
		_ = h.sessions.SetProfile(s.ID, p.Profile())
	}
	return s.Profile()
}

// rename sets the session's display name, keeping the rest of its profile.
func (h *Hub) rename(s *session.Session, name string) {
	if name == "" {
		return
	}
	p := s.Profile()
	p.Name = name
	_ = h.sessions.SetProfile(s.ID, p)
}

// reject reports a malformed frame.
func (h *Hub) reject(s *session.Session, event string, err error) {
	h.metrics.IncMalformedEvent()
	h.logger.Warn("dropping malformed event",
		zap.String("session", string(s.ID)),
		zap.String("event", event),
		zap.Error(err),
	)
	h.reply(s, event, err)
}

// fail reports a domain error.
func (h *Hub) fail(s *session.Session, event string, err error) {
	h.logger.Debug("event rejected",
		zap.String("session", string(s.ID)),
		zap.String("event", event),
		zap.Error(err),
	)
	h.reply(s, event, err)
}

func (h *Hub) reply(s *session.Session, event string, err error) {
	if uerr := broadcast.Unicast(s.Transport(), protocol.EventError, protocol.NewError(event, err)); uerr != nil {
		h.logger.Debug("sending error frame", zap.String("session", string(s.ID)), zap.Error(uerr))
	}
}

// RoomInfo describes a live room.
type RoomInfo struct {
	Bar     string      `json:"bar"`
	Members int         `json:"members"`
	Typing  int         `json:"typing"`
	Polls   []chat.Poll `json:"polls"`
}

// Room returns a snapshot of bar.
//
// Postcondition: Returns false if bar is not live.
func (h *Hub) Room(bar string) (RoomInfo, bool) {
	var info RoomInfo
	err := h.dir.WithRoom(bar, func(r *room.Room) error {
		info = RoomInfo{Bar: bar, Members: r.Len(), Typing: r.TypingCount(), Polls: r.Polls()}
		return nil
	})
	return info, err == nil
}

// Rooms returns the ids of every live room.
func (h *Hub) Rooms() []string { return h.dir.IDs() }
