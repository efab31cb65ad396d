// Package poll runs room-scoped polls: creation, voting, and tally broadcast.
package poll

import (
	"context"
	"fmt"
	"strings"

	"github.com/cory-johannsen/barlink/internal/chat"
	"github.com/cory-johannsen/barlink/internal/chat/broadcast"
	"github.com/cory-johannsen/barlink/internal/chat/protocol"
	"github.com/cory-johannsen/barlink/internal/chat/room"
)

// MinOptions is the smallest option count a poll may have.
const MinOptions = 2

// Engine applies poll events to rooms. Votes are not deduplicated per session:
// every vote counts.
type Engine struct {
	dir *room.Directory
	bc  broadcast.Broadcaster
}

// NewEngine creates an Engine.
//
// Precondition: dir and bc must be non-nil.
func NewEngine(dir *room.Directory, bc broadcast.Broadcaster) *Engine {
	return &Engine{dir: dir, bc: bc}
}

// Validate checks a poll definition.
//
// Postcondition: Returns an error wrapping chat.ErrInvalidPoll if the question
// is blank or fewer than MinOptions options are given.
func Validate(question string, options []string) error {
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("%w: question is empty", chat.ErrInvalidPoll)
	}
	if len(options) < MinOptions {
		return fmt.Errorf("%w: %d options, need at least %d", chat.ErrInvalidPoll, len(options), MinOptions)
	}
	return nil
}

// Create adds a poll to r and broadcasts newPoll to every member.
//
// Precondition: called with r's lock held.
// Postcondition: On success the poll has the next sequential index and zeroed votes.
func (e *Engine) Create(ctx context.Context, r *room.Room, question string, options []string) (chat.Poll, error) {
	if err := Validate(question, options); err != nil {
		return chat.Poll{}, err
	}
	p := r.AddPoll(question, options)
	if err := e.bc.Publish(ctx, r, protocol.EventNewPoll, p); err != nil {
		return p, err
	}
	return p, nil
}

// Vote counts one vote and broadcasts pollVote with the new tally.
//
// Precondition: called with r's lock held.
// Postcondition: Returns an error wrapping chat.ErrPollNotFound or
// chat.ErrOptionNotFound and leaves every tally unchanged when an index is out of range.
func (e *Engine) Vote(ctx context.Context, r *room.Room, pollIndex, optionIndex int) (chat.Tally, error) {
	p, ok := r.PollAt(pollIndex)
	if !ok {
		return chat.Tally{}, fmt.Errorf("poll %d in %q: %w", pollIndex, r.ID(), chat.ErrPollNotFound)
	}
	if optionIndex < 0 || optionIndex >= len(p.Votes) {
		return chat.Tally{}, fmt.Errorf("option %d of poll %d in %q: %w", optionIndex, pollIndex, r.ID(), chat.ErrOptionNotFound)
	}
	p.Votes[optionIndex]++
	tally := chat.Tally{
		Bar:         r.ID(),
		PollIndex:   pollIndex,
		OptionIndex: optionIndex,
		Votes:       append([]int(nil), p.Votes...),
	}
	if err := e.bc.Publish(ctx, r, protocol.EventPollVote, tally); err != nil {
		return tally, err
	}
	return tally, nil
}

// CreatePoll applies a createPoll event from sid.
//
// Postcondition: Returns an error wrapping chat.ErrNotInRoom if sid is not a member of roomID.
func (e *Engine) CreatePoll(ctx context.Context, roomID string, sid chat.SessionID, question string, options []string) (chat.Poll, error) {
	var p chat.Poll
	err := e.dir.WithRoom(roomID, func(r *room.Room) error {
		if !r.Has(sid) {
			return fmt.Errorf("create poll in %q: %w", roomID, chat.ErrNotInRoom)
		}
		var err error
		p, err = e.Create(ctx, r, question, options)
		return err
	})
	return p, err
}

// VotePoll applies a votePoll event from sid.
//
// Postcondition: Returns an error wrapping chat.ErrNotInRoom if sid is not a member of roomID.
func (e *Engine) VotePoll(ctx context.Context, roomID string, sid chat.SessionID, pollIndex, optionIndex int) (chat.Tally, error) {
	var t chat.Tally
	err := e.dir.WithRoom(roomID, func(r *room.Room) error {
		if !r.Has(sid) {
			return fmt.Errorf("vote in %q: %w", roomID, chat.ErrNotInRoom)
		}
		var err error
		t, err = e.Vote(ctx, r, pollIndex, optionIndex)
		return err
	})
	return t, err
}

// Snapshot returns copies of roomID's polls.
//
// Postcondition: Returns an error wrapping chat.ErrRoomNotFound if the room is not live.
func (e *Engine) Snapshot(roomID string) ([]chat.Poll, error) {
	var polls []chat.Poll
	err := e.dir.WithRoom(roomID, func(r *room.Room) error {
		polls = r.Polls()
		return nil
	})
	return polls, err
}
