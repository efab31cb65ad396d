package poll_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/barlink/internal/chat"
	"github.com/cory-johannsen/barlink/internal/chat/broadcast"
	"github.com/cory-johannsen/barlink/internal/chat/chattest"
	"github.com/cory-johannsen/barlink/internal/chat/poll"
	"github.com/cory-johannsen/barlink/internal/chat/protocol"
	"github.com/cory-johannsen/barlink/internal/chat/room"
)

func newEngine(t *testing.T, members ...chat.SessionID) (*poll.Engine, *chattest.Resolver, *room.Directory) {
	t.Helper()
	res := chattest.NewResolver(members...)
	dir := room.NewDirectory()
	for _, sid := range members {
		dir.Join("moes", sid, nil)
	}
	return poll.NewEngine(dir, broadcast.NewLocal(res, zaptest.NewLogger(t), nil)), res, dir
}

func TestCreatePollBroadcastsZeroedPoll(t *testing.T) {
	e, res, _ := newEngine(t, "a", "b")
	p, err := e.CreatePoll(context.Background(), "moes", "a", "Best drink?", []string{"Beer", "Wine"})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Index)
	assert.Equal(t, []int{0, 0}, p.Votes)

	for _, sid := range []chat.SessionID{"a", "b"} {
		f, ok := res.Peer(sid).Last(protocol.EventNewPoll)
		require.True(t, ok, "session %s", sid)
		var got chat.Poll
		require.NoError(t, json.Unmarshal(f.Data, &got))
		assert.Equal(t, p, got)
	}
}

func TestVoteTalliesAccumulate(t *testing.T) {
	e, res, _ := newEngine(t, "a", "b")
	ctx := context.Background()
	_, err := e.CreatePoll(ctx, "moes", "a", "Best drink?", []string{"Beer", "Wine"})
	require.NoError(t, err)

	var tally chat.Tally
	for i := 0; i < 3; i++ {
		tally, err = e.VotePoll(ctx, "moes", "b", 0, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 3}, tally.Votes)
	assert.Equal(t, 3, res.Peer("a").Count(protocol.EventPollVote))

	f, _ := res.Peer("a").Last(protocol.EventPollVote)
	assert.JSONEq(t, `{"bar":"moes","pollIndex":0,"optionIndex":1,"votes":[0,3]}`, string(f.Data))
}

func TestCreatePollInvalid(t *testing.T) {
	e, res, _ := newEngine(t, "a")
	ctx := context.Background()

	_, err := e.CreatePoll(ctx, "moes", "a", "Best drink?", []string{"Beer"})
	assert.ErrorIs(t, err, chat.ErrInvalidPoll)
	_, err = e.CreatePoll(ctx, "moes", "a", "  ", []string{"Beer", "Wine"})
	assert.ErrorIs(t, err, chat.ErrInvalidPoll)
	_, err = e.CreatePoll(ctx, "moes", "a", "Best drink?", nil)
	assert.ErrorIs(t, err, chat.ErrInvalidPoll)

	assert.Empty(t, res.Peer("a").Events(), "invalid polls are never broadcast")
	polls, err := e.Snapshot("moes")
	require.NoError(t, err)
	assert.Empty(t, polls)
}

func TestVoteOutOfRangeLeavesTalliesUnchanged(t *testing.T) {
	e, res, _ := newEngine(t, "a")
	ctx := context.Background()
	_, err := e.CreatePoll(ctx, "moes", "a", "q", []string{"x", "y"})
	require.NoError(t, err)
	_, err = e.VotePoll(ctx, "moes", "a", 0, 0)
	require.NoError(t, err)
	res.Peer("a").Reset()

	_, err = e.VotePoll(ctx, "moes", "a", 0, 2)
	assert.ErrorIs(t, err, chat.ErrOptionNotFound)
	_, err = e.VotePoll(ctx, "moes", "a", 0, -1)
	assert.ErrorIs(t, err, chat.ErrOptionNotFound)
	_, err = e.VotePoll(ctx, "moes", "a", 1, 0)
	assert.ErrorIs(t, err, chat.ErrPollNotFound)

	polls, err := e.Snapshot("moes")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, polls[0].Votes)
	assert.Empty(t, res.Peer("a").Events())
}

func TestPollIndexesAreSequentialPerRoom(t *testing.T) {
	e, _, dir := newEngine(t, "a")
	dir.Join("cheers", "a", nil)
	ctx := context.Background()

	p0, _ := e.CreatePoll(ctx, "moes", "a", "q0", []string{"x", "y"})
	p1, _ := e.CreatePoll(ctx, "moes", "a", "q1", []string{"x", "y"})
	c0, _ := e.CreatePoll(ctx, "cheers", "a", "q", []string{"x", "y"})
	assert.Equal(t, 0, p0.Index)
	assert.Equal(t, 1, p1.Index)
	assert.Equal(t, 0, c0.Index)
}

func TestPollRequiresMembership(t *testing.T) {
	e, _, _ := newEngine(t, "a")
	_, err := e.CreatePoll(context.Background(), "moes", "stranger", "q", []string{"x", "y"})
	assert.ErrorIs(t, err, chat.ErrNotInRoom)
	_, err = e.VotePoll(context.Background(), "gone", "a", 0, 0)
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)
}

func TestConcurrentVotesAllCount(t *testing.T) {
	e, _, _ := newEngine(t, "a")
	ctx := context.Background()
	_, err := e.CreatePoll(ctx, "moes", "a", "q", []string{"x", "y", "z"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 90; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = e.VotePoll(ctx, "moes", "a", 0, i%3)
		}(i)
	}
	wg.Wait()

	polls, err := e.Snapshot("moes")
	require.NoError(t, err)
	assert.Equal(t, []int{30, 30, 30}, polls[0].Votes)
}

func TestPropertyTalliesMatchVotes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e, _, _ := newEngine(t, "a")
		ctx := context.Background()
		nOpts := rapid.IntRange(2, 6).Draw(rt, "options")
		opts := make([]string, nOpts)
		for i := range opts {
			opts[i] = string(rune('a' + i))
		}
		if _, err := e.CreatePoll(ctx, "moes", "a", "q", opts); err != nil {
			rt.Fatalf("create: %v", err)
		}

		want := make([]int, nOpts)
		votes := rapid.SliceOf(rapid.IntRange(-1, nOpts)).Draw(rt, "votes")
		for _, v := range votes {
			_, err := e.VotePoll(ctx, "moes", "a", 0, v)
			if v < 0 || v >= nOpts {
				if err == nil {
					rt.Fatalf("vote %d accepted", v)
				}
				continue
			}
			if err != nil {
				rt.Fatalf("vote %d: %v", v, err)
			}
			want[v]++
		}

		polls, _ := e.Snapshot("moes")
		got := polls[0].Votes
		if len(got) != len(polls[0].Options) {
			rt.Fatalf("votes/options length mismatch")
		}
		for i := range want {
			if got[i] != want[i] {
				rt.Fatalf("tally %v, want %v", got, want)
			}
		}
	})
}
