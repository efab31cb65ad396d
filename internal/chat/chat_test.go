package chat

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodeClassifiesWrappedErrors(t *testing.T) {
	cases := map[error]string{
		ErrInvalidPoll:    CodeInvalidPoll,
		ErrPollNotFound:   CodePollNotFound,
		ErrOptionNotFound: CodeOptionNotFound,
		ErrUploadFailed:   CodeUploadFailed,
		ErrMalformedEvent: CodeMalformedEvent,
		ErrNotInRoom:      CodeNotInRoom,
		ErrRoomNotFound:   CodeNotInRoom,
	}
	for err, want := range cases {
		wrapped := fmt.Errorf("votePoll bar %q: %w", "moes", err)
		assert.Equal(t, want, Code(wrapped), "error %v", err)
	}
}

func TestCodeUnknown(t *testing.T) {
	assert.Equal(t, CodeInternal, Code(nil))
	assert.Equal(t, CodeInternal, Code(errors.New("disk on fire")))
}

func TestMessageConstructors(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.FixedZone("EST", -5*3600))
	p := Profile{Name: "ana", Age: "29", Gender: "f"}

	txt := NewText(p, "moes", "hi", "8:00 PM", now)
	assert.Equal(t, KindText, txt.Kind)
	assert.Equal(t, "hi", txt.Text)
	assert.Empty(t, txt.ImageURL)
	assert.Equal(t, time.UTC, txt.SentAt.Location())

	img := NewImage(p, "moes", "/uploads/a.png", "", now)
	assert.Equal(t, KindImage, img.Kind)
	assert.Equal(t, "/uploads/a.png", img.ImageURL)
	assert.Empty(t, img.Text)
	assert.Equal(t, "ana", img.Name)
}

func TestPollCloneIsDeep(t *testing.T) {
	p := Poll{Question: "Best drink?", Options: []string{"Beer", "Wine"}, Votes: []int{0, 0}}
	c := p.Clone()
	c.Votes[1] = 5
	c.Options[0] = "Cider"
	assert.Equal(t, []int{0, 0}, p.Votes)
	assert.Equal(t, "Beer", p.Options[0])
}
