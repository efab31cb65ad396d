package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cory-johannsen/barlink/internal/chat"
)

// Opaque is a display field relayed verbatim. Clients send it as a JSON string
// or number; it is normalized to its textual form.
type Opaque string

// UnmarshalJSON accepts a string, a number, or null.
func (o *Opaque) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*o = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = Opaque(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", b)
		}
		*o = Opaque(n.String())
		return nil
	}
}

// BarRef names a room. It decodes from either "moes" or {"bar": "moes"}.
type BarRef struct {
	Bar string `json:"bar"`
}

// UnmarshalJSON accepts a bare string or an object with a bar field.
func (r *BarRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.Bar)
	}
	var obj struct {
		Bar string `json:"bar"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.Bar = obj.Bar
	return nil
}

func (r BarRef) Validate() error {
	if strings.TrimSpace(r.Bar) == "" {
		return errors.New("bar is required")
	}
	return nil
}

// ProfilePayload carries setProfile.
type ProfilePayload struct {
	Name   string `json:"name"`
	Age    Opaque `json:"age"`
	Gender Opaque `json:"gender"`
}

func (p ProfilePayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// Profile converts the payload into a chat.Profile.
func (p ProfilePayload) Profile() chat.Profile {
	return chat.Profile{Name: p.Name, Age: string(p.Age), Gender: string(p.Gender)}
}

// MessagePayload carries sendMessage.
type MessagePayload struct {
	ProfilePayload
	Bar       string `json:"bar"`
	Text      string `json:"text"`
	Timestamp Opaque `json:"timestamp"`
}

func (p MessagePayload) Validate() error {
	var errs []string
	if strings.TrimSpace(p.Bar) == "" {
		errs = append(errs, "bar is required")
	}
	if strings.TrimSpace(p.Text) == "" {
		errs = append(errs, "text is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ImagePayload carries sendImage.
type ImagePayload struct {
	ProfilePayload
	Bar       string `json:"bar"`
	ImageURL  string `json:"imageUrl"`
	Timestamp Opaque `json:"timestamp"`
}

func (p ImagePayload) Validate() error {
	var errs []string
	if strings.TrimSpace(p.Bar) == "" {
		errs = append(errs, "bar is required")
	}
	if strings.TrimSpace(p.ImageURL) == "" {
		errs = append(errs, "imageUrl is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// TypingPayload carries typing and stopTyping.
type TypingPayload struct {
	Name string `json:"name"`
	Bar  string `json:"bar"`
}

func (p TypingPayload) Validate() error {
	var errs []string
	if strings.TrimSpace(p.Bar) == "" {
		errs = append(errs, "bar is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, "name is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// CreatePollPayload carries createPoll. Question and option rules belong to the
// poll engine, which reports them as InvalidPoll rather than MalformedEvent.
type CreatePollPayload struct {
	Bar      string   `json:"bar"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (p CreatePollPayload) Validate() error {
	if strings.TrimSpace(p.Bar) == "" {
		return errors.New("bar is required")
	}
	return nil
}

// VotePayload carries votePoll. Indexes are pointers so a missing field is
// distinguishable from index zero.
type VotePayload struct {
	Bar         string `json:"bar"`
	PollIndex   *int   `json:"pollIndex"`
	OptionIndex *int   `json:"optionIndex"`
}

func (p VotePayload) Validate() error {
	var errs []string
	if strings.TrimSpace(p.Bar) == "" {
		errs = append(errs, "bar is required")
	}
	if p.PollIndex == nil {
		errs = append(errs, "pollIndex is required")
	}
	if p.OptionIndex == nil {
		errs = append(errs, "optionIndex is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// WelcomePayload is sent once when a session connects.
type WelcomePayload struct {
	SessionID chat.SessionID `json:"sessionId"`
	Version   int            `json:"version"`
}

// JoinedPayload acknowledges a join to the joining session only.
type JoinedPayload struct {
	Bar     string      `json:"bar"`
	Members int         `json:"members"`
	Polls   []chat.Poll `json:"polls"`
}

// LeftPayload acknowledges a leave to the leaving session only.
type LeftPayload struct {
	Bar string `json:"bar"`
}

// ErrorPayload reports a failed request to its originator.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// NewError builds the error payload for err raised while handling event.
func NewError(event string, err error) ErrorPayload {
	return ErrorPayload{Code: chat.Code(err), Message: err.Error(), Event: event}
}
