package chat

import (
	"errors"
)

// Domain errors. They are reported to the originating session only.
var (
	ErrInvalidPoll    = errors.New("poll needs a question and at least two options")
	ErrPollNotFound   = errors.New("poll not found")
	ErrOptionNotFound = errors.New("poll option not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrMalformedEvent = errors.New("malformed event")
)

// Supporting errors.
var (
	ErrNotInRoom       = errors.New("session is not a member of the room")
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("session not found")
)

// Transport errors.
var (
	ErrTransportClosed = errors.New("transport closed")
	ErrTransportFull   = errors.New("transport buffer full")
)

// Wire codes sent in error frames.
const (
	CodeInvalidPoll    = "InvalidPoll"
	CodePollNotFound   = "PollNotFound"
	CodeOptionNotFound = "OptionNotFound"
	CodeUploadFailed   = "UploadFailed"
	CodeMalformedEvent = "MalformedEvent"
	CodeNotInRoom      = "NotInRoom"
	CodeInternal       = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidPoll, CodeInvalidPoll},
	{ErrPollNotFound, CodePollNotFound},
	{ErrOptionNotFound, CodeOptionNotFound},
	{ErrUploadFailed, CodeUploadFailed},
	{ErrMalformedEvent, CodeMalformedEvent},
	{ErrNotInRoom, CodeNotInRoom},
	// A room that vanished under an in-flight event means the sender left it.
	{ErrRoomNotFound, CodeNotInRoom},
}

// Code maps err to its wire code.
//
// Postcondition: Returns CodeInternal for nil or unclassified errors.
func Code(err error) string {
	if err == nil {
		return CodeInternal
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
