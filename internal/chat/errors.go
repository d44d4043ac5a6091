package chat

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/zodiacchat/internal/store"
)

// Failure kinds reported back to the originating connection.
var (
	ErrNotAuthenticated  = errors.New("connection is not authenticated")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrUnknownSender     = errors.New("bound user has no stored record")
	ErrUnknownTarget     = errors.New("unknown target")
	ErrMalformedInput    = errors.New("malformed input")
	ErrUnknownType       = errors.New("unknown message type")
	ErrNotGroupMember    = errors.New("not a member of the group")

	ErrGroupNotFound     = fmt.Errorf("%w: group", ErrUnknownTarget)
	ErrMessageNotFound   = fmt.Errorf("%w: message", ErrUnknownTarget)
	ErrRecipientNotFound = fmt.Errorf("%w: recipient", ErrUnknownTarget)
)

// inputError is a validation failure with a message meant for the client.
type inputError struct {
	detail string
}

func (e *inputError) Error() string { return "malformed input: " + e.detail }
func (e *inputError) Unwrap() error { return ErrMalformedInput }

func malformed(format string, args ...interface{}) error {
	return &inputError{detail: fmt.Sprintf(format, args...)}
}

// ClientMessage turns a handler error into the string sent in an error event.
func ClientMessage(err error) string {
	var ie *inputError
	switch {
	case errors.As(err, &ie):
		return ie.detail
	case errors.Is(err, ErrMalformedInput):
		return "Invalid message format"
	case errors.Is(err, ErrUnknownType):
		return "Unknown message type"
	case errors.Is(err, ErrNotAuthenticated):
		return "Not authenticated"
	case errors.Is(err, ErrDuplicateUsername):
		return "Username already exists"
	case errors.Is(err, ErrUnknownSender):
		return "Unknown sender"
	case errors.Is(err, ErrGroupNotFound):
		return "Group not found"
	case errors.Is(err, ErrMessageNotFound):
		return "Message not found"
	case errors.Is(err, ErrRecipientNotFound):
		return "Recipient not found"
	case errors.Is(err, ErrUnknownTarget):
		return "Unknown target"
	case errors.Is(err, ErrNotGroupMember):
		return "Not a group member"
	case errors.Is(err, store.ErrUnavailable):
		return "Store unavailable"
	default:
		return "Internal server error"
	}
}
