package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrUnroutableDestination is returned when no registered channel matches
	// an envelope's destination.
	ErrUnroutableDestination = errors.New("unroutable destination")

	// ErrUnknownAction is returned when the destination has no handler for
	// the requested action.
	ErrUnknownAction = errors.New("unknown action")

	// ErrPermissionDenied is returned when the access policy rejects a call.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrHandlerFailure wraps any error or panic raised inside a handler.
	ErrHandlerFailure = errors.New("handler failure")

	// ErrTransportFailure is returned when the broker connection is lost and
	// could not be re-established.
	ErrTransportFailure = errors.New("transport failure")

	// ErrMailboxFull is returned when a bounded mailbox or broker queue
	// cannot accept another envelope.
	ErrMailboxFull = errors.New("mailbox full")

	// ErrMailboxClosed is returned when delivering to or reading from a
	// mailbox after its channel has shut down.
	ErrMailboxClosed = errors.New("mailbox closed")

	// ErrDuplicateChannel is returned when joining a space with an id that is
	// already registered.
	ErrDuplicateChannel = errors.New("channel already joined")

	// ErrChannelNotFound is returned when leaving a space with an unknown id.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrInvalidAction is returned when an action table cannot be built.
	ErrInvalidAction = errors.New("invalid action")
)

// Wire codes carried in the "code" argument of error replies.
const (
	CodeUnroutableDestination = "unroutable_destination"
	CodeUnknownAction         = "unknown_action"
	CodePermissionDenied      = "permission_denied"
	CodeHandlerFailure        = "handler_failure"
	CodeTransportFailure      = "transport_failure"
	CodeMailboxFull           = "mailbox_full"
	CodeInternal              = "internal"
)

// DispatchError describes why an envelope was rejected or failed.
type DispatchError struct {
	Code       string
	EnvelopeID string
	Action     string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s (%s): %v", e.Action, e.EnvelopeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is compatibility.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	var de *DispatchError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	switch {
	case errors.Is(err, ErrUnroutableDestination):
		return CodeUnroutableDestination
	case errors.Is(err, ErrUnknownAction):
		return CodeUnknownAction
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrHandlerFailure):
		return CodeHandlerFailure
	case errors.Is(err, ErrTransportFailure):
		return CodeTransportFailure
	case errors.Is(err, ErrMailboxFull):
		return CodeMailboxFull
	default:
		return CodeInternal
	}
}
