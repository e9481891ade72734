package signaling

import (
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/room"
)

// Precondition failures detected by the coordinator itself. Failures detected
// by the room store surface as room sentinels.
var (
	ErrAlreadyInRoom = errors.New("connection is already in a room")
	ErrNotInRoom     = errors.New("connection is not in a room")
	ErrRoomMismatch  = errors.New("message addresses a room the connection is not in")
	ErrNoCall        = errors.New("no call in progress")
	ErrNoRecipient   = errors.New("no recipient for candidate")
	ErrClosed        = errors.New("coordinator closed")
)

// ValidationError reports a malformed message. It is detected before any
// state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid message: " + e.Reason
	}
	return "invalid message field " + e.Field + ": " + e.Reason
}

func validationErrorf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Kind classifies why an inbound message was dropped.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindNotFound     Kind = "not_found"
)

// Classify maps err onto the drop taxonomy. Every non-nil error has a kind;
// anything not recognised as a validation or lookup failure is a
// precondition failure.
func Classify(err error) Kind {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr), errors.Is(err, room.ErrInvalidRoomID):
		return KindValidation
	case room.IsNotFound(err), errors.Is(err, registry.ErrConnectionNotFound):
		return KindNotFound
	default:
		return KindPrecondition
	}
}
