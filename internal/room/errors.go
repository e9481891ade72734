package room

import "errors"

var (
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room full")
	ErrAlreadyMember = errors.New("already a member of the room")
	ErrNotMember     = errors.New("not a member of the room")

	// ErrUnknownTarget is returned when an offer names a target that is not
	// another member of the room (or omits it in multiparty mode).
	ErrUnknownTarget = errors.New("unknown target")

	ErrDuplicateOffer  = errors.New("duplicate offer")
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyAnswered = errors.New("session already answered")
	ErrCalleeMismatch  = errors.New("answer from a member the offer was not sent to")
	ErrNotParticipant  = errors.New("not a participant of the session")
)

// IsNotFound reports whether err refers to an unknown room or session.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrSessionNotFound)
}
