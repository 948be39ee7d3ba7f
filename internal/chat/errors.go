package chat

import "errors"

// Failure taxonomy surfaced by the service. Transport layers map these to
// HTTP statuses or WebSocket close reasons.
var (
	// ErrAuthRequired means the caller presented no usable identity and the
	// operation demands one.
	ErrAuthRequired = errors.New("authentication required")
	// ErrInvalidToken means a presented token failed verification while
	// authentication is mandatory.
	ErrInvalidToken = errors.New("invalid token")
	// ErrForbidden means the room exists but the caller is not a member.
	ErrForbidden = errors.New("forbidden")
	// ErrRoomNotFound means the requested room does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrDuplicateMessage means an idempotent insert conflicted but the
	// existing row could not be resolved. It indicates a storage bug and is
	// not a user-facing condition.
	ErrDuplicateMessage = errors.New("duplicate message id")
	// ErrInternal wraps storage failures.
	ErrInternal = errors.New("internal error")
)

// ValidationError reports invalid caller input: an empty message body, a
// missing email, an unnamed group, or too few group members.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validation builds a ValidationError.
func Validation(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
