package types

import "errors"

// Error taxonomy shared by every component. Callers wrap these with
// fmt.Errorf("%w: ...") and match them with errors.Is.
var (
	ErrAuth               = errors.New("authentication failed")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrPersistenceTimeout = errors.New("persistence timeout")
	ErrPersistence        = errors.New("persistence unavailable")
	ErrTransport          = errors.New("transport failure")
)

// Field-level validation errors.
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidGroupID  = errors.New("group ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomKey  = errors.New("invalid room key")
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrContentTooLarge = errors.New("message content exceeds 64KB limit")
	ErrInvalidFile     = errors.New("file message requires a file url and name")
	ErrInvalidKind     = errors.New("message type must be text or file")
)
