package router

import (
	"fmt"

	"huddle/pkg/types"
)

var (
	ErrRateLimitExceeded   = fmt.Errorf("%w: too many messages", types.ErrRateLimited)
	ErrSenderNotMember     = fmt.Errorf("%w: sender is not a member of this room", types.ErrForbidden)
	ErrReaderNotMember     = fmt.Errorf("%w: not a member of this room", types.ErrForbidden)
	ErrUnknownReceiver     = fmt.Errorf("%w: receiver does not exist", types.ErrValidation)
	ErrInvalidNotification = fmt.Errorf("%w: notification needs a valid user id and a title", types.ErrValidation)
	ErrBreakerOpen         = fmt.Errorf("%w: store circuit open", types.ErrPersistence)
)
