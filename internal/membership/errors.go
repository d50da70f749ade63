package membership

import (
	"fmt"

	"huddle/pkg/types"
)

var (
	ErrNotOnRoster      = fmt.Errorf("%w: user is not on the group roster", types.ErrForbidden)
	ErrUnknownGroup     = fmt.Errorf("%w: group does not exist", types.ErrForbidden)
	ErrUnknownUser      = fmt.Errorf("%w: target user does not exist", types.ErrValidation)
	ErrSelfConversation = fmt.Errorf("%w: cannot open a private conversation with yourself", types.ErrValidation)
	ErrConnectionGone   = fmt.Errorf("%w: connection is no longer registered", types.ErrTransport)
)
