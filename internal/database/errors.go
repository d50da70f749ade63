package database

import (
	"errors"
	"fmt"

	"huddle/pkg/types"
)

var (
	// ErrClosed is returned for writes after Close.
	ErrClosed = errors.New("database manager is closed")

	// ErrAlreadyExists is returned when creating a user or group whose id is taken.
	ErrAlreadyExists = fmt.Errorf("%w: already exists", types.ErrValidation)

	ErrUserNotFound         = fmt.Errorf("%w: user", types.ErrNotFound)
	ErrGroupNotFound        = fmt.Errorf("%w: group", types.ErrNotFound)
	ErrMemberNotFound       = fmt.Errorf("%w: group member", types.ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("%w: notification", types.ErrNotFound)
)
