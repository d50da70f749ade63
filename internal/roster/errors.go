package roster

import (
	"fmt"

	"huddle/pkg/types"
)

var (
	ErrInvalidGroupName = fmt.Errorf("%w: group name must be 1-200 characters", types.ErrValidation)
	ErrInvalidCreatedBy = fmt.Errorf("%w: created_by must be a valid user ID", types.ErrValidation)
	ErrInvalidMember    = fmt.Errorf("%w: invalid member ID", types.ErrValidation)
	ErrInvalidUserName  = fmt.Errorf("%w: user name must be at most 200 characters", types.ErrValidation)
	ErrNotMember        = fmt.Errorf("%w: user is not a member of this group", types.ErrForbidden)
)
