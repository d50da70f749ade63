package api

import (
	"fmt"

	"huddle/pkg/types"
)

var (
	errInvalidJSON     = fmt.Errorf("%w: invalid JSON body", types.ErrValidation)
	errInvalidLimit    = fmt.Errorf("%w: limit must be a non-negative integer", types.ErrValidation)
	errInvalidBefore   = fmt.Errorf("%w: before must be a non-negative message id", types.ErrValidation)
	errMissingFile     = fmt.Errorf("%w: multipart field \"file\" is required", types.ErrValidation)
	errInvalidFileName = fmt.Errorf("%w: invalid file name", types.ErrNotFound)
	errPayloadTooLarge = fmt.Errorf("%w: upload exceeds the size limit", types.ErrValidation)
)

var (
	errInvalidUserParam  = fmt.Errorf("%w: %w", types.ErrValidation, types.ErrInvalidUserID)
	errInvalidGroupParam = fmt.Errorf("%w: %w", types.ErrValidation, types.ErrInvalidGroupID)
)
