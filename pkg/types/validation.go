package types

import (
	"fmt"
	"strings"
)

// Validate checks a message body before it is persisted. An empty Type is
// treated as text.
func (m *Message) Validate() error {
	if m.Type == "" {
		m.Type = MessageTypeText
	}

	if len(m.Content) > MaxContentBytes {
		return fmt.Errorf("%w: %w", ErrValidation, ErrContentTooLarge)
	}

	switch m.Type {
	case MessageTypeText:
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyContent)
		}
	case MessageTypeFile:
		if strings.TrimSpace(m.FileURL) == "" || strings.TrimSpace(m.FileName) == "" {
			return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidFile)
		}
	default:
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidKind)
	}

	if !IsValidUserID(m.SenderID) {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidUserID)
	}

	return nil
}
