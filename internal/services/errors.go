package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrStorageUnavailable = errors.New("storage service is not configured")

	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("message %w", ErrNotFound)
	ErrAttachmentNotFound   = fmt.Errorf("attachment %w", ErrNotFound)

	ErrFileTooLarge = fmt.Errorf("%w: file exceeds the upload limit", ErrValidation)
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
