package service

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned when a message body is empty after trimming.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrForbidden is returned when the caller may not access a resource.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials is returned when sign-in fails.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrLLMDisabled is returned when reply suggestions are not configured.
	ErrLLMDisabled = errors.New("reply suggestions are not configured")
)

// ValidationError reports an invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
