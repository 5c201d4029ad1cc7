package services

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers distinguish the three classes with errors.Is:
// validation errors are correctable by the caller, permission errors are
// rejected before any mutation, configuration errors need an operator.
var (
	ErrValidation    = errors.New("validation error")
	ErrPermission    = errors.New("permission denied")
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError is a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationErrorf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func permissionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

func configurationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
