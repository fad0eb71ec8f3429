package actor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Start when an actor with the same logical
	// identity is already running. The existing run ID is returned alongside it.
	ErrAlreadyActive = errors.New("actor: already active")
	// ErrUnknownRole is returned for roles with no registered definition.
	ErrUnknownRole = errors.New("actor: unknown role")
	// ErrValidation marks malformed input rejected before it reaches a loop.
	ErrValidation = errors.New("actor: validation failed")
	// ErrNotFound is returned when no live actor matches an address.
	ErrNotFound = errors.New("actor: not found")
)

// Invalid builds a validation error.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsValidation reports whether err is a boundary validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
