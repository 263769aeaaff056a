package reminder

import (
	"errors"
	"fmt"

	"chime/internal/schedule"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrPresentation = errors.New("presentation failed")
	ErrPersistence  = errors.New("persistence failed")
	ErrNotFound     = errors.New("reminder not found")
	ErrDuplicateID  = errors.New("duplicate reminder id")

	// ErrInvariant is shared with the occurrence calculator.
	ErrInvariant = schedule.ErrInvariant
)

// InvariantViolation reports an internal logic error.
type InvariantViolation = schedule.InvariantError

// ValidationError rejects user input before anything is stored or armed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid reminder: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PresentationError wraps a sink failure. It is logged, never fatal.
type PresentationError struct {
	Sink string
	Err  error
}

func (e *PresentationError) Error() string {
	return fmt.Sprintf("present via %s: %v", e.Sink, e.Err)
}

func (e *PresentationError) Unwrap() error        { return e.Err }
func (e *PresentationError) Is(target error) bool { return target == ErrPresentation }

// PersistenceError wraps a failed Load/Save on the backend.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s reminders: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
