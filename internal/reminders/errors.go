package reminders

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyFinalized = errors.New("reminder already finalized")
	ErrInvalidInput     = errors.New("invalid input")
)

// ValidationError carries a message meant for the end user. It matches
// ErrInvalidInput with errors.Is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// Invalid returns a ValidationError with the given user-facing message.
func Invalid(message string) error {
	return &ValidationError{Message: message}
}
