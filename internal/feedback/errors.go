package feedback

import "errors"

var (
	// ErrValidation marks input rejected before any request is made.
	ErrValidation = errors.New("validation failed")

	// ErrNetwork marks a failed call to a remote collaborator.
	ErrNetwork = errors.New("network error")
)

// ValidationError describes rejected user input. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid returns a ValidationError with the given message.
func Invalid(msg string) error {
	return &ValidationError{Msg: msg}
}
