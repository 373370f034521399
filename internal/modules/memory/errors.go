package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: the memory does not exist, or is soft-deleted and the
	// caller came through the public read path.
	ErrNotFound = errors.New("memory not found")
	// ErrDeleted: mutation attempted on a soft-deleted memory.
	ErrDeleted = errors.New("memory is deleted")
)

// ValidationError distinguishes malformed input from transient store
// failures so callers can decide whether a retry makes sense.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
