// Package apperr defines the error taxonomy shared across engines.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrNotRecording      = errors.New("not recording")
	ErrAlreadyRecording  = errors.New("already recording")
)

// RecognitionError wraps a failure of the speech recognition process after
// it started. Retriable by user action.
type RecognitionError struct {
	Cause error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition failed: %v", e.Cause)
}

func (e *RecognitionError) Unwrap() error { return e.Cause }

// PersistenceError wraps a record store I/O failure. Callers must not
// assume any partial write happened.
type PersistenceError struct {
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %v", e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// Benign reports whether err is a caller usage error that should be treated
// as a no-op rather than surfaced.
func Benign(err error) bool {
	return errors.Is(err, ErrNotRecording) || errors.Is(err, ErrAlreadyRecording)
}
