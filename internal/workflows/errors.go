package workflows

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when input is rejected before any remote call
	ErrValidation = errors.New("validation failed")

	// ErrEmptyURL is returned when ingestion by reference gets an empty URL
	ErrEmptyURL = fmt.Errorf("%w: url is required", ErrValidation)

	// ErrNoFileSelected is returned when ingestion by upload gets no payload
	ErrNoFileSelected = fmt.Errorf("%w: no file selected", ErrValidation)
)

// RemoteOperationError wraps a failed backend call. Step is empty for
// operations that are not pipeline steps (ingestion, metadata).
type RemoteOperationError struct {
	Operation string
	Step      string
	Err       error
}

func (e *RemoteOperationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("step %q failed: %s: %v", e.Step, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

// Unwrap exposes the backend error unchanged
func (e *RemoteOperationError) Unwrap() error {
	return e.Err
}

// IsRemote reports whether err came from a backend call
func IsRemote(err error) bool {
	var remote *RemoteOperationError
	return errors.As(err, &remote)
}
