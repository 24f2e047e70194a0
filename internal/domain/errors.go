package domain

import "errors"

var (
	// ErrJobNotFound is returned when no job row matches a task id
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPayload is returned when a message payload is structurally valid JSON but unusable
	ErrInvalidPayload = errors.New("invalid payload")
)

// StorageError wraps relational or key/value store failures. Messages whose
// handling fails with it are left unacknowledged so they are redelivered.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage error: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error for op
func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is or wraps a StorageError
func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}
