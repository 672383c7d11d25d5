package storage

import (
	"errors"
	"fmt"
)

// OpenErrorKind classifies store open failures.
type OpenErrorKind string

const (
	// OpenInvalidConfig indicates the store name or directory is missing or malformed.
	OpenInvalidConfig OpenErrorKind = "INVALID_CONFIG"

	// OpenIOFailure indicates the file system refused the store: permissions,
	// a full disk, or a path that cannot be created or removed.
	OpenIOFailure OpenErrorKind = "IO_FAILURE"

	// OpenUnrecoverableCorruption indicates the store could not be opened and
	// the destroy-and-recreate recovery failed as well.
	OpenUnrecoverableCorruption OpenErrorKind = "UNRECOVERABLE_CORRUPTION"
)

// OpenError reports why a store could not be opened. Open errors are fatal
// for the persistence subsystem: callers must not continue without a store.
type OpenError struct {
	Kind    OpenErrorKind
	Message string
	Path    string
	Err     error
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *OpenError) Unwrap() error {
	return e.Err
}

// IsOpenKind reports whether err is an OpenError of the given kind.
func IsOpenKind(err error, kind OpenErrorKind) bool {
	var oe *OpenError
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}

// Apply failures. Backends wrap these with the offending object.
var (
	// ErrDuplicateObject is returned when a change set inserts an object that exists.
	ErrDuplicateObject = errors.New("object already exists")

	// ErrObjectNotFound is returned when a change set updates an object that does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrClosed is returned by every operation on a closed backend.
	ErrClosed = errors.New("store is closed")
)
