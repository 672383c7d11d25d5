package graph

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes context errors.
type ErrorCode string

const (
	// ErrCodeMergeConflict indicates local edits collided with incoming
	// changes under the Error merge policy.
	ErrCodeMergeConflict ErrorCode = "MERGE_CONFLICT"

	// ErrCodeObjectNotFound indicates the object is neither cached, pending
	// nor stored.
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"

	// ErrCodeDuplicateObject indicates an insert of an id that already exists.
	ErrCodeDuplicateObject ErrorCode = "DUPLICATE_OBJECT"

	// ErrCodeMultipleResults indicates FetchOne matched more than one object.
	ErrCodeMultipleResults ErrorCode = "MULTIPLE_RESULTS"

	// ErrCodeInvalidEntity indicates an empty or malformed entity name or key.
	ErrCodeInvalidEntity ErrorCode = "INVALID_ENTITY"
)

// ContextError is returned by Context operations.
type ContextError struct {
	Code    ErrorCode
	Message string

	// Context identifies the context the operation ran on.
	Context ID

	// Objects lists the affected objects, if any.
	Objects []string

	Err error
}

func (e *ContextError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.Objects) == 1 {
		msg += fmt.Sprintf(" (object=%s)", e.Objects[0])
	} else if len(e.Objects) > 1 {
		msg += fmt.Sprintf(" (objects=%d)", len(e.Objects))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ContextError) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a ContextError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ce *ContextError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsMergeConflict reports whether err is a merge conflict.
func IsMergeConflict(err error) bool {
	return IsCode(err, ErrCodeMergeConflict)
}

// IsNotFound reports whether err is an object-not-found error.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeObjectNotFound)
}
