package coordinator

import (
	"errors"
	"fmt"

	"github.com/roach88/graphstore/internal/graph"
)

// ErrorCode categorizes save failures.
type ErrorCode string

const (
	// ErrCodeStoreUnavailable indicates the coordinator has been closed.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrCodeIllegalMainContextSave indicates a save of the main context.
	ErrCodeIllegalMainContextSave ErrorCode = "ILLEGAL_MAIN_CONTEXT_SAVE"

	// ErrCodeForeignContext indicates a context created by another coordinator.
	ErrCodeForeignContext ErrorCode = "FOREIGN_CONTEXT"

	// ErrCodeNoPendingChanges indicates a save of a context without changes.
	ErrCodeNoPendingChanges ErrorCode = "NO_PENDING_CHANGES"

	// ErrCodeSaveInFlight indicates a save while the context's previous
	// completion is still pending, under RejectIfPending.
	ErrCodeSaveInFlight ErrorCode = "SAVE_IN_FLIGHT"

	// ErrCodeSuperseded is delivered to a pending completion replaced by a
	// newer save of the same context, under ReplacePending.
	ErrCodeSuperseded ErrorCode = "SUPERSEDED"

	// ErrCodeWriteFailed indicates the durable write or its preflight
	// validation failed. Nothing was written.
	ErrCodeWriteFailed ErrorCode = "WRITE_FAILED"

	// ErrCodeMergeConflict indicates the write succeeded but merging it into
	// the main context conflicted under the Error merge policy.
	ErrCodeMergeConflict ErrorCode = "MERGE_CONFLICT"
)

// SaveError describes why a save failed.
type SaveError struct {
	Code    ErrorCode
	Message string

	// Context identifies the saved context.
	Context graph.ID

	Err error
}

func (e *SaveError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.Context.IsZero() {
		msg += fmt.Sprintf(" (context=%s)", e.Context)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a SaveError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *SaveError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func saveError(code ErrorCode, id graph.ID, err error, format string, args ...any) *SaveError {
	return &SaveError{Code: code, Message: fmt.Sprintf(format, args...), Context: id, Err: err}
}

// Outcome is the result of one save, delivered exactly once.
type Outcome struct {
	// Err is nil on success.
	Err error

	// Seq and Digest identify the durable commit. Both are zero when the
	// write did not happen.
	Seq    int64
	Digest string
}

// OK reports whether the save succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Callback receives a save's outcome.
type Callback func(Outcome)
