package saver

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes autosave errors.
type ErrorCode string

const (
	// CodeTransportError indicates the transport call failed or panicked.
	CodeTransportError ErrorCode = "TRANSPORT_ERROR"

	// CodeValidationFailed indicates the payload failed pre-save
	// validation. Not retried until the fields change again.
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// CodeDiffError indicates a per-item list reconciliation failure,
	// scoped to one field and one item.
	CodeDiffError ErrorCode = "DIFF_ERROR"
)

// Error is an autosave error with a machine-readable code and an
// optional originating cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the originating cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with no cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps a cause with a code and message.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err (or anything it wraps) carries the code.
func IsCode(err error, code ErrorCode) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// Result is the outcome of one save operation.
//
// Exactly one of the OK/failure shapes applies: on success Err is nil
// and Version/Metadata may carry server echoes; on failure Err is
// non-nil and Code identifies the category.
type Result struct {
	OK bool

	// Deferred is set when a flush was accepted while another transport
	// call was in flight: the caller is not told the data is saved,
	// only that a later attempt will occur.
	Deferred bool

	// Version is an optional server-assigned record version.
	Version int64

	// Metadata carries optional server-provided key/value echoes.
	Metadata map[string]string

	Err  error
	Code ErrorCode
}

// Success returns an OK result.
func Success() Result {
	return Result{OK: true}
}

// Failure returns a failed result carrying err under code.
func Failure(code ErrorCode, err error) Result {
	return Result{OK: false, Err: err, Code: code}
}
