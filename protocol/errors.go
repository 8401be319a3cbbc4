package protocol

import (
	"errors"
	"fmt"
)

// Category classifies a protocol failure.
type Category string

// Protocol error categories.
const (
	// CategoryDecode marks a malformed frame or an unrecognized operation or
	// value type tag. No store mutation has occurred.
	CategoryDecode Category = "decode"

	// CategoryDispatch marks a store rejecting or failing an individual
	// operation. Messages before the failing one have already been applied.
	CategoryDispatch Category = "dispatch"

	// CategoryTransport marks a connection-level fault unrelated to message
	// content. Always fatal to that connection.
	CategoryTransport Category = "transport"
)

// Error is a categorized protocol error. Decode and dispatch errors are
// reported back to the sender as response text and leave the connection
// usable; transport errors close the connection without a response.
type Error struct {
	Category Category
	Msg      string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Category) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return string(e.Category) + ": " + e.Msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewDecodeError creates a decode-category error.
func NewDecodeError(format string, args ...any) *Error {
	return &Error{Category: CategoryDecode, Msg: fmt.Sprintf(format, args...)}
}

// NewDispatchError wraps a store failure in a dispatch-category error.
func NewDispatchError(op string, key string, err error) *Error {
	return &Error{
		Category: CategoryDispatch,
		Msg:      fmt.Sprintf("operation %q key %q", op, key),
		Err:      err,
	}
}

// NewTransportError wraps a connection-level fault.
func NewTransportError(msg string, err error) *Error {
	return &Error{Category: CategoryTransport, Msg: msg, Err: err}
}

// AsError converts any error into a *Error, wrapping uncategorized errors
// under the given default category.
func AsError(err error, fallback Category) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Category: fallback, Msg: err.Error(), Err: err}
}
