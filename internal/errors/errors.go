package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for client failure modes
type ErrorCode string

const (
	// SpawnFailed indicates the analysis server executable could not be launched
	SpawnFailed ErrorCode = "SPAWN_FAILED"
	// StartupFailed indicates the handshake failed or the server reported an error before connecting
	StartupFailed ErrorCode = "STARTUP_FAILED"
	// WriteFailed indicates a request could not be written to the server
	WriteFailed ErrorCode = "WRITE_FAILED"
	// StreamClosed indicates the server's output stream ended
	StreamClosed ErrorCode = "STREAM_CLOSED"
	// MalformedMessage indicates an inbound line was neither a response nor an event
	MalformedMessage ErrorCode = "MALFORMED_MESSAGE"
	// ConnectionLost indicates the connection to the server is gone
	ConnectionLost ErrorCode = "CONNECTION_LOST"
	// InvalidConfig indicates the configuration cannot be used
	InvalidConfig ErrorCode = "INVALID_CONFIG"
	// InvalidPosition indicates a cursor position outside the buffer
	InvalidPosition ErrorCode = "INVALID_POSITION"
	// StoreFailed indicates the workspace store could not be read or written
	StoreFailed ErrorCode = "STORE_FAILED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Error is a coded error carrying an optional cause
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new coded error
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a coded error with the same code.
// This lets callers write errors.Is(err, errors.New(ConnectionLost, "", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the outermost coded error in err's chain,
// or the empty code if there is none.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// IsFatal reports whether the error means the connection can no longer be used.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case SpawnFailed, StartupFailed, WriteFailed, StreamClosed, ConnectionLost:
		return true
	}
	return false
}
