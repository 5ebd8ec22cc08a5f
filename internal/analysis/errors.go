package analysis

import (
	"errors"
	"fmt"

	dserrors "dartas/internal/errors"
)

// Server error codes callers are expected to branch on.
const (
	CodeContentModified  = "CONTENT_MODIFIED"
	CodeInvalidFile      = "GET_ERRORS_INVALID_FILE"
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeUnknownRequest   = "UNKNOWN_REQUEST"
	CodeServerError      = "SERVER_ERROR"
)

// ServerError is an error the server reported for one request. It is never
// retried; the caller decides what a code means.
type ServerError struct {
	Method     string
	Code       string
	Message    string
	StackTrace string
}

// ErrContentModified matches, via errors.Is, a request that raced with a
// content change.
var ErrContentModified = &ServerError{Code: CodeContentModified}

func newServerError(method string, e *RequestError) *ServerError {
	return &ServerError{
		Method:     method,
		Code:       e.Code,
		Message:    e.Message,
		StackTrace: e.StackTrace,
	}
}

func (e *ServerError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s failed with %s: %s", e.Method, e.Code, e.Message)
}

// Is matches another ServerError with the same code.
func (e *ServerError) Is(target error) bool {
	t, ok := target.(*ServerError)
	return ok && t.Code == e.Code
}

// IsConnectionLost reports whether err means the server connection is gone.
func IsConnectionLost(err error) bool {
	return dserrors.HasCode(err, dserrors.ConnectionLost)
}

func isServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
