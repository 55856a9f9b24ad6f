package inference

import (
	"fmt"
	"net/http"
)

// ErrorKind is a closed enumeration of the error categories the core can
// produce. Every user-facing error carries exactly one kind.
type ErrorKind string

const (
	ErrorInvalidRequest    ErrorKind = "invalid_request_error"
	ErrorModelNotFound     ErrorKind = "model_not_found"
	ErrorBackendUnavailable ErrorKind = "backend_unavailable"
	ErrorLoad              ErrorKind = "load_error"
	ErrorCancelled          ErrorKind = "cancelled_by_client"
	ErrorTimeout            ErrorKind = "timeout"
	ErrorInternal           ErrorKind = "internal_error"
)

// HTTPStatus maps an ErrorKind to the status code it is reported with.
// ErrorCancelled has no meaningful status since the connection is already
// closed by the time it is observed.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrorInvalidRequest:
		return http.StatusBadRequest
	case ErrorModelNotFound:
		return http.StatusNotFound
	case ErrorBackendUnavailable:
		return http.StatusServiceUnavailable
	case ErrorLoad:
		return http.StatusInternalServerError
	case ErrorTimeout:
		return http.StatusGatewayTimeout
	case ErrorInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single concrete error type raised by the core packages. It
// carries a correlation ID so operators can map a client-visible error back
// to the server log line that recorded the underlying cause.
type Error struct {
	Kind          ErrorKind
	Message       string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an *Error with the given kind and message. CorrelationID
// is left empty; callers that need one should set it via WithCorrelationID
// once a request-scoped ID is available.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind, preserving cause for
// errors.Is/errors.As chains and logging.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCorrelationID returns a copy of e with CorrelationID set.
func (e *Error) WithCorrelationID(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}
