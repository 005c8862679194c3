package apperr

import (
	"errors"
	"net/http"
)

// Error carries the HTTP status and the user-facing message of a failure.
// Err, when set, is the underlying cause and is never shown to clients.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidRequest creates a 400 error for malformed or incomplete input.
func InvalidRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg}
}

// NotFound creates a 404 error.
func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Message: msg}
}

// Busy creates a 429 error for saturated per-session queues.
func Busy(msg string) *Error {
	return &Error{Status: http.StatusTooManyRequests, Message: msg}
}

// Upstream creates a 500 error for network failures or non-2xx replies from a provider.
func Upstream(msg string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// BadUpstreamPayload creates a 502 error for provider replies that cannot be used.
func BadUpstreamPayload(msg string, err error) *Error {
	return &Error{Status: http.StatusBadGateway, Message: msg, Err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// StatusOf returns the HTTP status for err, 500 when err carries none.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal server error"
}
