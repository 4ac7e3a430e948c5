package models

import (
	"errors"
	"fmt"
)

// Error codes carried in error envelopes.
const (
	CodeMalformedFrame   = "malformed_frame"
	CodeInvalidMessage   = "invalid_message"
	CodeInvalidLocation  = "invalid_location"
	CodeInvalidCursor    = "invalid_cursor"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternal         = "internal_error"
)

// ErrUnknownKind marks an inbound envelope type the channel does not understand. It is
// logged and dropped, never answered.
var ErrUnknownKind = errors.New("unknown envelope type")

// ErrNotFound is returned by repositories for missing conversations and bookings.
var ErrNotFound = errors.New("not found")

// ValidationError is answered with an error envelope; the connection stays open.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StoreError wraps a failed message-store call. Nothing that failed to persist is delivered.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("message store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorDataFor maps a handler error to the payload sent back to the client. ok is false for
// errors that must not be reported on the connection.
func ErrorDataFor(err error) (data ErrorData, ok bool) {
	var verr *ValidationError
	var serr *StoreError
	switch {
	case errors.As(err, &verr):
		return ErrorData{Code: verr.Code, Field: verr.Field, Message: verr.Message}, true
	case errors.As(err, &serr):
		return ErrorData{Code: CodeStoreUnavailable, Message: "message could not be saved, try again", Retryable: true}, true
	case errors.Is(err, ErrUnknownKind):
		return ErrorData{}, false
	default:
		return ErrorData{Code: CodeInternal, Message: "internal error", Retryable: true}, true
	}
}
