package errors

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. The wire layer maps codes onto the
// textual prefixes legacy clients pattern-match on.
type Code string

const (
	CodeMalformedRequest   Code = "MALFORMED_REQUEST"
	CodeNotAuthenticated   Code = "NOT_AUTHENTICATED"
	CodeNotAuthorized      Code = "NOT_AUTHORIZED"
	CodeMaintenance        Code = "MAINTENANCE_ON"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeCapacityExceeded   Code = "CAPACITY_EXCEEDED"
	CodeAlreadyRegistered  Code = "ALREADY_REGISTERED"
	CodeTimeConflict       Code = "TIME_CONFLICT"
	CodeDeadlinePassed     Code = "DEADLINE_PASSED"
	CodeNotRegistered      Code = "NOT_REGISTERED"
	CodeInvalidScore       Code = "INVALID_SCORE"
	CodeNotFound           Code = "NOT_FOUND"
	CodeStore              Code = "DB_ERROR"
	CodeConnectionLost     Code = "CONNECTION_LOST"
	CodeTimeout            Code = "TIMEOUT"
)

// Error is a typed domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrMalformedRequest   = New(CodeMalformedRequest, "malformed request")
	ErrNotAuthenticated   = New(CodeNotAuthenticated, "not authenticated")
	ErrNotAuthorized      = New(CodeNotAuthorized, "not authorized")
	ErrMaintenance        = New(CodeMaintenance, "server is under maintenance")
	ErrInvalidCredentials = New(CodeInvalidCredentials, "invalid username or password")
	ErrCapacityExceeded   = New(CodeCapacityExceeded, "section capacity exceeded")
	ErrAlreadyRegistered  = New(CodeAlreadyRegistered, "already registered in section")
	ErrTimeConflict       = New(CodeTimeConflict, "schedule conflicts with a registered section")
	ErrDeadlinePassed     = New(CodeDeadlinePassed, "drop deadline has passed")
	ErrNotRegistered      = New(CodeNotRegistered, "no active registration found")
	ErrInvalidScore       = New(CodeInvalidScore, "score must be between 0 and 100")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrStore              = New(CodeStore, "storage failure")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrStore.Code, ErrStore.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	e := FromError(err)
	return e != nil && e.Code == code
}
