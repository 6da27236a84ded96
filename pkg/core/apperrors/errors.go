// Package apperrors defines the error taxonomy shared by the opportunity and
// chat notification services.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeNotFound             Code = "NOT_FOUND"
	CodeNotAuthorized        Code = "NOT_AUTHORIZED"
	CodeNoInstancesGenerated Code = "NO_INSTANCES_GENERATED"
	CodeSystem               Code = "SYSTEM_ERROR"
)

// Error is a classified application error. Two errors match under errors.Is
// when their codes are equal, so the exported sentinels can be used as targets.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks
var (
	ErrValidation           = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
	ErrNotAuthorized        = &Error{Code: CodeNotAuthorized, Message: "not authorized"}
	ErrNoInstancesGenerated = &Error{Code: CodeNoInstancesGenerated, Message: "recurrence rule produced no dates"}
	ErrSystem               = &Error{Code: CodeSystem, Message: "system error"}
)

// Validation creates a validation error with a formatted message
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWrap wraps an underlying validation failure (e.g. from go-playground/validator)
func ValidationWrap(message string, err error) *Error {
	return &Error{Code: CodeValidation, Message: message, Err: err}
}

// NotFound reports a missing entity
func NotFound(entity, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// NotAuthorized reports an ownership or role failure
func NotAuthorized(format string, args ...any) *Error {
	return &Error{Code: CodeNotAuthorized, Message: fmt.Sprintf(format, args...)}
}

// NoInstancesGenerated reports a degenerate recurrence rule
func NoInstancesGenerated(format string, args ...any) *Error {
	return &Error{Code: CodeNoInstancesGenerated, Message: fmt.Sprintf(format, args...)}
}

// System wraps an infrastructure failure (storage or transport unreachable)
func System(message string, err error) *Error {
	return &Error{Code: CodeSystem, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
