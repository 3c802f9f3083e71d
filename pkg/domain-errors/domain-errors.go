package domainerrors

import (
	"errors"
	"fmt"
)

// Code represents a domain error category independent of the caller's transport.
type Code string

const (
	// Validation class: detected before any write.
	CodeValidation        Code = "validation_failed"
	CodeInvalidInput      Code = "invalid_input"
	CodeInvalidTransition Code = "invalid_transition"
	CodeUserMismatch      Code = "user_mismatch"

	CodeNotFound Code = "not_found"
	CodeConflict Code = "conflict"

	// Failure class: the enclosing transaction is rolled back.
	CodeInternal           Code = "internal_error"
	CodeCollaborator       Code = "collaborator_failed"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
)

// IsValidation reports whether the code belongs to the validation class.
func (c Code) IsValidation() bool {
	switch c {
	case CodeValidation, CodeInvalidInput, CodeInvalidTransition, CodeUserMismatch:
		return true
	}
	return false
}

// Error wraps domain or infrastructure failures with a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the outermost domain code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsValidation reports whether err carries a validation-class code.
func IsValidation(err error) bool {
	return err != nil && CodeOf(err).IsValidation()
}
