// Package domainerrors carries typed error codes across layer boundaries.
//
// Stores and infrastructure return sentinel errors (pkg/platform/sentinel);
// services translate them into coded errors here; transport maps codes to
// status (pkg/platform/httputil).
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure so callers can branch without string matching.
type Code string

const (
	// CodeConnectivity means there is no internet or the backend is unreachable.
	CodeConnectivity Code = "connectivity_error"
	// CodeTimeout means a single bounded operation exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeRemote means the backend answered with an application-level error.
	CodeRemote Code = "remote_error"
	// CodeTransform means one row failed to map to the domain shape.
	CodeTransform Code = "transform_error"
	// CodeNotFound means a required lookup found nothing.
	CodeNotFound Code = "not_found"

	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeInternal     Code = "internal_error"
)

// Error is a coded error. Message is safe to show to callers; Err keeps the
// underlying cause for logs and errors.Is/As chains.
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

// New creates a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and caller-safe message to err.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in err's chain, or CodeInternal when the
// chain carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is reports whether the outermost coded error in err's chain has code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
