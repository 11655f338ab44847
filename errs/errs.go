// Package errs defines the dashboard error taxonomy. Validation and
// not-found errors are safe to show to the operator; everything else is
// reported with a generic message and logged with its details.
package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeDashboard    Code = "DASHBOARD_ERROR"
	CodeAuth         Code = "AUTH_ERROR"
	CodeAuthz        Code = "AUTHZ_ERROR"
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeDatabase     Code = "DB_ERROR"
	CodeConfig       Code = "CONFIG_ERROR"
	CodeSecurity     Code = "SECURITY_ERROR"
	CodeUserNotFound Code = "USER_NOT_FOUND"
)

// Error is a classified dashboard failure.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAuth         = &Error{Code: CodeAuth}
	ErrAuthz        = &Error{Code: CodeAuthz}
	ErrValidation   = &Error{Code: CodeValidation}
	ErrDatabase     = &Error{Code: CodeDatabase}
	ErrConfig       = &Error{Code: CodeConfig}
	ErrSecurity     = &Error{Code: CodeSecurity}
	ErrUserNotFound = &Error{Code: CodeUserNotFound}
)

func newError(code Code, msg, fallback string, details map[string]any) *Error {
	if msg == "" {
		msg = fallback
	}
	if details == nil {
		details = map[string]any{}
	}
	return &Error{Code: code, Message: msg, Details: details}
}

// Validation reports bad caller input. field may be empty.
func Validation(msg, field string) *Error {
	e := newError(CodeValidation, msg, "Validation failed", nil)
	if field != "" {
		e.Details["field"] = field
	}
	return e
}

func Database(msg string, cause error) *Error {
	e := newError(CodeDatabase, msg, "Database operation failed", nil)
	if cause != nil {
		e.Details["original_error"] = cause.Error()
		e.Err = cause
	}
	return e
}

func Security(msg string, details map[string]any) *Error {
	return newError(CodeSecurity, msg, "Security violation detected", details)
}

func Config(msg string) *Error {
	return newError(CodeConfig, msg, "Configuration error", nil)
}

// Authentication reports a request without a valid session.
func Authentication(msg string) *Error {
	return newError(CodeAuth, msg, "Authentication required", nil)
}

func Authorization(msg string) *Error {
	return newError(CodeAuthz, msg, "Access denied", nil)
}

// UserNotFound builds the lookup-miss error; userID may be empty.
func UserNotFound(userID string) *Error {
	if userID == "" {
		return newError(CodeUserNotFound, "User not found", "", nil)
	}
	e := newError(CodeUserNotFound, fmt.Sprintf("User not found: %s", userID), "", nil)
	e.Details["user_id"] = userID
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeDashboard for unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeDashboard
}
