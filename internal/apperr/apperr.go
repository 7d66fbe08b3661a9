// ABOUTME: Coded error taxonomy shared by the entitlement core and the HTTP layer
// ABOUTME: Codes are stable machine-readable strings mapped onto HTTP status codes

package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeForbidden           Code = "FORBIDDEN"
	CodeLicenseRequired     Code = "LICENSE_REQUIRED"
	CodePlanUpgradeRequired Code = "PLAN_UPGRADE_REQUIRED"
	CodeQuotaExceeded       Code = "QUOTA_EXCEEDED"
	CodeInvalidPlan         Code = "INVALID_PLAN"
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeTenantRequired      Code = "TENANT_REQUIRED"
	CodePreconditionFailed  Code = "PRECONDITION_FAILED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeUserNotFound        Code = "USER_NOT_FOUND"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeInternal            Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status code for the error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthorized, CodeInvalidToken, CodeUserNotFound:
		return http.StatusUnauthorized
	case CodeForbidden, CodeLicenseRequired, CodePlanUpgradeRequired, CodeQuotaExceeded:
		return http.StatusForbidden
	case CodeInvalidPlan, CodeInvalidInput, CodeTenantRequired:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a stable code.
type Error struct {
	Code    Code           // Machine-readable error code
	Message string         // Human-readable message, safe to show callers
	Details map[string]any // Extra fields rendered next to code and message
	Cause   error          // Wrapped underlying error, never rendered
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails creates a domain error carrying extra response fields.
func WithDetails(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// Internal wraps a storage or infrastructure failure.
func Internal(message string, cause error) *Error {
	return Wrap(CodeInternal, message, cause)
}

// Sentinels for errors.Is comparisons by code.
var (
	ErrUnauthorized        = New(CodeUnauthorized, "authentication required")
	ErrInvalidToken        = New(CodeInvalidToken, "invalid or expired token")
	ErrForbidden           = New(CodeForbidden, "forbidden")
	ErrLicenseRequired     = New(CodeLicenseRequired, "an active license is required for this product")
	ErrPlanUpgradeRequired = New(CodePlanUpgradeRequired, "plan upgrade required")
	ErrQuotaExceeded       = New(CodeQuotaExceeded, "quota exceeded")
	ErrInvalidPlan         = New(CodeInvalidPlan, "invalid plan")
	ErrTenantRequired      = New(CodeTenantRequired, "tenant id is required")
	ErrPreconditionFailed  = New(CodePreconditionFailed, "precondition failed")
	ErrNotFound            = New(CodeNotFound, "not found")
	ErrConflict            = New(CodeConflict, "conflict")
	ErrUserNotFound        = New(CodeUserNotFound, "user not found")
)

// CodeOf extracts the code from err, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// As returns the *Error in err's chain, or an INTERNAL error wrapping err.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error", err)
}
