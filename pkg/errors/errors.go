package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
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

// Is matches errors by code so that clones of a predefined error compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Authentication failures share one generic message so callers cannot tell
// which check rejected them.
const unauthorizedMessage = "unauthorized"

// Predefined errors for common scenarios.
var (
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, unauthorizedMessage)
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid username or password")
	ErrTokenTheft         = New("TOKEN_THEFT_DETECTED", http.StatusUnauthorized, unauthorizedMessage)

	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrPhoneUnverified    = New("PHONE_UNVERIFIED", http.StatusForbidden, "phone number must be verified")
	ErrAccountLocked      = New("ACCOUNT_LOCKED", http.StatusForbidden, "account is locked")
	ErrTrustTooLow        = New("TRUST_TOO_LOW", http.StatusForbidden, "trust score too low")
	ErrCrossZone          = New("CROSS_ZONE", http.StatusForbidden, "cross-zone access denied")
	ErrLockdown           = New("LOCKDOWN", http.StatusForbidden, "system is in lockdown; request an emergency override to continue")
	ErrOverrideNotAllowed = New("OVERRIDE_NOT_ALLOWED", http.StatusForbidden, "role may not request emergency overrides")
	ErrRestrictedMode     = New("RESTRICTED_MODE", http.StatusServiceUnavailable, "system is in restricted mode; manual operations are suspended")
	ErrPolicyUnavailable  = New("POLICY_UNAVAILABLE", http.StatusServiceUnavailable, "access policy could not be evaluated")

	ErrOverrideActive = New("OVERRIDE_ACTIVE", http.StatusConflict, "an emergency override is already active")
	ErrRateLimited    = New("RATE_LIMITED", http.StatusTooManyRequests, "too many requests")

	ErrNotFound   = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict   = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal   = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
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
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
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
