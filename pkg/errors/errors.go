package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness. Code is the
// stable machine-readable identifier clients branch on; Message is for
// humans and may change freely.
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

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Authentication failures are always 401 and never reveal whether the
// account exists. Authorization failures are 403 and recorded as security
// events by the caller.
var (
	ErrNoToken             = New("no_token", http.StatusUnauthorized, "authorization token required")
	ErrInvalidTokenFormat  = New("invalid_token_format", http.StatusUnauthorized, "malformed authorization token")
	ErrTokenExpired        = New("token_expired", http.StatusUnauthorized, "token is expired or revoked")
	ErrInvalidCredentials  = New("invalid_credentials", http.StatusUnauthorized, "invalid email or password")
	ErrInvalidRefreshToken = New("invalid_refresh_token", http.StatusUnauthorized, "refresh token is invalid, revoked or expired")
	ErrSecurityViolation   = New("security_violation", http.StatusUnauthorized, "credential misuse detected, re-authentication required")
	ErrSessionMismatch     = New("session_mismatch", http.StatusUnauthorized, "session does not match this device")
	ErrAccountDisabled     = New("account_disabled", http.StatusForbidden, "account is disabled")
	ErrInsufficientRole    = New("insufficient_permissions", http.StatusForbidden, "insufficient permissions")
	ErrSelfModification    = New("self_modification_forbidden", http.StatusForbidden, "cannot change your own role")
	ErrNotFound            = New("not_found", http.StatusNotFound, "resource not found")
	ErrConflict            = New("conflict", http.StatusConflict, "conflict")
	ErrValidation          = New("validation_error", http.StatusBadRequest, "validation failed")
	ErrInternal            = New("internal_error", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss           = New("cache_miss", http.StatusNotFound, "cache miss")
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

// HasCode reports whether err carries the given machine-readable code.
func HasCode(err error, code string) bool {
	e := FromError(err)
	return e != nil && e.Code == code
}
