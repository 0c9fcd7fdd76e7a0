package auth

import (
	"errors"
	"fmt"
)

// Error kinds. AuthError and HealthError match these with errors.Is.
var (
	ErrUnreachable       = errors.New("unreachable")
	ErrServerError       = errors.New("server error")
	ErrMalformedResponse = errors.New("malformed response")
)

// Sentinel errors for session operations.
var (
	ErrAuthInProgress       = errors.New("authentication already in progress")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrMissingCredentials   = errors.New("email and password are required")
	ErrEmptyToken           = errors.New("token is empty")
)

// StoreError reports that the token store could not be read or written.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("token store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// AuthError reports a failed authentication attempt. Kind is one of
// ErrUnreachable, ErrServerError or ErrMalformedResponse; Code is the HTTP
// status for ErrServerError.
type AuthError struct {
	Kind error
	Code int
	Err  error
}

func (e *AuthError) Error() string {
	return describe("authentication failed", e.Kind, e.Code, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	return target == e.Kind
}

// HealthError reports a failed health check. Kind is ErrUnreachable or
// ErrServerError.
type HealthError struct {
	Kind error
	Code int
	Err  error
}

func (e *HealthError) Error() string {
	return describe("health check failed", e.Kind, e.Code, e.Err)
}

func (e *HealthError) Unwrap() error {
	return e.Err
}

func (e *HealthError) Is(target error) bool {
	return target == e.Kind
}

func describe(prefix string, kind error, code int, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("%s: %v: %v", prefix, kind, err)
	case kind == ErrServerError:
		return fmt.Sprintf("%s: %v (%d)", prefix, kind, code)
	default:
		return fmt.Sprintf("%s: %v", prefix, kind)
	}
}
