package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike,
	// so login failures do not reveal which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotActivated indicates a login attempt against an account that has
	// not confirmed its email address yet.
	ErrNotActivated = errors.New("account not activated")
	// ErrActivationFailed indicates a missing user or a bad activation token.
	ErrActivationFailed = errors.New("activation failed")
	// ErrAlreadyActivated indicates the account was activated earlier; the
	// attempt is a no-op.
	ErrAlreadyActivated = errors.New("account already activated")
	// ErrInvalidToken indicates a missing user or a bad reset token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrResetExpired indicates the reset token outlived its window.
	ErrResetExpired = errors.New("password reset expired")
	// ErrEmailNotFound indicates a reset request for an unknown address.
	ErrEmailNotFound = errors.New("email not found")
	// ErrEmailTaken indicates the unique email constraint was violated.
	ErrEmailTaken = errors.New("email already taken")
	// ErrNotFound indicates the user record is missing.
	ErrNotFound = errors.New("user not found")
)

// ValidationError carries field-keyed messages for form re-rendering.
type ValidationError map[string]string

func (v ValidationError) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, v[field]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidationError unwraps err into a ValidationError if it is one.
func AsValidationError(err error) (ValidationError, bool) {
	var v ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
