package errors

import (
	"errors"
	"fmt"
)

// Common error types for the developer console client
var (
	// Account state reported by the login endpoint
	ErrEmailNotVerified  = errors.New("email not verified")
	ErrAccountBlocked    = errors.New("account blocked")
	ErrAccountLocked     = errors.New("account locked")
	ErrPolicyNotAccepted = errors.New("policy not accepted")

	// Credential errors
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNoRefreshToken      = errors.New("no refresh token stored")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// Token store errors
	ErrSealedStore   = errors.New("token store is sealed")
	ErrUnknownStore  = errors.New("unknown token store")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
