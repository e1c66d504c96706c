// Package common holds the error taxonomy shared by the API server and the
// dashboard client. Both sides compare against these sentinels with errors.Is.
package common

import (
	"errors"
	"fmt"
)

var (
	// input errors, never retried
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// auth errors
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidToken      = errors.New("invalid token")
	ErrForbidden         = errors.New("forbidden")

	// ErrInvalidCredentials is a failed username/password login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrNotFound = errors.New("not found")

	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrTransport marks a failure to reach the API at all. It is the only
	// class of error the client retries.
	ErrTransport = errors.New("transport failure")

	ErrInternal = errors.New("internal error")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsAuthError reports whether err is one of the credential errors that
// force the client to re-authenticate.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrInvalidToken)
}

// Machine-readable codes carried in API error bodies.
const (
	CodeValidation        = "validation_error"
	CodeConflict          = "conflict"
	CodeMissingCredential = "missing_credential"
	CodeInvalidToken      = "invalid_token"
	CodeForbidden         = "forbidden"
	CodeBadCredentials    = "invalid_credentials"
	CodeNotFound          = "not_found"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

var codeErrors = map[string]error{
	CodeValidation:        ErrValidation,
	CodeConflict:          ErrConflict,
	CodeMissingCredential: ErrMissingCredential,
	CodeInvalidToken:      ErrInvalidToken,
	CodeForbidden:         ErrForbidden,
	CodeBadCredentials:    ErrInvalidCredentials,
	CodeNotFound:          ErrNotFound,
	CodeRateLimited:       ErrRateLimited,
}

// Code returns the wire code for err.
func Code(err error) string {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// FromCode maps a wire code back onto its sentinel. Unknown codes map to
// ErrInternal.
func FromCode(code string) error {
	if err, ok := codeErrors[code]; ok {
		return err
	}
	return ErrInternal
}
