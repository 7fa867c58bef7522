// Package auth implements request authentication for telemetry ingestion:
// credential extraction, a bounded-TTL verification cache, and fail-closed
// key store lookups.
package auth

import (
	"errors"
	"fmt"
)

// Rejection reasons carried by UnauthorizedError. The reason is exposed to
// operators via logs and metrics; the client-facing message stays the same
// for every lookup failure.
const (
	ReasonMissing   = "missing"
	ReasonMalformed = "malformed"
	ReasonInvalid   = "invalid_or_inactive"
)

// UnauthorizedError indicates that a request could not be authenticated.
// The message deliberately does not reveal whether a key was unknown or
// revoked.
type UnauthorizedError struct {
	// Reason is the internal rejection reason.
	Reason string
}

// Error implements the error interface.
func (e *UnauthorizedError) Error() string {
	switch e.Reason {
	case ReasonMissing:
		return "unauthorized: missing API key"
	case ReasonMalformed:
		return "unauthorized: malformed API key"
	default:
		return "unauthorized: invalid or inactive API key"
	}
}

// NewUnauthorizedError creates an UnauthorizedError with the given reason.
func NewUnauthorizedError(reason string) *UnauthorizedError {
	return &UnauthorizedError{Reason: reason}
}

// IsUnauthorized reports whether err is an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}

// internalError wraps a key store failure surfaced during authentication.
type internalError struct {
	err error
}

func (e *internalError) Error() string {
	return fmt.Sprintf("authentication store failure: %v", e.err)
}

func (e *internalError) Unwrap() error {
	return e.err
}
