// Package util provides the API error taxonomy and small HTTP helpers
// shared by the gateway's handlers.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: apikey.ErrKeyNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., auth.UnauthorizedError,
//     ratelimit.RateLimitError). Each type implements Error() and, where
//     it wraps, Unwrap().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// APIError is the single caller-visible shape: every rejected request is
// translated to one at the handler boundary.
package util

import (
	"errors"
	"net/http"

	"github.com/optiwave/telemetry-gateway/internal/apikey"
	"github.com/optiwave/telemetry-gateway/internal/auth"
	"github.com/optiwave/telemetry-gateway/internal/ratelimit"
)

// Stable machine-readable error codes.
const (
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
	CodeValidation   = "validation_failed"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeInternal     = "internal_error"
)

// APIError is the caller-visible error shape. It renders as
// {"error": message, "code": code, "details": details}.
type APIError struct {
	// Status is the HTTP status code.
	Status int `json:"-"`

	// Code is a stable machine-readable identifier.
	Code string `json:"code"`

	// Message is the human-readable description.
	Message string `json:"error"`

	// Details carries optional structured context.
	Details any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// NewValidationError creates a 400 validation error.
func NewValidationError(message string, details any) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: CodeValidation, Message: message, Details: details}
}

// NewUnauthorizedError creates a 401 error with the uninformative message.
func NewUnauthorizedError(message string) *APIError {
	return &APIError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message}
}

// NewNotFoundError creates a 404 error.
func NewNotFoundError(message string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// NewConflictError creates a 409 error.
func NewConflictError(message string) *APIError {
	return &APIError{Status: http.StatusConflict, Code: CodeConflict, Message: message}
}

// NewInternalError creates a 500 error. The underlying cause is never
// included in the response body.
func NewInternalError() *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal server error"}
}

// FromError translates any gateway error into an APIError. Unknown errors
// map to an opaque 500.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var ue *auth.UnauthorizedError
	if errors.As(err, &ue) {
		return NewUnauthorizedError(ue.Error())
	}

	var rle *ratelimit.RateLimitError
	if errors.As(err, &rle) {
		return &APIError{
			Status:  http.StatusTooManyRequests,
			Code:    CodeRateLimited,
			Message: "rate limit exceeded",
			Details: map[string]any{"retry_after_seconds": int(rle.RetryAfter.Seconds())},
		}
	}

	switch {
	case errors.Is(err, apikey.ErrKeyNotFound):
		return NewNotFoundError("api key not found")
	case errors.Is(err, apikey.ErrLabelTaken):
		return NewConflictError(err.Error())
	case errors.Is(err, apikey.ErrStoreUnavailable):
		return &APIError{
			Status:  http.StatusServiceUnavailable,
			Code:    CodeInternal,
			Message: "service temporarily unavailable",
		}
	default:
		return NewInternalError()
	}
}
