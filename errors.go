package consent

import (
	"fmt"
	"net/http"
)

// Error codes returned on the JSON API and carried by *Error.
const (
	// ErrorCodeInvalidRequest means required OAuth parameters are missing
	// or malformed.
	ErrorCodeInvalidRequest = "invalid_request"

	// ErrorCodeUnauthorized means no usable session accompanied the request.
	ErrorCodeUnauthorized = "unauthorized"

	// ErrorCodeClientLookupFailed means client metadata could not be
	// fetched from the backend.
	ErrorCodeClientLookupFailed = "client_lookup_failed"

	// ErrorCodeAuthorizationFailed means an approve/deny submission was
	// rejected by the backend or never reached it.
	ErrorCodeAuthorizationFailed = "authorization_request_failed"

	// ErrorCodeRateLimitExceeded means the user submitted decisions too
	// quickly.
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"

	// ErrorCodeServerError covers everything else.
	ErrorCodeServerError = "server_error"
)

// Error is a consent API error with a machine-readable code, a human-readable
// description safe to show users, and the HTTP status it maps to.
type Error struct {
	// Code is the stable error code
	Code string

	// Description is the user-facing detail
	Description string

	// Status is the HTTP status code
	Status int
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// ErrorResponse is the JSON wire form of an Error, following the OAuth 2.0
// error response shape.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// NewInvalidRequestError creates an invalid_request error.
func NewInvalidRequestError(description string) *Error {
	return &Error{
		Code:        ErrorCodeInvalidRequest,
		Description: description,
		Status:      http.StatusBadRequest,
	}
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(description string) *Error {
	return &Error{
		Code:        ErrorCodeUnauthorized,
		Description: description,
		Status:      http.StatusUnauthorized,
	}
}

// NewClientLookupError creates a client_lookup_failed error.
func NewClientLookupError(description string) *Error {
	return &Error{
		Code:        ErrorCodeClientLookupFailed,
		Description: description,
		Status:      http.StatusBadGateway,
	}
}

// NewAuthorizationFailedError creates an authorization_request_failed error.
func NewAuthorizationFailedError(description string) *Error {
	return &Error{
		Code:        ErrorCodeAuthorizationFailed,
		Description: description,
		Status:      http.StatusBadGateway,
	}
}

// NewRateLimitError creates a rate_limit_exceeded error.
func NewRateLimitError() *Error {
	return &Error{
		Code:        ErrorCodeRateLimitExceeded,
		Description: "too many requests, please try again later",
		Status:      http.StatusTooManyRequests,
	}
}

// NewServerError creates a server_error.
func NewServerError(description string) *Error {
	return &Error{
		Code:        ErrorCodeServerError,
		Description: description,
		Status:      http.StatusInternalServerError,
	}
}
