package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors of the pipeline. Components wrap them with %w and the
// dispatcher classifies them with errors.Is.
var (
	// ErrConfiguration is fatal at startup: missing or unparseable keys or settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrRateLimitExceeded rejects the request before any other check.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrMissingToken means a protected endpoint was called without a token.
	ErrMissingToken = errors.New("missing token")
	// ErrSignature covers malformed, tampered and undecryptable tokens.
	ErrSignature = errors.New("invalid token signature")
	// ErrTokenExpired is a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrWrongTokenType is a valid token of the wrong type, such as a refresh token.
	ErrWrongTokenType = errors.New("wrong token type")
	// ErrSessionNotFound means no session exists, or it has expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked means the session exists but was explicitly invalidated.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrUpstreamUnavailable means a session or config store did not answer in time.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// AuthError is the error response written when the pipeline rejects a request.
// It implements the error interface.
type AuthError struct {
	// Code is a stable machine-readable error code.
	Code string `json:"error"`
	// Description provides additional human-readable error information.
	Description string `json:"error_description,omitempty"`
	// RequestID correlates the response with server logs.
	RequestID string `json:"request_id,omitempty"`
	// StatusCode is the HTTP status code to return (excluded from JSON).
	StatusCode int `json:"-"`
}

// Error returns a string representation of the error.
func (e *AuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// WithRequestID sets the request ID and returns the same instance for chaining.
func (e *AuthError) WithRequestID(id string) *AuthError {
	e.RequestID = id
	return e
}

// ErrorForState maps a terminal failure state and its cause to the response
// the client receives. Expired tokens get their own code so clients know to
// refresh rather than re-authenticate.
func ErrorForState(state PipelineState, cause error) *AuthError {
	switch state {
	case StateRateLimited:
		return &AuthError{
			Code:        "rate_limited",
			Description: "Too many requests",
			StatusCode:  http.StatusTooManyRequests,
		}
	case StateUnauthenticated:
		return unauthenticated(cause)
	case StateForbidden:
		return &AuthError{
			Code:        "session_revoked",
			Description: "Session has been revoked",
			StatusCode:  http.StatusForbidden,
		}
	case StateUnavailable:
		return &AuthError{
			Code:        "temporarily_unavailable",
			Description: "Authorization backend unavailable",
			StatusCode:  http.StatusServiceUnavailable,
		}
	default:
		return &AuthError{
			Code:        "server_error",
			Description: "Unexpected authorization state",
			StatusCode:  http.StatusInternalServerError,
		}
	}
}

func unauthenticated(cause error) *AuthError {
	e := &AuthError{Code: "invalid_token", Description: "Token is invalid", StatusCode: http.StatusUnauthorized}
	switch {
	case errors.Is(cause, ErrMissingToken):
		e.Code, e.Description = "missing_token", "Authentication required"
	case errors.Is(cause, ErrTokenExpired):
		e.Code, e.Description = "token_expired", "Token has expired"
	case errors.Is(cause, ErrSessionNotFound):
		e.Code, e.Description = "session_not_found", "Session not found or expired"
	}
	return e
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error returns "field: message".
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects field validation errors. It implements the error interface.
type ValidationErrors []ValidationError

// Error returns a summary of the validation errors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("validation failed with %d errors", len(e))
}

// HasErrors returns true if there are one or more validation errors in the collection.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks an endpoint entry for the fields the resolver relies on.
func (e EndpointConfig) Validate() ValidationErrors {
	var errs ValidationErrors
	if e.PathPattern == "" || e.PathPattern[0] != '/' {
		errs = append(errs, ValidationError{Field: "path_pattern", Message: "must start with /"})
	}
	if e.HTTPMethod == "" {
		errs = append(errs, ValidationError{Field: "http_method", Message: "is required"})
	}
	if _, ok := ParseSecurityType(string(e.SecurityType)); !ok {
		errs = append(errs, ValidationError{Field: "security_type", Message: "must be PUBLIC or TOKEN_PROTECTED"})
	}
	if (e.RateLimitCapacity == nil) != (e.RateLimitWindowSeconds == nil) {
		errs = append(errs, ValidationError{Field: "rate_limit", Message: "capacity and window must be set together"})
	}
	if e.RateLimitCapacity != nil && *e.RateLimitCapacity < 0 {
		errs = append(errs, ValidationError{Field: "rate_limit_capacity", Message: "must not be negative"})
	}
	if e.RateLimitWindowSeconds != nil && *e.RateLimitWindowSeconds < 0 {
		errs = append(errs, ValidationError{Field: "rate_limit_window_seconds", Message: "must not be negative"})
	}
	return errs
}
