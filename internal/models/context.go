package models

import (
	"strings"
	"time"
)

// PipelineState is a state of the authorization pipeline. Terminal states end
// the pipeline; only AUTHORIZED reaches business logic.
type PipelineState string

const (
	StateStart            PipelineState = "START"
	StateRateChecked      PipelineState = "RATE_CHECKED"
	StateStatelessChecked PipelineState = "STATELESS_CHECKED"
	StateStatefulChecked  PipelineState = "STATEFUL_CHECKED"
	StateAuthorized       PipelineState = "AUTHORIZED"
	StateRateLimited      PipelineState = "RATE_LIMITED"
	StateUnauthenticated  PipelineState = "UNAUTHENTICATED"
	StateForbidden        PipelineState = "FORBIDDEN"
	// StateUnavailable is the fail-closed outcome when an upstream store cannot answer.
	StateUnavailable PipelineState = "UNAVAILABLE"
)

// IsTerminal reports whether the pipeline stops in this state.
func (s PipelineState) IsTerminal() bool {
	switch s {
	case StateAuthorized, StateRateLimited, StateUnauthenticated, StateForbidden, StateUnavailable:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the state rejects the request.
func (s PipelineState) IsFailure() bool {
	return s.IsTerminal() && s != StateAuthorized
}

// AuthSource records where the identity in a SecurityContext came from.
type AuthSource string

const (
	AuthSourceNone  AuthSource = "none"
	AuthSourceToken AuthSource = "token"
	// AuthSourceTrustedHeader is the lower-assurance internal path.
	AuthSourceTrustedHeader AuthSource = "trusted_header"
)

// SecurityContext is the request-scoped result of the pipeline. It is owned by
// exactly one request and passed explicitly; it must never be kept in shared
// state after the request ends.
type SecurityContext struct {
	RequestID      string
	ClientIP       string
	EndpointConfig EndpointConfig
	AuthID         string
	UserID         string
	UserEmail      string
	Roles          []string
	AuthSource     AuthSource
	// RateLimit is the bucket state after this request's consumption.
	RateLimit RateLimitStatus
	// State is the current pipeline state; terminal once the pipeline stops.
	State PipelineState
	// Cause is the error behind a failure state, nil otherwise.
	Cause error
}

// RateLimitStatus reports the bucket an endpoint policy charged. Applied is
// false when the policy carries no rate limit.
type RateLimitStatus struct {
	Applied   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// NewSecurityContext creates a context in the START state.
func NewSecurityContext(requestID, clientIP string) *SecurityContext {
	return &SecurityContext{
		RequestID:  requestID,
		ClientIP:   clientIP,
		AuthSource: AuthSourceNone,
		State:      StateStart,
	}
}

// TerminalStatus returns the state if terminal, or an empty string.
func (c *SecurityContext) TerminalStatus() PipelineState {
	if c.State.IsTerminal() {
		return c.State
	}
	return ""
}

// Advance moves to a non-terminal state.
func (c *SecurityContext) Advance(state PipelineState) {
	c.State = state
}

// Fail moves to a failure state and records why.
func (c *SecurityContext) Fail(state PipelineState, cause error) {
	c.State = state
	c.Cause = cause
}

// Authorize moves to AUTHORIZED.
func (c *SecurityContext) Authorize() {
	c.State = StateAuthorized
	c.Cause = nil
}

// SetIdentity copies identity claims into the context.
func (c *SecurityContext) SetIdentity(claims *TokenClaims) {
	c.AuthID = claims.AuthID
	c.UserID = claims.UserID
	c.UserEmail = claims.Email
	c.Roles = append([]string(nil), claims.Roles...)
	c.AuthSource = AuthSourceToken
}

// Authenticated reports whether an identity is attached.
func (c *SecurityContext) Authenticated() bool {
	return c.UserID != ""
}

// HasRole reports whether the identity carries role, case-insensitively.
func (c *SecurityContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
