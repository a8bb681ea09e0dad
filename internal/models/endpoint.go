// Package models defines the core data structures of the authorization pipeline:
// endpoint security policies, token claims, sessions, the per-request security
// context and the error taxonomy. All persisted models carry JSON tags.
package models

import (
	"strconv"
	"strings"
	"time"
)

// SecurityType selects which pipeline stages apply to an endpoint.
type SecurityType string

const (
	// SecurityPublic endpoints run rate limiting only and carry no identity.
	SecurityPublic SecurityType = "PUBLIC"
	// SecurityTokenProtected endpoints require a valid token (and session).
	SecurityTokenProtected SecurityType = "TOKEN_PROTECTED"
)

// MethodAll matches every HTTP method.
const MethodAll = "ALL"

const (
	// DefaultRateLimitCapacity is the bucket capacity of the synthetic default policy.
	DefaultRateLimitCapacity = 100
	// DefaultRateLimitWindowSeconds is the refill window of the synthetic default policy.
	DefaultRateLimitWindowSeconds = 60
)

// ParseSecurityType converts a configuration value to a SecurityType.
// Unknown values yield ok=false.
func ParseSecurityType(value string) (SecurityType, bool) {
	switch SecurityType(strings.ToUpper(strings.TrimSpace(value))) {
	case SecurityPublic:
		return SecurityPublic, true
	case SecurityTokenProtected:
		return SecurityTokenProtected, true
	default:
		return "", false
	}
}

// EndpointConfig is the security policy for a path pattern and method.
type EndpointConfig struct {
	// ID is the identifier assigned by the policy store, zero for synthetic policies.
	ID int64 `json:"id"`
	// PathPattern is an Ant-style glob such as /api/orders/**.
	PathPattern string `json:"path_pattern"`
	// HTTPMethod is an exact method or ALL.
	HTTPMethod string `json:"http_method"`
	// SecurityType selects the pipeline chain.
	SecurityType SecurityType `json:"security_type"`
	// RateLimitCapacity is the bucket size, nil when the endpoint is not limited.
	RateLimitCapacity *int `json:"rate_limit_capacity,omitempty"`
	// RateLimitWindowSeconds is the refill window, nil when the endpoint is not limited.
	RateLimitWindowSeconds *int `json:"rate_limit_window_seconds,omitempty"`
	// IsActive disables the entry without removing it when false.
	IsActive bool `json:"is_active"`
	// Description is free text for administrators.
	Description string `json:"description,omitempty"`
	// Synthetic marks the fallback policy returned when nothing matches.
	Synthetic bool `json:"-"`
}

// DefaultEndpointConfig builds the fallback policy used when no entry matches.
func DefaultEndpointConfig(securityType SecurityType, capacity, windowSeconds int) EndpointConfig {
	cfg := EndpointConfig{
		PathPattern:  "/**",
		HTTPMethod:   MethodAll,
		SecurityType: securityType,
		IsActive:     true,
		Description:  "default policy",
		Synthetic:    true,
	}
	if capacity > 0 && windowSeconds > 0 {
		cfg.RateLimitCapacity = &capacity
		cfg.RateLimitWindowSeconds = &windowSeconds
	}
	return cfg
}

// MatchesMethod reports whether the entry applies to the request method.
func (e EndpointConfig) MatchesMethod(method string) bool {
	return strings.EqualFold(e.HTTPMethod, MethodAll) || strings.EqualFold(e.HTTPMethod, method)
}

// HasRateLimit reports whether both rate-limit numbers are present and positive.
func (e EndpointConfig) HasRateLimit() bool {
	return e.RateLimitCapacity != nil && e.RateLimitWindowSeconds != nil &&
		*e.RateLimitCapacity > 0 && *e.RateLimitWindowSeconds > 0
}

// RateLimitWindow returns the refill window as a duration.
func (e EndpointConfig) RateLimitWindow() time.Duration {
	if e.RateLimitWindowSeconds == nil {
		return 0
	}
	return time.Duration(*e.RateLimitWindowSeconds) * time.Second
}

// RateLimitKey identifies the bucket for a request resolved to this entry.
// Configured entries share one bucket per entry; every request that falls
// through to the synthetic default shares one bucket per method, so the
// number of buckets is bounded by the policy table.
func (e EndpointConfig) RateLimitKey(method string) string {
	if e.Synthetic {
		return "default:" + strings.ToUpper(method)
	}
	if e.ID != 0 {
		return "endpoint:" + strconv.FormatInt(e.ID, 10)
	}
	return "endpoint:" + strings.ToUpper(e.HTTPMethod) + " " + e.PathPattern
}
