package models

import "time"

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	// TokenTypeAccess authorizes requests.
	TokenTypeAccess TokenType = "ACCESS"
	// TokenTypeRefresh may only be exchanged for new access tokens.
	TokenTypeRefresh TokenType = "REFRESH"
)

// TokenClaims is the identity carried by a token. Claims are produced by the
// codec at issuance and never mutated by the validators.
type TokenClaims struct {
	// AuthID is the session identifier joining the token to its session record.
	AuthID string `json:"auth_id"`
	// UserID is the authenticated user.
	UserID string `json:"user_id"`
	// Email is the authenticated user's email.
	Email string `json:"email"`
	// Roles keeps issuance order and is not deduplicated.
	Roles []string `json:"roles"`
	// TokenType is ACCESS or REFRESH.
	TokenType TokenType `json:"token_type"`
	// IssuedAt is the issuance time.
	IssuedAt time.Time `json:"issued_at"`
	// ExpiresAt is the expiry time.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the claims are at or past their expiry at now.
func (c *TokenClaims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
