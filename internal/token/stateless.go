package token

import (
	"fmt"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// StatelessValidator checks a presented token using key material only. It
// performs no I/O and is safe for concurrent use.
type StatelessValidator struct {
	codec *Codec
}

// NewStatelessValidator creates a validator backed by codec.
func NewStatelessValidator(codec *Codec) *StatelessValidator {
	return &StatelessValidator{codec: codec}
}

// ValidateStateless decrypts and verifies token and returns its claims. Only
// access tokens are accepted; a refresh token yields ErrWrongTokenType.
func (v *StatelessValidator) ValidateStateless(token string) (*models.TokenClaims, error) {
	claims, err := v.codec.Parse(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != models.TokenTypeAccess {
		return nil, fmt.Errorf("%w: %s token presented as access token", models.ErrWrongTokenType, claims.TokenType)
	}
	return claims, nil
}
