package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/ratelimit"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
)

// Components are the collaborators the preset chains are built from.
type Components struct {
	Limiter  *ratelimit.Limiter
	Tokens   TokenValidator
	Sessions session.Checker
	// TokenCookie names the cookie carrying the access token.
	TokenCookie string
	// AllowBearer also reads "Authorization: Bearer" when the cookie is absent.
	AllowBearer bool
	FailOpen    bool
	// TrustedNetworks restricts the trusted-header path.
	TrustedNetworks []string
	Logger          *logrus.Logger
}

// InternalServiceChains rate-limits every endpoint and checks token and
// session on protected ones.
func InternalServiceChains(c Components) Chains {
	sessions := c.Sessions
	if sessions == nil {
		sessions = session.NoopValidator{}
	}
	rl := NewRateLimitStage(c.Limiter)
	return Chains{
		models.SecurityPublic: {rl},
		models.SecurityTokenProtected: {
			rl,
			NewTokenStage(c.Tokens, c.TokenCookie, c.AllowBearer, c.Logger),
			NewSessionStage(sessions, c.FailOpen, c.Logger),
		},
	}
}

// EdgeGatewayChains only logs; authorization is left to the services behind
// the gateway.
func EdgeGatewayChains(logger *logrus.Logger) Chains {
	log := NewLogStage(logger)
	return Chains{
		models.SecurityPublic:         {log},
		models.SecurityTokenProtected: {log},
	}
}

// TrustedInternalChains rate-limits every endpoint and takes the identity of
// protected calls from upstream headers.
func TrustedInternalChains(c Components) (Chains, error) {
	networks, err := ParseNetworks(c.TrustedNetworks)
	if err != nil {
		return nil, err
	}
	rl := NewRateLimitStage(c.Limiter)
	return Chains{
		models.SecurityPublic:         {rl},
		models.SecurityTokenProtected: {rl, NewTrustedHeaderStage(networks)},
	}, nil
}
