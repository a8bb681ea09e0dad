package pipeline

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/constants"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/ratelimit"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/token"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/pkg/logger"
)

// TokenValidator is the stateless half of request validation.
type TokenValidator interface {
	ValidateStateless(token string) (*models.TokenClaims, error)
}

// RateLimitStage charges one token from the bucket of the resolved endpoint.
// Endpoints without a rate limit pass through.
type RateLimitStage struct {
	limiter *ratelimit.Limiter
}

// NewRateLimitStage creates a stage backed by limiter.
func NewRateLimitStage(limiter *ratelimit.Limiter) *RateLimitStage {
	return &RateLimitStage{limiter: limiter}
}

// Apply consumes a token or halts with RATE_LIMITED.
func (s *RateLimitStage) Apply(r *http.Request, sc *models.SecurityContext) Outcome {
	ep := sc.EndpointConfig
	if !ep.HasRateLimit() {
		sc.Advance(models.StateRateChecked)
		return Continue
	}

	d := s.limiter.Allow(ep.RateLimitKey(r.Method), *ep.RateLimitCapacity, ep.RateLimitWindow())
	sc.RateLimit = models.RateLimitStatus{
		Applied:   true,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt,
	}
	if !d.Allowed {
		return halt(sc, models.StateRateLimited, models.ErrRateLimitExceeded)
	}

	sc.Advance(models.StateRateChecked)
	return Continue
}

// TokenStage extracts the token from the configured cookie, or from the
// Authorization header when allowed, and validates it without I/O.
type TokenStage struct {
	validator   TokenValidator
	cookieName  string
	allowBearer bool
	logger      *logrus.Logger
}

// NewTokenStage creates a token stage.
func NewTokenStage(validator TokenValidator, cookieName string, allowBearer bool, logger *logrus.Logger) *TokenStage {
	return &TokenStage{
		validator:   validator,
		cookieName:  cookieName,
		allowBearer: allowBearer,
		logger:      logger,
	}
}

// Apply populates the identity or halts with UNAUTHENTICATED.
func (s *TokenStage) Apply(r *http.Request, sc *models.SecurityContext) Outcome {
	raw := s.extract(r)
	if raw == "" {
		return halt(sc, models.StateUnauthenticated, models.ErrMissingToken)
	}

	claims, err := s.validator.ValidateStateless(raw)
	if err != nil {
		logger.WithCorrelationID(r.Context(), s.logger).WithFields(logrus.Fields{
			"token": token.Mask(raw),
			"path":  r.URL.Path,
		}).WithError(err).Debug("Token rejected")
		return halt(sc, models.StateUnauthenticated, err)
	}

	sc.SetIdentity(claims)
	sc.Advance(models.StateStatelessChecked)
	return Continue
}

func (s *TokenStage) extract(r *http.Request) string {
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if !s.allowBearer {
		return ""
	}
	h := r.Header.Get(constants.HeaderAuthorization)
	if len(h) > len(constants.BearerPrefix) && strings.EqualFold(h[:len(constants.BearerPrefix)], constants.BearerPrefix) {
		return strings.TrimSpace(h[len(constants.BearerPrefix):])
	}
	return ""
}

// SessionStage checks that the session behind the token is still live.
// Identity set by earlier stages is kept on failure.
type SessionStage struct {
	checker  session.Checker
	failOpen bool
	logger   *logrus.Logger
}

// NewSessionStage creates a session stage. With failOpen set, an unreachable
// session store admits the request instead of answering UNAVAILABLE.
func NewSessionStage(checker session.Checker, failOpen bool, logger *logrus.Logger) *SessionStage {
	return &SessionStage{checker: checker, failOpen: failOpen, logger: logger}
}

// Apply halts with UNAUTHENTICATED, FORBIDDEN or UNAVAILABLE on failure.
func (s *SessionStage) Apply(r *http.Request, sc *models.SecurityContext) Outcome {
	if !s.checker.IsEnabled() {
		sc.Advance(models.StateStatefulChecked)
		return Continue
	}

	_, err := s.checker.ValidateSession(r.Context(), sc.AuthID)
	switch {
	case err == nil:
		sc.Advance(models.StateStatefulChecked)
		return Continue
	case errors.Is(err, models.ErrSessionNotFound):
		return halt(sc, models.StateUnauthenticated, err)
	case errors.Is(err, models.ErrSessionRevoked):
		return halt(sc, models.StateForbidden, err)
	}

	entry := logger.WithCorrelationID(r.Context(), s.logger).WithFields(logrus.Fields{
		"user_id": sc.UserID,
		"path":    r.URL.Path,
	}).WithError(err)
	if s.failOpen {
		entry.Warn("Session store unavailable, admitting request (fail-open)")
		sc.Advance(models.StateStatefulChecked)
		return Continue
	}
	entry.Warn("Session store unavailable, rejecting request")
	if !errors.Is(err, models.ErrUpstreamUnavailable) {
		err = fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}
	return halt(sc, models.StateUnavailable, err)
}

// TrustedHeaderStage takes the identity from headers set by an upstream
// service that already authenticated the caller. It replaces token and
// session checks and is only as strong as the network boundary: use it
// behind a private network, restricted to trusted CIDRs.
type TrustedHeaderStage struct {
	networks []*net.IPNet
}

// NewTrustedHeaderStage creates a stage accepting identity headers from
// clients inside networks. An empty list accepts any client.
func NewTrustedHeaderStage(networks []*net.IPNet) *TrustedHeaderStage {
	return &TrustedHeaderStage{networks: networks}
}

// ParseNetworks parses CIDR strings.
func ParseNetworks(cidrs []string) ([]*net.IPNet, error) {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid trusted network %q: %w", models.ErrConfiguration, cidr, err)
		}
		networks = append(networks, n)
	}
	return networks, nil
}

// Apply populates the identity or halts with UNAUTHENTICATED.
func (s *TrustedHeaderStage) Apply(r *http.Request, sc *models.SecurityContext) Outcome {
	if !s.trusted(sc.ClientIP) {
		return halt(sc, models.StateUnauthenticated,
			fmt.Errorf("%w: identity headers from untrusted address %s", models.ErrMissingToken, sc.ClientIP))
	}

	userID := strings.TrimSpace(r.Header.Get(constants.HeaderUserID))
	if userID == "" {
		return halt(sc, models.StateUnauthenticated, models.ErrMissingToken)
	}

	sc.UserID = userID
	sc.UserEmail = strings.TrimSpace(r.Header.Get(constants.HeaderUserEmail))
	sc.AuthID = strings.TrimSpace(r.Header.Get(constants.HeaderAuthID))
	sc.Roles = splitRoles(r.Header.Get(constants.HeaderUserRoles))
	sc.AuthSource = models.AuthSourceTrustedHeader
	return Continue
}

func (s *TrustedHeaderStage) trusted(clientIP string) bool {
	if len(s.networks) == 0 {
		return true
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	for _, n := range s.networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func splitRoles(header string) []string {
	var roles []string
	for _, role := range strings.Split(header, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

// LogStage logs the resolved policy and always continues.
type LogStage struct {
	logger *logrus.Logger
}

// NewLogStage creates a log stage.
func NewLogStage(logger *logrus.Logger) *LogStage {
	return &LogStage{logger: logger}
}

// Apply logs at debug level.
func (s *LogStage) Apply(r *http.Request, sc *models.SecurityContext) Outcome {
	logger.WithCorrelationID(r.Context(), s.logger).WithFields(logrus.Fields{
		"method":        r.Method,
		"path":          r.URL.Path,
		"security_type": sc.EndpointConfig.SecurityType,
		"client_ip":     sc.ClientIP,
	}).Debug("Request passed through gateway")
	return Continue
}
