package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/metrics"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// Checker is the stateful half of request validation.
type Checker interface {
	// ValidateSession returns the session snapshot for authID, or one of
	// models.ErrSessionNotFound, models.ErrSessionRevoked or
	// models.ErrUpstreamUnavailable.
	ValidateSession(ctx context.Context, authID string) (*models.SessionInfo, error)

	// IsEnabled reports whether the checker consults a store at all.
	IsEnabled() bool
}

// Classify maps a session record to its validity at now. Expiry is checked
// before revocation: an expired session no longer exists at this layer.
func Classify(s *models.Session, now time.Time) (*models.SessionInfo, error) {
	if s == nil {
		return nil, models.ErrSessionNotFound
	}
	if !s.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expired at %s", models.ErrSessionNotFound, s.ExpiresAt.Format(time.RFC3339))
	}
	if s.LogoutAt != nil || !s.IsActive {
		return nil, models.ErrSessionRevoked
	}
	return s.Info(), nil
}

// Validator checks sessions against a Store with one bounded lookup per call.
type Validator struct {
	store   Store
	timeout time.Duration
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewValidator creates a validator whose lookups are bounded by timeout.
func NewValidator(store Store, timeout time.Duration, logger *logrus.Logger, m *metrics.Metrics) *Validator {
	return &Validator{
		store:   store,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// IsEnabled returns true.
func (v *Validator) IsEnabled() bool {
	return true
}

// ValidateSession looks the session up and classifies it. A store error or
// timeout is reported as models.ErrUpstreamUnavailable, never as valid.
func (v *Validator) ValidateSession(ctx context.Context, authID string) (*models.SessionInfo, error) {
	if authID == "" {
		v.metrics.ObserveSessionLookup("not_found", 0)
		return nil, fmt.Errorf("%w: token carries no session id", models.ErrSessionNotFound)
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	start := time.Now()
	s, err := v.store.Lookup(ctx, authID)
	elapsed := time.Since(start)
	if err != nil {
		v.metrics.ObserveSessionLookup("unavailable", elapsed)
		v.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": maskID(authID),
			"elapsed":    elapsed.String(),
		}).Warn("Session store lookup failed")
		return nil, fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}

	info, err := Classify(s, v.now())
	switch {
	case err == nil:
		v.metrics.ObserveSessionLookup("valid", elapsed)
	case errors.Is(err, models.ErrSessionRevoked):
		v.metrics.ObserveSessionLookup("revoked", elapsed)
	default:
		v.metrics.ObserveSessionLookup("not_found", elapsed)
	}
	return info, err
}

// NoopValidator skips stateful enforcement for call sites whose caller has
// already authenticated upstream.
type NoopValidator struct{}

// IsEnabled returns false.
func (NoopValidator) IsEnabled() bool {
	return false
}

// ValidateSession always succeeds with an empty snapshot.
func (NoopValidator) ValidateSession(_ context.Context, _ string) (*models.SessionInfo, error) {
	return &models.SessionInfo{}, nil
}
