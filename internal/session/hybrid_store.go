package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// HybridStore reads sessions through a Redis cache in front of a primary
// database store, following the cache-aside pattern:
//   - Lookups: check the cache first; on a miss read the primary and populate the cache
//   - Writes: write the primary first (source of truth), then refresh or drop the cache entry
//   - Graceful degradation: with no primary configured, Redis alone serves
//
// Cached entries live at most cacheTTL, which bounds how long a revocation
// made directly in the primary can go unseen.
//
// Thread-safe for concurrent operations.
type HybridStore struct {
	primary  WritableStore // PostgreSQL store (source of truth), may be nil
	cache    *RedisStore   // Redis cache layer
	cacheTTL time.Duration
	logger   *logrus.Logger

	// State tracking for graceful degradation
	primaryAvailable bool
	mu               sync.RWMutex
}

// NewHybridStore creates a hybrid store. primary may be nil when no
// database is configured.
func NewHybridStore(primary WritableStore, cache *RedisStore, cacheTTL time.Duration, logger *logrus.Logger) *HybridStore {
	return &HybridStore{
		primary:          primary,
		cache:            cache,
		cacheTTL:         cacheTTL,
		logger:           logger,
		primaryAvailable: primary != nil,
	}
}

// Lookup reads from the cache, falling back to the primary on a miss. A
// primary failure is returned as-is so the validator can fail closed.
func (h *HybridStore) Lookup(ctx context.Context, authID string) (*models.Session, error) {
	session, err := h.cache.Lookup(ctx, authID)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", maskID(authID)).Debug("Redis error during session lookup")
	}
	if session != nil {
		return session, nil
	}

	if h.primary == nil {
		if err != nil {
			return nil, err
		}
		return nil, nil
	}

	// The primary is tried even when previously marked unavailable to allow recovery.
	session, err = h.primary.Lookup(ctx, authID)
	if err != nil {
		if isConnectionError(err) {
			h.logger.WithError(err).WithField("session_id", maskID(authID)).Warn("Primary session store unavailable during lookup")
			h.setPrimaryAvailable(false)
		}
		return nil, err
	}
	h.setPrimaryAvailable(true)

	if session == nil {
		return nil, nil
	}

	if cacheErr := h.cache.SaveWithTTL(ctx, session, h.cacheTTL); cacheErr != nil {
		h.logger.WithError(cacheErr).WithField("session_id", maskID(authID)).Debug("Failed to populate session cache")
	}
	return session, nil
}

// Save writes the primary, then the cache. Without a primary the session
// lives in Redis for its full lifetime.
func (h *HybridStore) Save(ctx context.Context, session *models.Session) error {
	if h.primary == nil || !h.isPrimaryAvailable() {
		h.logger.Info("Using Redis-only mode for session save (primary unavailable)")
		return h.cache.Save(ctx, session)
	}

	if err := h.primary.Save(ctx, session); err != nil {
		if isConnectionError(err) {
			h.setPrimaryAvailable(false)
		}
		return err
	}

	if cacheErr := h.cache.SaveWithTTL(ctx, session, h.cacheTTL); cacheErr != nil {
		h.logger.WithError(cacheErr).Warn("Failed to cache session after primary save")
	}
	return nil
}

// Revoke revokes in the primary and the cache. A session missing from one
// side is only an error when it is missing from both.
func (h *HybridStore) Revoke(ctx context.Context, authID string, at time.Time) error {
	cacheErr := h.cache.Revoke(ctx, authID, at)
	if h.primary == nil {
		return cacheErr
	}

	primaryErr := h.primary.Revoke(ctx, authID, at)
	switch {
	case primaryErr == nil:
		return nil
	case cacheErr == nil && isNotFound(primaryErr):
		return nil
	default:
		return primaryErr
	}
}

// RevokeAllForUser revokes in the primary and the cache and reports the
// larger of the two counts.
func (h *HybridStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	cached, cacheErr := h.cache.RevokeAllForUser(ctx, userID, at)
	if h.primary == nil {
		return cached, cacheErr
	}
	if cacheErr != nil {
		h.logger.WithError(cacheErr).WithField("user_id", userID).Warn("Failed to revoke cached user sessions")
	}

	stored, err := h.primary.RevokeAllForUser(ctx, userID, at)
	if err != nil {
		return cached, err
	}
	return max(stored, cached), nil
}

// Ping reports the primary's health when configured, otherwise the cache's.
func (h *HybridStore) Ping(ctx context.Context) error {
	if err := h.cache.Ping(ctx); err != nil && h.primary == nil {
		return err
	}
	if h.primary == nil {
		return nil
	}
	if err := h.primary.Ping(ctx); err != nil {
		return fmt.Errorf("primary session store: %w", err)
	}
	return nil
}

// PrimaryAvailable reports the last observed availability of the primary.
func (h *HybridStore) PrimaryAvailable() bool {
	return h.isPrimaryAvailable()
}

func (h *HybridStore) isPrimaryAvailable() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.primaryAvailable
}

func (h *HybridStore) setPrimaryAvailable(available bool) {
	h.mu.Lock()
	changed := h.primaryAvailable != available
	h.primaryAvailable = available
	h.mu.Unlock()

	if changed && available {
		h.logger.Info("Primary session store restored")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrSessionNotFound)
}

// isConnectionError checks whether err means the database could not be reached.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, errDatabaseUnavailable.Error()) ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "context deadline exceeded")
}
