package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

const (
	// CleanupInterval is the interval between expired item cleanup runs.
	CleanupInterval = 5 * time.Minute
)

// MemoryStore is an in-process session store for local development and
// tests. Records are dropped by a background cleanup once they are past
// their expiry plus the same retention the Redis store applies.
type MemoryStore struct {
	sessions      map[string]*expiringItem[models.Session]
	logger        *logrus.Logger
	mu            sync.RWMutex
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// expiringItem wraps data with expiration time for TTL support.
type expiringItem[T any] struct {
	Data      T
	ExpiresAt time.Time
}

// isExpired checks if the item has expired.
func (e *expiringItem[T]) isExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// NewMemoryStore creates a new in-memory store with TTL cleanup.
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	store := &MemoryStore{
		sessions:      make(map[string]*expiringItem[models.Session]),
		logger:        logger,
		cleanupTicker: time.NewTicker(CleanupInterval),
		stopCleanup:   make(chan struct{}),
	}

	go store.cleanupExpiredItems()

	logger.Info("In-memory session store initialized with TTL cleanup")
	return store
}

// cleanupExpiredItems runs periodically to remove expired items.
func (m *MemoryStore) cleanupExpiredItems() {
	defer m.cleanupTicker.Stop()

	for {
		select {
		case <-m.cleanupTicker.C:
			m.performCleanup(time.Now())
		case <-m.stopCleanup:
			return
		}
	}
}

// performCleanup removes expired sessions.
func (m *MemoryStore) performCleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for id, item := range m.sessions {
		if item.isExpired(now) {
			delete(m.sessions, id)
			expired++
		}
	}

	if expired > 0 {
		m.logger.WithField("expired_items", expired).Debug("Cleaned up expired sessions from memory store")
	}
	return expired
}

// Close stops the cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Lookup returns a copy of the stored session.
func (m *MemoryStore) Lookup(ctx context.Context, authID string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	item, exists := m.sessions[authID]
	if !exists || item.isExpired(time.Now()) {
		return nil, nil
	}
	session := item.Data
	return &session, nil
}

// Save stores a copy of the session.
func (m *MemoryStore) Save(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = &expiringItem[models.Session]{
		Data:      *session,
		ExpiresAt: session.ExpiresAt.Add(expiredRetention),
	}
	m.logger.WithField("session_id", maskID(session.ID)).Debug("Session stored in memory")
	return nil
}

// Revoke soft-revokes a stored session.
func (m *MemoryStore) Revoke(_ context.Context, authID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, exists := m.sessions[authID]
	if !exists {
		return models.ErrSessionNotFound
	}
	if item.Data.LogoutAt == nil {
		item.Data.Revoke(at)
	}
	m.logger.WithField("session_id", maskID(authID)).Debug("Session revoked in memory")
	return nil
}

// RevokeAllForUser revokes every active session of userID.
func (m *MemoryStore) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	revoked := 0
	for _, item := range m.sessions {
		if item.Data.UserID == userID && item.Data.LogoutAt == nil {
			item.Data.Revoke(at)
			revoked++
		}
	}
	return revoked, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
