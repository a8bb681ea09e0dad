package session_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func activeSession(id, userID string, ttl time.Duration) *models.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Session{
		ID:         id,
		UserID:     userID,
		UserEmail:  userID + "@example.com",
		DeviceInfo: "Mozilla/5.0",
		IPAddress:  "10.0.0.8",
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		IsActive:   true,
	}
}

// fakeStore is a scriptable primary store.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	err      error
	delay    time.Duration
	lookups  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]models.Session)}
}

func (f *fakeStore) Lookup(ctx context.Context, authID string) (*models.Session, error) {
	f.mu.Lock()
	f.lookups++
	delay, err := f.delay, f.err
	s, ok := f.sessions[authID]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStore) Save(_ context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeStore) Revoke(_ context.Context, authID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	s, ok := f.sessions[authID]
	if !ok {
		return models.ErrSessionNotFound
	}
	s.Revoke(at)
	f.sessions[authID] = s
	return nil
}

func (f *fakeStore) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for id, s := range f.sessions {
		if s.UserID == userID && s.LogoutAt == nil {
			s.Revoke(at)
			f.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeStore) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
