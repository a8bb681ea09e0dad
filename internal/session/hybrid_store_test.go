package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
)

func TestHybridStoreCacheAside(t *testing.T) {
	cache, mr := newRedisStore(t)
	primary := newFakeStore()
	store := session.NewHybridStore(primary, cache, 30*time.Second, newTestLogger())
	ctx := context.Background()

	s := activeSession("sess-1", "user-1", time.Hour)
	require.NoError(t, primary.Save(ctx, s))

	got, err := store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, primary.lookupCount())
	assert.Equal(t, 30*time.Second, mr.TTL("auth:session:sess-1"), "cache entry is short-lived")

	got, err = store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, primary.lookupCount(), "second lookup is served from cache")

	absent, err := store.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, absent)
	assert.True(t, store.PrimaryAvailable())
}

func TestHybridStorePrimaryFailure(t *testing.T) {
	cache, _ := newRedisStore(t)
	primary := newFakeStore()
	store := session.NewHybridStore(primary, cache, 30*time.Second, newTestLogger())
	ctx := context.Background()

	primary.setErr(errConnRefused)
	_, err := store.Lookup(ctx, "sess-1")
	require.Error(t, err)
	assert.False(t, store.PrimaryAvailable())

	v := session.NewValidator(store, time.Second, newTestLogger(), nil)
	_, err = v.ValidateSession(ctx, "sess-1")
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)

	primary.setErr(nil)
	require.NoError(t, primary.Save(ctx, activeSession("sess-1", "user-1", time.Hour)))
	got, err := store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.True(t, store.PrimaryAvailable())
}

func TestHybridStoreWritesAndRevocation(t *testing.T) {
	cache, _ := newRedisStore(t)
	primary := newFakeStore()
	store := session.NewHybridStore(primary, cache, 30*time.Second, newTestLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, activeSession("sess-1", "user-1", time.Hour)))
	require.NoError(t, store.Save(ctx, activeSession("sess-2", "user-1", time.Hour)))

	require.NoError(t, store.Revoke(ctx, "sess-1", time.Now()))
	got, err := store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	assert.NotNil(t, got.LogoutAt, "revocation reaches the cached copy")

	n, err := store.RevokeAllForUser(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, store.Revoke(ctx, "absent", time.Now()), models.ErrSessionNotFound)
	assert.NoError(t, store.Ping(ctx))
}

func TestHybridStoreWithoutPrimary(t *testing.T) {
	cache, mr := newRedisStore(t)
	store := session.NewHybridStore(nil, cache, 30*time.Second, newTestLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, activeSession("sess-1", "user-1", time.Hour)))
	assert.Greater(t, mr.TTL("auth:session:sess-1"), 30*time.Second, "redis-only sessions keep their full lifetime")

	got, err := store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.False(t, store.PrimaryAvailable())
}
