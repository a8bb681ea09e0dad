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

func TestMemoryStore(t *testing.T) {
	store := session.NewMemoryStore(newTestLogger())
	defer store.Close()
	ctx := context.Background()

	got, err := store.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	s := activeSession("sess-1", "user-1", time.Hour)
	require.NoError(t, store.Save(ctx, s))

	got, err = store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.UserEmail, got.UserEmail)

	got.UserEmail = "mutated@example.com"
	again, err := store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, s.UserEmail, again.UserEmail, "lookups return copies")

	assert.ErrorIs(t, store.Revoke(ctx, "missing", time.Now()), models.ErrSessionNotFound)
	require.NoError(t, store.Revoke(ctx, "sess-1", time.Now()))
	revoked, err := store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	assert.NotNil(t, revoked.LogoutAt)
	assert.False(t, revoked.IsActive)

	assert.NoError(t, store.Ping(ctx))
	assert.NoError(t, store.Close())
}

func TestMemoryStoreRevokeAllForUser(t *testing.T) {
	store := session.NewMemoryStore(newTestLogger())
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, activeSession("a", "user-1", time.Hour)))
	require.NoError(t, store.Save(ctx, activeSession("b", "user-1", time.Hour)))
	require.NoError(t, store.Save(ctx, activeSession("c", "user-2", time.Hour)))

	n, err := store.RevokeAllForUser(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.RevokeAllForUser(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	other, err := store.Lookup(ctx, "c")
	require.NoError(t, err)
	assert.True(t, other.Valid(time.Now()))
	assert.Equal(t, 3, store.Len())
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	store := session.NewMemoryStore(newTestLogger())
	defer store.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Lookup(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
