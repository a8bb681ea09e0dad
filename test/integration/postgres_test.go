package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	pgdb "github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/database/postgres"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/pkg/logger"
)

func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("restaurant"),
		postgres.WithUsername("gatekeeper"),
		postgres.WithPassword("gatekeeper"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	defer func() {
		if err = pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := &config.Config{
		PostgresDatabase: config.DatabaseConfig{
			Host:              host,
			Port:              port.Int(),
			Database:          "restaurant",
			Schema:            "public",
			User:              "gatekeeper",
			Password:          "gatekeeper",
			SSLMode:           "disable",
			MaxConn:           5,
			MinConn:           1,
			MaxConnLifetime:   time.Hour,
			MaxConnIdleTime:   time.Minute,
			HealthCheckPeriod: 30 * time.Second,
			ConnectTimeout:    10 * time.Second,
		},
	}

	log := logger.New("error", "json", "stdout")
	manager := pgdb.NewManager(cfg, log)
	defer manager.Close()

	require.True(t, manager.IsAvailable())
	require.NoError(t, manager.EnsureSchema(ctx))
	// Applying the schema twice must be harmless.
	require.NoError(t, manager.EnsureSchema(ctx))

	store := session.NewPostgresStore(manager.Pool)
	require.NoError(t, store.Ping(ctx))

	t.Run("Lookup", func(t *testing.T) {
		testPostgresLookup(ctx, t, store)
	})

	t.Run("Revoke", func(t *testing.T) {
		testPostgresRevoke(ctx, t, store)
	})

	t.Run("RevokeAllForUser", func(t *testing.T) {
		testPostgresRevokeAllForUser(ctx, t, store)
	})

	t.Run("Validator", func(t *testing.T) {
		testPostgresValidator(ctx, t, store)
	})
}

func testPostgresLookup(ctx context.Context, t *testing.T, store *session.PostgresStore) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	s := newSession("pg-session-1", now)
	s.DeviceInfo = "integration-agent"

	require.NoError(t, store.Save(ctx, s))

	got, err := store.Lookup(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, s.UserEmail, got.UserEmail)
	assert.Equal(t, s.DeviceInfo, got.DeviceInfo)
	assert.Equal(t, s.IPAddress, got.IPAddress)
	assert.True(t, got.CreatedAt.Equal(s.CreatedAt))
	assert.True(t, got.ExpiresAt.Equal(s.ExpiresAt))
	assert.Nil(t, got.LogoutAt)
	assert.True(t, got.IsActive)

	missing, err := store.Lookup(ctx, "pg-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Saving again updates the mutable columns in place.
	s.ExpiresAt = now.Add(2 * time.Hour)
	require.NoError(t, store.Save(ctx, s))
	got, err = store.Lookup(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.ExpiresAt.Equal(s.ExpiresAt))
}

func testPostgresRevoke(ctx context.Context, t *testing.T, store *session.PostgresStore) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	s := newSession("pg-session-2", now)
	require.NoError(t, store.Save(ctx, s))

	first := now.Add(time.Minute)
	require.NoError(t, store.Revoke(ctx, s.ID, first))

	got, err := store.Lookup(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.LogoutAt)
	assert.True(t, got.LogoutAt.Equal(first))

	// A second revocation keeps the original logout time.
	require.NoError(t, store.Revoke(ctx, s.ID, first.Add(time.Hour)))
	got, err = store.Lookup(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LogoutAt)
	assert.True(t, got.LogoutAt.Equal(first))

	err = store.Revoke(ctx, "pg-missing", now)
	require.ErrorIs(t, err, models.ErrSessionNotFound)
}

func testPostgresRevokeAllForUser(ctx context.Context, t *testing.T, store *session.PostgresStore) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	const owner = "pg-owner"

	for _, id := range []string{"pg-session-3", "pg-session-4", "pg-session-5"} {
		s := newSession(id, now)
		s.UserID = owner
		require.NoError(t, store.Save(ctx, s))
	}
	other := newSession("pg-session-6", now)
	other.UserID = "pg-other"
	require.NoError(t, store.Save(ctx, other))

	earlier := now.Add(-time.Minute)
	require.NoError(t, store.Revoke(ctx, "pg-session-5", earlier))

	n, err := store.RevokeAllForUser(ctx, owner, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.Lookup(ctx, "pg-session-3")
	require.NoError(t, err)
	require.NotNil(t, got.LogoutAt)
	assert.True(t, got.LogoutAt.Equal(now))
	assert.False(t, got.IsActive)

	got, err = store.Lookup(ctx, "pg-session-5")
	require.NoError(t, err)
	require.NotNil(t, got.LogoutAt)
	assert.True(t, got.LogoutAt.Equal(earlier))

	got, err = store.Lookup(ctx, other.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LogoutAt)
	assert.True(t, got.IsActive)

	n, err = store.RevokeAllForUser(ctx, owner, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testPostgresValidator(ctx context.Context, t *testing.T, store *session.PostgresStore) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	s := newSession("pg-session-7", now)
	require.NoError(t, store.Save(ctx, s))

	validator := session.NewValidator(store, time.Second, logger.New("error", "json", "stdout"), nil)

	info, err := validator.ValidateSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, testUser, info.UserID)

	require.NoError(t, store.Revoke(ctx, s.ID, now))
	_, err = validator.ValidateSession(ctx, s.ID)
	require.ErrorIs(t, err, models.ErrSessionRevoked)

	_, err = validator.ValidateSession(ctx, "pg-missing")
	require.ErrorIs(t, err, models.ErrSessionNotFound)
}
