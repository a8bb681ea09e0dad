package integration_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/endpoint"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/pipeline"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/ratelimit"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/token"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/pkg/logger"
)

const testUser = "test-user"

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	ctx := context.Background()

	// Start Redis container
	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	defer func() {
		if err = redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}()

	// Get connection string
	connectionString, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.RedisConfig{
		URL:          connectionString,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConn:  5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  300 * time.Second,
	}

	log := logger.New("info", "json", "stdout")
	store, err := session.NewRedisStore(cfg, log)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(ctx))

	t.Run("SessionOperations", func(t *testing.T) {
		testSessionOperations(ctx, t, store)
	})

	t.Run("RevokeAllForUser", func(t *testing.T) {
		testRevokeAllForUser(ctx, t, store)
	})

	t.Run("Pipeline", func(t *testing.T) {
		testPipeline(ctx, t, store)
	})
}

func newSession(id string, now time.Time) *models.Session {
	return &models.Session{
		ID:        id,
		UserID:    testUser,
		UserEmail: "test@example.com",
		IPAddress: "10.0.0.1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		IsActive:  true,
	}
}

func testSessionOperations(ctx context.Context, t *testing.T, store *session.RedisStore) {
	now := time.Now().UTC().Truncate(time.Second)
	s := newSession("integration-session-1", now)

	require.NoError(t, store.Save(ctx, s))

	got, err := store.Lookup(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, s.UserEmail, got.UserEmail)
	assert.True(t, got.ExpiresAt.Equal(s.ExpiresAt))

	validator := session.NewValidator(store, time.Second, logger.New("error", "json", "stdout"), nil)
	info, err := validator.ValidateSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, testUser, info.UserID)

	require.NoError(t, store.Revoke(ctx, s.ID, now))
	_, err = validator.ValidateSession(ctx, s.ID)
	require.ErrorIs(t, err, models.ErrSessionRevoked)

	_, err = validator.ValidateSession(ctx, "integration-missing")
	require.ErrorIs(t, err, models.ErrSessionNotFound)
}

func testRevokeAllForUser(ctx context.Context, t *testing.T, store *session.RedisStore) {
	now := time.Now().UTC()
	require.NoError(t, store.Save(ctx, newSession("integration-session-2", now)))
	require.NoError(t, store.Save(ctx, newSession("integration-session-3", now)))

	n, err := store.RevokeAllForUser(ctx, testUser, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2)

	got, err := store.Lookup(ctx, "integration-session-3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.LogoutAt)
}

func testPipeline(ctx context.Context, t *testing.T, store *session.RedisStore) {
	sig, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	enc, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keysCfg := &config.KeysConfig{
		EncryptionEnabled:  true,
		Issuer:             "restaurant-auth",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
	}
	codec := token.NewCodec(token.NewKeyring(&token.KeySet{
		SignaturePrivate:  sig,
		SignaturePublic:   &sig.PublicKey,
		EncryptionPrivate: enc,
		EncryptionPublic:  &enc.PublicKey,
	}), keysCfg)

	log := logger.New("error", "json", "stdout")
	resolver := endpoint.NewResolver(models.DefaultEndpointConfig(models.SecurityPublic, 100, 60), log)
	_, err = resolver.Swap([]models.EndpointConfig{
		{ID: 1, PathPattern: "/api/orders/**", HTTPMethod: "ALL", SecurityType: models.SecurityTokenProtected, IsActive: true},
	})
	require.NoError(t, err)

	chains := pipeline.InternalServiceChains(pipeline.Components{
		Limiter:     ratelimit.New(4),
		Tokens:      token.NewStatelessValidator(codec),
		Sessions:    session.NewValidator(store, time.Second, log, nil),
		TokenCookie: "access_token",
		Logger:      log,
	})
	dispatcher := pipeline.NewDispatcher(resolver, chains, log, nil)

	now := time.Now().UTC()
	s := newSession("integration-session-4", now)
	require.NoError(t, store.Save(ctx, s))

	minted, err := codec.Mint(&models.TokenClaims{
		AuthID: s.ID, UserID: testUser, Email: s.UserEmail, Roles: []string{"USER"},
	}, 15*time.Minute)
	require.NoError(t, err)

	decide := func() *models.SecurityContext {
		req := httptest.NewRequest(http.MethodGet, "/api/orders/42", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: minted})
		return dispatcher.Decide(req)
	}

	sc := decide()
	assert.Equal(t, models.StateAuthorized, sc.TerminalStatus())
	assert.Equal(t, testUser, sc.UserID)

	require.NoError(t, store.Revoke(ctx, s.ID, time.Now().UTC()))

	sc = decide()
	assert.Equal(t, models.StateForbidden, sc.TerminalStatus())
	assert.Equal(t, testUser, sc.UserID)
}
