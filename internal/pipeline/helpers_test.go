package pipeline_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/endpoint"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/pipeline"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/ratelimit"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/token"
)

const cookieName = "access_token"

var (
	keysOnce sync.Once
	keySet   *token.KeySet
	keysErr  error
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	keysOnce.Do(func() {
		var sig, enc *rsa.PrivateKey
		if sig, keysErr = rsa.GenerateKey(rand.Reader, 2048); keysErr != nil {
			return
		}
		if enc, keysErr = rsa.GenerateKey(rand.Reader, 2048); keysErr != nil {
			return
		}
		keySet = &token.KeySet{
			SignaturePrivate:  sig,
			SignaturePublic:   &sig.PublicKey,
			EncryptionPrivate: enc,
			EncryptionPublic:  &enc.PublicKey,
		}
	})
	require.NoError(t, keysErr)

	return token.NewCodec(token.NewKeyring(keySet), &config.KeysConfig{
		EncryptionEnabled:  true,
		Issuer:             "restaurant-auth",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
	})
}

func intPtr(v int) *int { return &v }

// testPolicies is the endpoint list shared by the dispatcher tests.
func testPolicies() []models.EndpointConfig {
	return []models.EndpointConfig{
		{ID: 1, PathPattern: "/api/menu/**", HTTPMethod: "GET", SecurityType: models.SecurityPublic,
			RateLimitCapacity: intPtr(100), RateLimitWindowSeconds: intPtr(60), IsActive: true},
		{ID: 2, PathPattern: "/api/orders/**", HTTPMethod: "ALL", SecurityType: models.SecurityTokenProtected, IsActive: true},
		{ID: 3, PathPattern: "/api/limited", HTTPMethod: "GET", SecurityType: models.SecurityPublic,
			RateLimitCapacity: intPtr(1), RateLimitWindowSeconds: intPtr(60), IsActive: true},
		{ID: 4, PathPattern: "/api/reservations/{id}", HTTPMethod: "POST", SecurityType: models.SecurityTokenProtected,
			RateLimitCapacity: intPtr(1), RateLimitWindowSeconds: intPtr(60), IsActive: true},
	}
}

func newTestResolver(t *testing.T) *endpoint.Resolver {
	t.Helper()
	r := endpoint.NewResolver(models.DefaultEndpointConfig(models.SecurityPublic, 100, 60), newTestLogger())
	_, err := r.Swap(testPolicies())
	require.NoError(t, err)
	return r
}

// countingValidator records how often stateless validation ran.
type countingValidator struct {
	next  pipeline.TokenValidator
	calls atomic.Int32
}

func (v *countingValidator) ValidateStateless(raw string) (*models.TokenClaims, error) {
	v.calls.Add(1)
	return v.next.ValidateStateless(raw)
}

// stubChecker answers every session check with err.
type stubChecker struct {
	err error
}

func (c stubChecker) IsEnabled() bool { return true }

func (c stubChecker) ValidateSession(_ context.Context, _ string) (*models.SessionInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &models.SessionInfo{}, nil
}

// fixture is a dispatcher over an in-memory session store.
type fixture struct {
	codec      *token.Codec
	store      *session.MemoryStore
	validator  *countingValidator
	dispatcher *pipeline.Dispatcher
}

func newFixture(t *testing.T, mutate func(*pipeline.Components)) *fixture {
	t.Helper()
	logger := newTestLogger()
	codec := newTestCodec(t)
	store := session.NewMemoryStore(logger)
	t.Cleanup(func() { _ = store.Close() })

	validator := &countingValidator{next: token.NewStatelessValidator(codec)}
	components := pipeline.Components{
		Limiter:     ratelimit.New(4),
		Tokens:      validator,
		Sessions:    session.NewValidator(store, time.Second, logger, nil),
		TokenCookie: cookieName,
		Logger:      logger,
	}
	if mutate != nil {
		mutate(&components)
	}

	return &fixture{
		codec:      codec,
		store:      store,
		validator:  validator,
		dispatcher: pipeline.NewDispatcher(newTestResolver(t), pipeline.InternalServiceChains(components), logger, nil),
	}
}

// login stores a session and returns an access token bound to it.
func (f *fixture) login(t *testing.T, authID string) string {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.store.Save(context.Background(), &models.Session{
		ID:        authID,
		UserID:    "user-42",
		UserEmail: "diner@example.com",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		IsActive:  true,
	}))
	return f.mint(t, authID, models.TokenTypeAccess, time.Time{})
}

func (f *fixture) mint(t *testing.T, authID string, tokenType models.TokenType, issuedAt time.Time) string {
	t.Helper()
	raw, err := f.codec.Mint(&models.TokenClaims{
		AuthID:    authID,
		UserID:    "user-42",
		Email:     "diner@example.com",
		Roles:     []string{"CUSTOMER"},
		TokenType: tokenType,
		IssuedAt:  issuedAt,
	}, 15*time.Minute)
	require.NoError(t, err)
	return raw
}

func newRequest(method, path, tok string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	if tok != "" {
		r.AddCookie(&http.Cookie{Name: cookieName, Value: tok})
	}
	return r
}

// recorder is a downstream handler that remembers what it received.
type recorder struct {
	called  bool
	sc      *models.SecurityContext
	fromCtx *models.SecurityContext
}

func (h *recorder) ServeSecured(w http.ResponseWriter, r *http.Request, sc *models.SecurityContext) {
	h.called = true
	h.sc = sc
	h.fromCtx = pipeline.FromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}
