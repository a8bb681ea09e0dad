package endpoint_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/endpoint"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

const sampleEndpoints = `
endpoints:
  - id: 10
    path_pattern: /api/orders/**
    http_method: ALL
    security_type: TOKEN_PROTECTED
    rate_limit_capacity: 50
    rate_limit_window_seconds: 60
    description: order operations
  - id: 11
    path_pattern: /api/menu/**
    http_method: GET
    security_type: PUBLIC
  - id: 12
    path_pattern: /api/legacy/**
    http_method: ALL
    security_type: PUBLIC
    is_active: false
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileSourceLoad(t *testing.T) {
	src := endpoint.NewFileSource(writeFile(t, "endpoints.yaml", sampleEndpoints))

	entries, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	orders := entries[0]
	assert.Equal(t, int64(10), orders.ID)
	assert.Equal(t, "/api/orders/**", orders.PathPattern)
	assert.Equal(t, models.SecurityTokenProtected, orders.SecurityType)
	require.NotNil(t, orders.RateLimitCapacity)
	assert.Equal(t, 50, *orders.RateLimitCapacity)
	assert.True(t, orders.HasRateLimit())
	assert.True(t, orders.IsActive)
	assert.Equal(t, "order operations", orders.Description)

	menu := entries[1]
	assert.Nil(t, menu.RateLimitCapacity)
	assert.True(t, menu.IsActive)

	assert.False(t, entries[2].IsActive)
	assert.Contains(t, src.Name(), "endpoints.yaml")
}

func TestFileSourceFeedsResolver(t *testing.T) {
	src := endpoint.NewFileSource(writeFile(t, "endpoints.yaml", sampleEndpoints))
	entries, err := src.Load(context.Background())
	require.NoError(t, err)

	r := newResolver()
	_, err = r.Swap(entries)
	require.NoError(t, err)

	assert.Equal(t, int64(10), r.Resolve("/api/orders/7", "DELETE").ID)
	assert.Equal(t, int64(11), r.Resolve("/api/menu", "GET").ID)
	assert.True(t, r.Resolve("/api/menu", "POST").Synthetic)
	assert.True(t, r.Resolve("/api/legacy/a", "GET").Synthetic)
}

func TestFileSourceErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		src := endpoint.NewFileSource(filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := src.Load(context.Background())
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		src := endpoint.NewFileSource(writeFile(t, "broken.yaml", "endpoints: [\n  - id: 1\n"))
		_, err := src.Load(context.Background())
		assert.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := endpoint.NewFileSource(writeFile(t, "endpoints.yaml", sampleEndpoints))
		_, err := src.Load(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMySQLSourceWithoutConnection(t *testing.T) {
	src := endpoint.NewMySQLSource(func() *sql.DB { return nil })

	_, err := src.Load(context.Background())

	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Equal(t, "mysql", src.Name())
}
