package postgres_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/database/postgres"
)

func TestManagerWithoutCredentials(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{PostgresDatabase: config.DatabaseConfig{Host: "localhost", Port: 5432}}
	manager := postgres.NewManager(cfg, logger)
	defer manager.Close()

	assert.False(t, manager.IsConfigured())
	assert.False(t, manager.IsAvailable())
	assert.Nil(t, manager.Pool())
	assert.ErrorIs(t, manager.Ping(context.Background()), postgres.ErrDatabaseUnavailable)
	assert.ErrorIs(t, manager.EnsureSchema(context.Background()), postgres.ErrDatabaseUnavailable)

	status := manager.Status()
	assert.False(t, status.Configured)
	assert.False(t, status.Available)
	assert.Empty(t, status.LastError)
}
