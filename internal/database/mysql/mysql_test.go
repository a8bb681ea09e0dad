package mysql_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/database/mysql"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/endpoint"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

func TestManagerWithoutCredentials(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{MySQLDatabase: config.MySQLConfig{Host: "localhost", Port: 3306}}
	manager := mysql.NewManager(cfg, logger)
	defer manager.Close()

	assert.False(t, manager.IsConfigured())
	assert.Nil(t, manager.DB())
	assert.ErrorIs(t, manager.Ping(context.Background()), mysql.ErrDatabaseUnavailable)
	assert.ErrorIs(t, manager.EnsureSchema(context.Background()), mysql.ErrDatabaseUnavailable)
	assert.False(t, manager.Status().Available)

	// The policy source follows the manager and reports the registry as unavailable.
	_, err := endpoint.NewMySQLSource(manager.DB).Load(context.Background())
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}
