// Package mysql manages the connection to the endpoint registry, the MySQL
// database holding endpoint security policies.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	// Import MySQL driver for database/sql.
	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
)

const (
	healthCheckTimeout = 5 * time.Second
)

// ErrDatabaseUnavailable is returned when database operations are attempted while database is unavailable.
var ErrDatabaseUnavailable = errors.New("endpoint registry is not available")

// endpointConfigsSchema creates the table read by the endpoint policy source.
var endpointConfigsSchema = []string{
	`CREATE TABLE IF NOT EXISTS endpoint_configs (
		id                        BIGINT AUTO_INCREMENT PRIMARY KEY,
		path_pattern              VARCHAR(512) NOT NULL,
		http_method               VARCHAR(16)  NOT NULL DEFAULT 'ALL',
		security_type             VARCHAR(32)  NOT NULL DEFAULT 'TOKEN_PROTECTED',
		rate_limit_capacity       INT          NULL,
		rate_limit_window_seconds INT          NULL,
		priority                  INT          NOT NULL DEFAULT 100,
		is_active                 BOOLEAN      NOT NULL DEFAULT TRUE,
		description               VARCHAR(512) NULL,
		updated_at                TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_endpoint_configs_priority (priority, id)
	)`,
}

// Status is a point-in-time view of the manager for health reporting.
type Status struct {
	Configured bool      `json:"configured"`
	Available  bool      `json:"available"`
	LastCheck  time.Time `json:"last_check,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Manager manages the MySQL connection pool and health monitoring.
type Manager struct {
	db         *sql.DB
	config     *config.MySQLConfig
	dsn        string
	logger     *logrus.Logger
	configured bool
	available  bool
	lastCheck  time.Time
	lastErr    error
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewManager creates a new MySQL database manager with connection pool and health monitoring.
// If database credentials are not configured, it returns a manager without connection.
func NewManager(cfg *config.Config, logger *logrus.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	manager := &Manager{
		config:     &cfg.MySQLDatabase,
		dsn:        fmt.Sprintf("%s&timeout=%s", cfg.MySQLDSN(), cfg.MySQLDatabase.ConnectTimeout),
		logger:     logger,
		configured: cfg.IsMySQLDatabaseConfigured(),
		ctx:        ctx,
		cancel:     cancel,
	}

	if !manager.configured {
		logger.Info("Endpoint registry database not configured")
		return manager
	}

	if err := manager.connect(); err != nil {
		manager.recordCheck(err)
		logger.WithError(err).Warn("Failed to connect to endpoint registry on startup, will retry periodically")
	}

	go manager.healthMonitor()
	return manager
}

// connect establishes the database connection pool.
func (m *Manager) connect() error {
	db, err := sql.Open("mysql", m.dsn)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(m.config.MaxConn)
	db.SetMaxIdleConns(m.config.MinConn)
	db.SetConnMaxLifetime(m.config.MaxConnLifetime)
	db.SetConnMaxIdleTime(m.config.MaxConnIdleTime)

	ctx, cancel := context.WithTimeout(m.ctx, m.config.ConnectTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close() // Explicitly ignore close error on failed connection
		return pingErr
	}

	m.mu.Lock()
	if m.db != nil {
		_ = m.db.Close() // Explicitly ignore close error on reconnection
	}
	m.db = db
	m.available = true
	m.lastCheck = time.Now()
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"host":     m.config.Host,
		"database": m.config.Database,
	}).Info("Connected to endpoint registry")
	return nil
}

// EnsureSchema creates the endpoint_configs table when missing.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	db := m.DB()
	if db == nil {
		return ErrDatabaseUnavailable
	}

	for _, stmt := range endpointConfigsSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply endpoint registry schema: %w", err)
		}
	}
	return nil
}

// healthMonitor runs in a goroutine to periodically check database connectivity.
func (m *Manager) healthMonitor() {
	ticker := time.NewTicker(m.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

// checkHealth pings the database and reconnects when it is missing or broken.
func (m *Manager) checkHealth() {
	m.mu.RLock()
	db := m.db
	wasAvailable := m.available
	m.mu.RUnlock()

	if db == nil {
		err := m.connect()
		m.recordCheck(err)
		if err != nil && wasAvailable {
			m.logger.WithError(err).Warn("Endpoint registry connection lost, attempting reconnection")
		}
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, healthCheckTimeout)
	defer cancel()

	err := db.PingContext(ctx)
	m.recordCheck(err)
	if err != nil {
		if wasAvailable {
			m.logger.WithError(err).Warn("Endpoint registry health check failed, connection lost")
		}
		if reconnectErr := m.connect(); reconnectErr != nil {
			m.logger.WithError(reconnectErr).Debug("Endpoint registry reconnection attempt failed")
		}
		return
	}

	if !wasAvailable {
		m.logger.Info("Endpoint registry connection restored")
	}
}

func (m *Manager) recordCheck(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = err == nil
	m.lastCheck = time.Now()
	m.lastErr = err
}

// IsConfigured reports whether credentials were supplied.
func (m *Manager) IsConfigured() bool {
	return m.configured
}

// IsAvailable returns true if the database is currently available.
func (m *Manager) IsAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

// Status returns a snapshot for health endpoints.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		Configured: m.configured,
		Available:  m.available,
		LastCheck:  m.lastCheck,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// DB returns the database connection. Returns nil if database is not available.
func (m *Manager) DB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.available {
		return m.db
	}
	return nil
}

// Close closes the database connection and stops health monitoring.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		_ = m.db.Close() // Explicitly ignore close error during shutdown
		m.db = nil
	}
	m.available = false
}

// Ping performs a health check on the database connection.
func (m *Manager) Ping(ctx context.Context) error {
	db := m.DB()
	if db == nil {
		return ErrDatabaseUnavailable
	}
	return db.PingContext(ctx)
}
