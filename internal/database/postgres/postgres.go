// Package postgres manages the PostgreSQL pool that backs durable session
// records. The pool reconnects in the background; callers fetch it through
// Pool on every use so they follow reconnections.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
)

const (
	healthCheckTimeout = 5 * time.Second
)

// ErrDatabaseUnavailable is returned when database operations are attempted while database is unavailable.
var ErrDatabaseUnavailable = errors.New("session database is not available")

// sessionsSchema creates the sessions table read by the session store.
// Statements are idempotent so EnsureSchema can run on every start.
var sessionsSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id          VARCHAR(128) PRIMARY KEY,
		user_id     VARCHAR(128) NOT NULL,
		user_email  VARCHAR(320) NOT NULL DEFAULT '',
		device_info TEXT         NOT NULL DEFAULT '',
		ip_address  VARCHAR(64)  NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ  NOT NULL,
		expires_at  TIMESTAMPTZ  NOT NULL,
		logout_at   TIMESTAMPTZ,
		is_active   BOOLEAN      NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions (expires_at)`,
}

// Status is a point-in-time view of the manager for health reporting.
type Status struct {
	Configured bool      `json:"configured"`
	Available  bool      `json:"available"`
	LastCheck  time.Time `json:"last_check,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Manager manages the PostgreSQL session database pool and health monitoring.
type Manager struct {
	pool       *pgxpool.Pool
	config     *config.DatabaseConfig
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

// NewManager creates a new database manager with connection pool and health monitoring.
// If database credentials are not configured, it returns a manager without connection
// whose Pool is always nil.
func NewManager(cfg *config.Config, logger *logrus.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	manager := &Manager{
		config:     &cfg.PostgresDatabase,
		dsn:        cfg.PostgresDatabaseDSN(),
		logger:     logger,
		configured: cfg.IsPostgresDatabaseConfigured(),
		ctx:        ctx,
		cancel:     cancel,
	}

	if !manager.configured {
		logger.Info("PostgreSQL session database not configured, sessions will not be persisted there")
		return manager
	}

	if err := manager.connect(); err != nil {
		manager.recordCheck(err)
		logger.WithError(err).Warn("Failed to connect to PostgreSQL session database on startup, will retry periodically")
	}

	go manager.healthMonitor()
	return manager
}

// connect establishes the database connection pool.
func (m *Manager) connect() error {
	poolConfig, err := pgxpool.ParseConfig(m.dsn)
	if err != nil {
		return fmt.Errorf("failed to parse session database DSN: %w", err)
	}

	poolConfig.MaxConns = m.config.MaxConn
	poolConfig.MinConns = m.config.MinConn
	poolConfig.MaxConnLifetime = m.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = m.config.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = m.config.ConnectTimeout

	ctx, cancel := context.WithTimeout(m.ctx, m.config.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return err
	}

	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		return pingErr
	}

	m.mu.Lock()
	if m.pool != nil {
		m.pool.Close()
	}
	m.pool = pool
	m.available = true
	m.lastCheck = time.Now()
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"host":     m.config.Host,
		"database": m.config.Database,
		"schema":   m.config.Schema,
	}).Info("Connected to PostgreSQL session database")
	return nil
}

// EnsureSchema creates the sessions table and its indexes when missing.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	pool := m.Pool()
	if pool == nil {
		return ErrDatabaseUnavailable
	}

	for _, stmt := range sessionsSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply session schema: %w", err)
		}
	}
	m.logger.Debug("Session schema ensured")
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

// checkHealth pings the pool and reconnects when it is missing or broken.
func (m *Manager) checkHealth() {
	m.mu.RLock()
	pool := m.pool
	wasAvailable := m.available
	m.mu.RUnlock()

	if pool == nil {
		err := m.connect()
		m.recordCheck(err)
		if err != nil && wasAvailable {
			m.logger.WithError(err).Warn("PostgreSQL session database connection lost, attempting reconnection")
		}
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, healthCheckTimeout)
	defer cancel()

	err := pool.Ping(ctx)
	m.recordCheck(err)
	if err != nil {
		if wasAvailable {
			m.logger.WithError(err).Warn("PostgreSQL session database health check failed, connection lost")
		}
		if reconnectErr := m.connect(); reconnectErr != nil {
			m.logger.WithError(reconnectErr).Debug("PostgreSQL reconnection attempt failed")
		}
		return
	}

	if !wasAvailable {
		m.logger.Info("PostgreSQL session database connection restored")
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

// Pool returns the database connection pool. Returns nil if database is not available.
func (m *Manager) Pool() *pgxpool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.available {
		return m.pool
	}
	return nil
}

// Close closes the database connection pool and stops health monitoring.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
	}
	m.available = false
}

// Ping performs a health check on the database connection.
func (m *Manager) Ping(ctx context.Context) error {
	pool := m.Pool()
	if pool == nil {
		return ErrDatabaseUnavailable
	}
	return pool.Ping(ctx)
}
