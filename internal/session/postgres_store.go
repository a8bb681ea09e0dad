package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// PoolGetter is a function that returns the current database connection pool.
type PoolGetter func() *pgxpool.Pool

// PostgresStore reads and writes the sessions table. It is the source of
// truth behind the hybrid store.
type PostgresStore struct {
	getPool PoolGetter
}

// NewPostgresStore creates a new PostgreSQL session store.
// The poolGetter function allows the store to always use the current
// active connection pool, supporting automatic reconnection.
func NewPostgresStore(poolGetter PoolGetter) *PostgresStore {
	return &PostgresStore{getPool: poolGetter}
}

// Lookup selects a session by id.
func (s *PostgresStore) Lookup(ctx context.Context, authID string) (*models.Session, error) {
	pool := s.getPool()
	if pool == nil {
		return nil, errDatabaseUnavailable
	}

	query := `
		SELECT id, user_id, user_email, device_info, ip_address,
		       created_at, expires_at, logout_at, is_active
		FROM sessions
		WHERE id = $1`

	var session models.Session
	err := pool.QueryRow(ctx, query, authID).Scan(
		&session.ID,
		&session.UserID,
		&session.UserEmail,
		&session.DeviceInfo,
		&session.IPAddress,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.LogoutAt,
		&session.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// Save inserts or replaces a session record.
func (s *PostgresStore) Save(ctx context.Context, session *models.Session) error {
	pool := s.getPool()
	if pool == nil {
		return errDatabaseUnavailable
	}

	query := `
		INSERT INTO sessions
		(id, user_id, user_email, device_info, ip_address, created_at, expires_at, logout_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			user_email = EXCLUDED.user_email,
			device_info = EXCLUDED.device_info,
			ip_address = EXCLUDED.ip_address,
			expires_at = EXCLUDED.expires_at,
			logout_at = EXCLUDED.logout_at,
			is_active = EXCLUDED.is_active`

	_, err := pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.UserEmail,
		session.DeviceInfo,
		session.IPAddress,
		session.CreatedAt,
		session.ExpiresAt,
		session.LogoutAt,
		session.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Revoke sets logout_at and clears is_active. An already revoked session
// keeps its original logout time.
func (s *PostgresStore) Revoke(ctx context.Context, authID string, at time.Time) error {
	pool := s.getPool()
	if pool == nil {
		return errDatabaseUnavailable
	}

	query := `
		UPDATE sessions
		SET logout_at = COALESCE(logout_at, $2), is_active = FALSE
		WHERE id = $1`

	tag, err := pool.Exec(ctx, query, authID, at)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// RevokeAllForUser revokes every session of userID not yet logged out.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	pool := s.getPool()
	if pool == nil {
		return 0, errDatabaseUnavailable
	}

	query := `
		UPDATE sessions
		SET logout_at = $2, is_active = FALSE
		WHERE user_id = $1 AND logout_at IS NULL`

	tag, err := pool.Exec(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks the pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	pool := s.getPool()
	if pool == nil {
		return errDatabaseUnavailable
	}
	return pool.Ping(ctx)
}
