// Package session checks server-side session state for authenticated
// requests. A Store answers a single lookup by session id; the Validator
// bounds that lookup with a timeout and classifies the record as valid,
// not found or revoked.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// errDatabaseUnavailable is returned by database-backed stores while their
// connection manager has no live connection.
var errDatabaseUnavailable = errors.New("database connection not available")

// Store looks up sessions by id.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Lookup returns the session record, or (nil, nil) when none exists.
	// Any returned error means the store could not answer.
	Lookup(ctx context.Context, authID string) (*models.Session, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
}

// Writer mutates session records. It is used by operator tooling and tests;
// the request pipeline only reads.
type Writer interface {
	// Save creates or replaces a session record.
	Save(ctx context.Context, s *models.Session) error

	// Revoke soft-revokes a session at the given time. A missing session
	// yields models.ErrSessionNotFound.
	Revoke(ctx context.Context, authID string, at time.Time) error

	// RevokeAllForUser revokes every active session of a user and returns
	// how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error)
}

// WritableStore is a Store that also accepts writes.
type WritableStore interface {
	Store
	Writer
}
