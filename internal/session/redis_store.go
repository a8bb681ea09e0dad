package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

const (
	// MinIDLengthForMasking is the minimum session id length before masking is applied.
	MinIDLengthForMasking = 8
	// expiredRetention keeps an already expired record readable briefly so it
	// classifies as expired rather than vanishing mid-request.
	expiredRetention = time.Minute
)

// RedisStore keeps sessions as JSON values in Redis.
//
// Keys:
//   - auth:session:{id} - the session record, expiring with the session
//   - auth:user_sessions:{userID} - set of session ids owned by a user
//
// Revocation rewrites the record in place and keeps its TTL, so a revoked
// session stays visible as revoked until it would have expired.
type RedisStore struct {
	rdb    *redis.Client
	logger *logrus.Logger
	now    func() time.Time
}

// NewRedisStore connects to Redis using cfg and verifies connectivity.
func NewRedisStore(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password // pragma: allowlist secret
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConn
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout
	opts.ConnMaxIdleTime = cfg.IdleTimeout

	store := NewRedisStoreFromClient(redis.NewClient(opts), logger)

	if pingErr := store.Ping(context.Background()); pingErr != nil {
		_ = store.rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", pingErr)
	}

	logger.Info("Connected to Redis session store")
	return store, nil
}

// NewRedisStoreFromClient wraps an existing go-redis client.
func NewRedisStoreFromClient(rdb *redis.Client, logger *logrus.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, logger: logger, now: time.Now}
}

// Close closes the underlying connection pool.
func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close Redis connection")
		return err
	}
	s.logger.Info("Redis connection closed")
	return nil
}

// Ping sends a PING command.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Lookup reads a session record.
func (s *RedisStore) Lookup(ctx context.Context, authID string) (*models.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(authID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if unmarshalErr := json.Unmarshal(data, &session); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", unmarshalErr)
	}
	return &session, nil
}

// Save stores the record with a TTL running to its expiry and indexes it
// under its user.
func (s *RedisStore) Save(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = expiredRetention
	}
	return s.save(ctx, session, data, ttl)
}

// SaveWithTTL stores the record with a TTL capped at ttl, for callers that
// use Redis as a cache in front of another store.
func (s *RedisStore) SaveWithTTL(ctx context.Context, session *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if remaining := session.ExpiresAt.Sub(s.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		ttl = expiredRetention
	}
	return s.save(ctx, session, data, ttl)
}

func (s *RedisStore) save(ctx context.Context, session *models.Session, data []byte, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, ttl)
		if session.UserID != "" {
			pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": maskID(session.ID),
		"ttl":        ttl.String(),
	}).Debug("Session stored successfully")
	return nil
}

// Revoke marks the session revoked, keeping its remaining TTL. The
// read-modify-write runs under WATCH so a concurrent save is not lost.
func (s *RedisStore) Revoke(ctx context.Context, authID string, at time.Time) error {
	key := sessionKey(authID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return models.ErrSessionNotFound
			}
			return fmt.Errorf("failed to get session: %w", err)
		}

		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if session.LogoutAt != nil {
			return nil
		}
		session.Revoke(at)

		out, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, out, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}

	if err := s.rdb.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	s.logger.WithField("session_id", maskID(authID)).Info("Session revoked")
	return nil
}

// RevokeAllForUser revokes every indexed session of userID. Index entries
// whose record has already expired are pruned.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	indexKey := userSessionsKey(userID)
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	revoked := 0
	for _, id := range ids {
		session, lookupErr := s.Lookup(ctx, id)
		if lookupErr != nil {
			return revoked, lookupErr
		}
		if session == nil {
			if remErr := s.rdb.SRem(ctx, indexKey, id).Err(); remErr != nil {
				s.logger.WithError(remErr).Debug("Failed to prune user session index")
			}
			continue
		}
		if session.LogoutAt != nil {
			continue
		}
		if revokeErr := s.Revoke(ctx, id, at); revokeErr != nil {
			return revoked, revokeErr
		}
		revoked++
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":          userID,
		"sessions_revoked": revoked,
	}).Info("User sessions revoked")
	return revoked, nil
}

// sessionKey uses the pattern "auth:session:{sessionID}".
func sessionKey(sessionID string) string {
	return fmt.Sprintf("auth:session:%s", sessionID)
}

// userSessionsKey uses the pattern "auth:user_sessions:{userID}".
func userSessionsKey(userID string) string {
	return fmt.Sprintf("auth:user_sessions:%s", userID)
}

// maskID obscures session ids for logging, keeping the first and last four
// characters of ids longer than MinIDLengthForMasking.
func maskID(id string) string {
	if len(id) <= MinIDLengthForMasking {
		return "***"
	}
	return id[:4] + "***" + id[len(id)-4:]
}
