package endpoint

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// DBGetter returns the current database connection, or nil while the
// database is unavailable. It lets the source follow reconnections.
type DBGetter func() *sql.DB

// MySQLSource loads policies from the endpoint_configs table of the endpoint
// registry, ordered by priority then id.
type MySQLSource struct {
	getDB DBGetter
}

const selectEndpointConfigs = `
	SELECT id, path_pattern, http_method, security_type,
	       rate_limit_capacity, rate_limit_window_seconds, is_active,
	       COALESCE(description, '')
	FROM endpoint_configs
	ORDER BY priority ASC, id ASC`

// NewMySQLSource creates a source backed by the database returned by getDB.
func NewMySQLSource(getDB DBGetter) *MySQLSource {
	return &MySQLSource{getDB: getDB}
}

// Load queries every row. A missing connection is reported as
// models.ErrUpstreamUnavailable.
func (s *MySQLSource) Load(ctx context.Context) ([]models.EndpointConfig, error) {
	db := s.getDB()
	if db == nil {
		return nil, fmt.Errorf("%w: endpoint registry database connection not available", models.ErrUpstreamUnavailable)
	}

	rows, err := db.QueryContext(ctx, selectEndpointConfigs)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoint configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.EndpointConfig
	for rows.Next() {
		var (
			cfg          models.EndpointConfig
			securityType string
			capacity     sql.NullInt64
			window       sql.NullInt64
		)
		if err := rows.Scan(
			&cfg.ID,
			&cfg.PathPattern,
			&cfg.HTTPMethod,
			&securityType,
			&capacity,
			&window,
			&cfg.IsActive,
			&cfg.Description,
		); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint config: %w", err)
		}
		cfg.SecurityType = models.SecurityType(securityType)
		if capacity.Valid {
			v := int(capacity.Int64)
			cfg.RateLimitCapacity = &v
		}
		if window.Valid {
			v := int(window.Int64)
			cfg.RateLimitWindowSeconds = &v
		}
		entries = append(entries, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate endpoint configs: %w", err)
	}
	return entries, nil
}

// Name returns "mysql".
func (s *MySQLSource) Name() string {
	return "mysql"
}
