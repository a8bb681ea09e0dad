// Package config provides configuration management for the gatekeeper service.
// It supports environment variable-based configuration with validation and default values
// for all service components including server, key material, endpoint policy sources,
// session stores, security and logging settings.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// MinPortNumber is the minimum valid port number.
	MinPortNumber = 1
	// MaxPortNumber is the maximum valid port number.
	MaxPortNumber = 65535
	// MinSessionLookupTimeout is the smallest accepted session lookup timeout.
	MinSessionLookupTimeout = 10 * time.Millisecond
)

// Config represents the complete configuration for the gatekeeper service,
// aggregating all component-specific configurations.
type Config struct {
	// Environment holds environment-specific settings.
	Environment EnvironmentConfig `envconfig:"ENVIRONMENT"`
	// Server contains HTTP server configuration including ports, timeouts, and TLS settings.
	Server ServerConfig `envconfig:"SERVER"`
	// Redis contains Redis connection and pool configuration.
	Redis RedisConfig `envconfig:"REDIS"`
	// PostgresDatabase contains PostgreSQL database configuration (session records).
	PostgresDatabase DatabaseConfig `envconfig:"POSTGRES"`
	// MySQLDatabase contains MySQL database configuration (endpoint policies).
	MySQLDatabase MySQLConfig `envconfig:"MYSQL"`
	// Keys contains the signature and encryption key pairs and token lifetimes.
	Keys KeysConfig `envconfig:"KEYS"`
	// Security contains pipeline policy settings like cookie name and rate limits.
	Security SecurityConfig `envconfig:"SECURITY"`
	// Endpoints selects and tunes the endpoint policy source.
	Endpoints EndpointsConfig `envconfig:"ENDPOINTS"`
	// Sessions selects and tunes the session store.
	Sessions SessionsConfig `envconfig:"SESSIONS"`
	// Logging contains logging configuration.
	Logging LoggingConfig `envconfig:"LOGGING"`
}

type Environment string

const (
	Local   Environment = "LOCAL"
	NonProd Environment = "NONPROD"
	Prod    Environment = "PROD"
)

// EnvironmentConfig holds environment-specific settings.
type EnvironmentConfig struct {
	// Environment indicates the current running environment (LOCAL, NONPROD, PROD).
	Environment Environment `envconfig:"ENV" default:"LOCAL"`
}

// ServerConfig holds HTTP server configuration including network settings,
// timeouts, and TLS certificate paths.
type ServerConfig struct {
	// Port is the HTTP server listening port.
	Port int `envconfig:"PORT"             default:"8080"`
	// Host is the network interface to bind to.
	Host string `envconfig:"HOST"             default:"0.0.0.0"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"     default:"15s"`
	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT"    default:"15s"`
	// IdleTimeout is the maximum amount of time to wait for keep-alive connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"     default:"60s"`
	// ShutdownTimeout is the maximum time to wait for graceful server shutdown.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	// TLSCert is the path to the TLS certificate file for HTTPS.
	TLSCert string `envconfig:"TLS_CERT"`
	// TLSKey is the path to the TLS private key file for HTTPS.
	TLSKey string `envconfig:"TLS_KEY"`
}

// RedisConfig contains Redis connection configuration including
// connection pool settings and timeouts.
type RedisConfig struct {
	// URL is the Redis connection URL.
	URL string `envconfig:"URL"           default:"redis://localhost:6379"`
	// Password is the Redis authentication password.
	Password string `envconfig:"PASSWORD"`
	// DB is the Redis database number to use.
	DB int `envconfig:"DB"            default:"0"`
	// MaxRetries is the maximum number of retry attempts for failed operations.
	MaxRetries int `envconfig:"MAX_RETRIES"   default:"3"`
	// PoolSize is the maximum number of socket connections.
	PoolSize int `envconfig:"POOL_SIZE"     default:"10"`
	// MinIdleConn is the minimum number of idle connections.
	MinIdleConn int `envconfig:"MIN_IDLE_CONN" default:"5"`
	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT"  default:"5s"`
	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"  default:"3s"`
	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	// PoolTimeout is the amount of time client waits for connection.
	PoolTimeout time.Duration `envconfig:"POOL_TIMEOUT"  default:"4s"`
	// IdleTimeout is the amount of time after which client closes idle connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"  default:"300s"`
}

// DatabaseConfig contains PostgreSQL database connection configuration
// including connection pool settings and health check parameters.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `envconfig:"HOST"                default:"localhost"`
	// Port is the PostgreSQL server port.
	Port int `envconfig:"PORT"                default:"5432"`
	// Database is the PostgreSQL database name.
	Database string `envconfig:"DB"                  default:"restaurant"`
	// Schema is the PostgreSQL schema name.
	Schema string `envconfig:"SCHEMA"              default:"auth"`
	// User is the database username.
	User string `envconfig:"USER"`
	// Password is the database password.
	Password string `envconfig:"PASSWORD"`
	// SSLMode is the SSL connection mode (disable, require, verify-ca, verify-full).
	SSLMode string `envconfig:"SSL_MODE"            default:"require"`
	// MaxConn is the maximum number of connections in the pool.
	MaxConn int32 `envconfig:"MAX_CONN"            default:"25"`
	// MinConn is the minimum number of connections in the pool.
	MinConn int32 `envconfig:"MIN_CONN"            default:"5"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME"   default:"1h"`
	// MaxConnIdleTime is the maximum idle time for a connection.
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME"  default:"30m"`
	// HealthCheckPeriod is how often to check database connectivity.
	HealthCheckPeriod time.Duration `envconfig:"HEALTH_CHECK_PERIOD" default:"30s"`
	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"     default:"10s"`
}

// MySQLConfig contains MySQL database connection configuration
// including connection pool settings and health check parameters.
type MySQLConfig struct {
	// Host is the MySQL server hostname.
	Host string `envconfig:"HOST"                default:"localhost"`
	// Port is the MySQL server port.
	Port int `envconfig:"PORT"                default:"3306"`
	// Database is the MySQL database name.
	Database string `envconfig:"DB"                  default:"endpoint_registry"`
	// User is the database username.
	User string `envconfig:"USER"`
	// Password is the database password.
	Password string `envconfig:"PASSWORD"`
	// MaxConn is the maximum number of open connections.
	MaxConn int `envconfig:"MAX_CONN"            default:"10"`
	// MinConn is the minimum number of idle connections.
	MinConn int `envconfig:"MIN_CONN"            default:"2"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME"   default:"1h"`
	// MaxConnIdleTime is the maximum idle time for a connection.
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME"  default:"30m"`
	// HealthCheckPeriod is how often to check database connectivity.
	HealthCheckPeriod time.Duration `envconfig:"HEALTH_CHECK_PERIOD" default:"30s"`
	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"     default:"10s"`
}

// KeysConfig holds the two RSA key pairs and token settings. Each key may be
// given inline (PEM, or Base64 of PEM/DER) or as a file path; inline wins.
type KeysConfig struct {
	// SignaturePrivateKey signs issued tokens. Optional for verify-only services.
	SignaturePrivateKey string `envconfig:"SIGNATURE_PRIVATE_KEY"`
	// SignaturePrivateKeyFile is a path to the signature private key.
	SignaturePrivateKeyFile string `envconfig:"SIGNATURE_PRIVATE_KEY_FILE"`
	// SignaturePublicKey verifies token signatures (required).
	SignaturePublicKey string `envconfig:"SIGNATURE_PUBLIC_KEY"`
	// SignaturePublicKeyFile is a path to the signature public key.
	SignaturePublicKeyFile string `envconfig:"SIGNATURE_PUBLIC_KEY_FILE"`
	// EncryptionPrivateKey decrypts nested tokens.
	EncryptionPrivateKey string `envconfig:"ENCRYPTION_PRIVATE_KEY"`
	// EncryptionPrivateKeyFile is a path to the encryption private key.
	EncryptionPrivateKeyFile string `envconfig:"ENCRYPTION_PRIVATE_KEY_FILE"`
	// EncryptionPublicKey wraps content keys for issued tokens.
	EncryptionPublicKey string `envconfig:"ENCRYPTION_PUBLIC_KEY"`
	// EncryptionPublicKeyFile is a path to the encryption public key.
	EncryptionPublicKeyFile string `envconfig:"ENCRYPTION_PUBLIC_KEY_FILE"`
	// EncryptionEnabled nests signed tokens inside an encrypted envelope.
	EncryptionEnabled bool `envconfig:"ENCRYPTION_ENABLED" default:"true"`
	// Issuer is the token issuer claim.
	Issuer string `envconfig:"ISSUER"             default:"restaurant-auth"`
	// AccessTokenExpiry is the lifetime of access tokens.
	AccessTokenExpiry time.Duration `envconfig:"ACCESS_TOKEN_EXPIRY"  default:"15m"`
	// RefreshTokenExpiry is the lifetime of refresh tokens.
	RefreshTokenExpiry time.Duration `envconfig:"REFRESH_TOKEN_EXPIRY" default:"168h"`
}

// SecurityConfig contains pipeline policy settings and CORS configuration.
type SecurityConfig struct {
	// TokenCookie is the name of the cookie carrying the access token.
	TokenCookie string `envconfig:"TOKEN_COOKIE"            default:"access_token"`
	// AllowBearerHeader also accepts "Authorization: Bearer" when the cookie is absent.
	AllowBearerHeader bool `envconfig:"ALLOW_BEARER_HEADER"     default:"false"`
	// DefaultSecurityType applies when no endpoint policy matches (PUBLIC or TOKEN_PROTECTED).
	DefaultSecurityType string `envconfig:"DEFAULT_SECURITY_TYPE"   default:"PUBLIC"`
	// DefaultRateLimitCapacity is the bucket capacity of the default policy.
	DefaultRateLimitCapacity int `envconfig:"DEFAULT_RATE_CAPACITY"   default:"100"`
	// DefaultRateLimitWindow is the refill window of the default policy.
	DefaultRateLimitWindow time.Duration `envconfig:"DEFAULT_RATE_WINDOW"     default:"60s"`
	// RateLimitShards is the number of shards in the bucket map.
	RateLimitShards int `envconfig:"RATE_LIMIT_SHARDS"       default:"32"`
	// StatefulEnabled turns on session revocation checks for protected endpoints.
	StatefulEnabled bool `envconfig:"STATEFUL_ENABLED"        default:"true"`
	// SessionLookupTimeout bounds the single session store call per request.
	SessionLookupTimeout time.Duration `envconfig:"SESSION_LOOKUP_TIMEOUT"  default:"500ms"`
	// FailOpen admits requests when the session store is unreachable. Off by default.
	FailOpen bool `envconfig:"FAIL_OPEN"               default:"false"`
	// TrustedHeadersEnabled accepts upstream identity headers instead of tokens.
	TrustedHeadersEnabled bool `envconfig:"TRUSTED_HEADERS_ENABLED" default:"false"`
	// TrustedNetworks restricts trusted headers to these CIDRs (empty means any).
	TrustedNetworks []string `envconfig:"TRUSTED_NETWORKS"`
	// AllowedOrigins are the CORS allowed origins.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"         default:"*"`
	// AllowedMethods are the CORS allowed HTTP methods.
	AllowedMethods []string `envconfig:"ALLOWED_METHODS"         default:"GET,POST,PUT,DELETE,OPTIONS"`
	// AllowedHeaders are the CORS allowed headers.
	AllowedHeaders []string `envconfig:"ALLOWED_HEADERS"         default:"*"`
	// ExposedHeaders are the CORS exposed headers.
	ExposedHeaders []string `envconfig:"EXPOSED_HEADERS"`
	// AllowCredentials determines if CORS allows credentials.
	AllowCredentials bool `envconfig:"ALLOW_CREDENTIALS"       default:"true"`
	// MaxAge is the CORS preflight cache duration in seconds.
	MaxAge int `envconfig:"MAX_AGE"                 default:"86400"`
}

// EndpointsConfig selects where endpoint policies come from.
type EndpointsConfig struct {
	// Source is one of file, mysql or static.
	Source string `envconfig:"SOURCE"           default:"file"`
	// FilePath is the YAML policy file used by the file source.
	FilePath string `envconfig:"FILE_PATH"        default:"configs/endpoints.yaml"`
	// RefreshInterval is how often the policy list is reloaded; zero disables.
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"30s"`
	// LoadTimeout bounds a single load from the source.
	LoadTimeout time.Duration `envconfig:"LOAD_TIMEOUT"     default:"5s"`
}

// SessionsConfig selects the session store implementation.
type SessionsConfig struct {
	// Store is one of redis, postgres, hybrid or memory.
	Store string `envconfig:"STORE"     default:"redis"`
	// CacheTTL caps how long a session record is cached in Redis by the hybrid store.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30s"`
}

// LoggingConfig contains logging configuration including
// log level, format, and output destination.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `envconfig:"LEVEL"              default:"info"`
	// Format is the log output format (json, text).
	Format string `envconfig:"FORMAT"             default:"json"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `envconfig:"OUTPUT"             default:"stdout"`
	// ConsoleFormat is the format for console output (text, json).
	ConsoleFormat string `envconfig:"CONSOLE_FORMAT"     default:"text"`
	// FileFormat is the format for file output (text, json).
	FileFormat string `envconfig:"FILE_FORMAT"        default:"json"`
	// FilePath is the path to the log file for dual output.
	FilePath string `envconfig:"FILE_PATH"`
	// EnableDualOutput enables both console and file logging simultaneously.
	EnableDualOutput bool `envconfig:"ENABLE_DUAL_OUTPUT" default:"false"`
}

// Load reads configuration from environment variables and returns
// a validated Config instance. It returns an error if configuration
// is invalid or required values are missing.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs validation of all configuration values, ensuring they
// meet security and operational requirements. Key material itself is parsed
// by the token package; here only its presence is checked.
func (c *Config) Validate() error {
	if c.Keys.SignaturePublicKey == "" && c.Keys.SignaturePublicKeyFile == "" {
		return errors.New("signature public key is required")
	}

	if c.Keys.EncryptionEnabled &&
		c.Keys.EncryptionPrivateKey == "" && c.Keys.EncryptionPrivateKeyFile == "" {
		return errors.New("encryption private key is required when encryption is enabled")
	}

	if c.Server.Port < MinPortNumber || c.Server.Port > MaxPortNumber {
		return errors.New("server port must be between 1 and 65535")
	}

	if c.Keys.AccessTokenExpiry < time.Minute {
		return errors.New("access token expiry must be at least 1 minute")
	}

	switch strings.ToUpper(c.Security.DefaultSecurityType) {
	case "PUBLIC", "TOKEN_PROTECTED":
	default:
		return fmt.Errorf("unsupported default security type: %s", c.Security.DefaultSecurityType)
	}

	if c.Security.TokenCookie == "" {
		return errors.New("token cookie name is required")
	}

	if c.Security.DefaultRateLimitCapacity < 0 || c.Security.DefaultRateLimitWindow < 0 {
		return errors.New("default rate limit must not be negative")
	}

	if c.Security.StatefulEnabled && c.Security.SessionLookupTimeout < MinSessionLookupTimeout {
		return fmt.Errorf("session lookup timeout must be at least %s", MinSessionLookupTimeout)
	}

	for _, cidr := range c.Security.TrustedNetworks {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("invalid trusted network %q: %w", cidr, err)
		}
	}

	switch c.Endpoints.Source {
	case "file", "mysql", "static":
	default:
		return fmt.Errorf("unsupported endpoint source: %s", c.Endpoints.Source)
	}

	switch c.Sessions.Store {
	case "redis", "postgres", "hybrid", "memory":
	default:
		return fmt.Errorf("unsupported session store: %s", c.Sessions.Store)
	}

	return nil
}

// ServerAddr returns the formatted server address string in host:port format.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsTLSEnabled returns true if both TLS certificate and key paths are configured.
func (c *Config) IsTLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// PostgresDatabaseDSN returns the PostgreSQL connection string (Data Source Name).
func (c *Config) PostgresDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s search_path=%s",
		c.PostgresDatabase.Host,
		c.PostgresDatabase.Port,
		c.PostgresDatabase.Database,
		c.PostgresDatabase.User,
		c.PostgresDatabase.Password,
		c.PostgresDatabase.SSLMode,
		c.PostgresDatabase.Schema,
	)
}

// MySQLDSN returns the MySQL connection string (Data Source Name).
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.MySQLDatabase.User,
		c.MySQLDatabase.Password,
		c.MySQLDatabase.Host,
		c.MySQLDatabase.Port,
		c.MySQLDatabase.Database,
	)
}

// IsPostgresDatabaseConfigured returns true if PostgreSQL database user and password are configured.
func (c *Config) IsPostgresDatabaseConfigured() bool {
	return c.PostgresDatabase.User != "" && c.PostgresDatabase.Password != ""
}

// IsMySQLDatabaseConfigured returns true if MySQL database user and password are configured.
func (c *Config) IsMySQLDatabaseConfigured() bool {
	return c.MySQLDatabase.User != "" && c.MySQLDatabase.Password != ""
}
