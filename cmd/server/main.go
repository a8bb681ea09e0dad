// Package main provides the entry point for the gatekeeper service. It loads
// key material and endpoint policies, selects the session store, builds the
// authorization pipeline and serves it with graceful shutdown support.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/database/mysql"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/database/postgres"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/endpoint"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/handlers"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/metrics"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/middleware"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/pipeline"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/ratelimit"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/token"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/pkg/logger"
)

const version = "1.0.0"

// app holds the long-lived components so main can close them in order.
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	metrics   *metrics.Metrics
	keys      *token.Keyring
	postgres  *postgres.Manager
	mysql     *mysql.Manager
	store     session.Store
	writer    session.Writer
	closers   []func() error
	resolver  *endpoint.Resolver
	refresher *endpoint.Refresher
}

func main() {
	// Load .env.local file only in development (when GO_ENV is not set or set to "development")
	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" || goEnv == "development" {
		if err := godotenv.Load(".env.local"); err != nil {
			// Only log if the error is not "file not found"
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Error loading .env.local file: %v\n", err)
			}
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger with dual-output support
	log := logger.NewWithConfig(&cfg.Logging)
	log.Info("Starting gatekeeper")
	log.WithFields(logrus.Fields{
		"version":          version,
		"port":             cfg.Server.Port,
		"host":             cfg.Server.Host,
		"tls":              cfg.IsTLSEnabled(),
		"endpoint_source":  cfg.Endpoints.Source,
		"session_store":    cfg.Sessions.Store,
		"stateful_enabled": cfg.Security.StatefulEnabled,
		"trusted_headers":  cfg.Security.TrustedHeadersEnabled,
	}).Info("Service configuration loaded")

	a, err := initialize(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize gatekeeper")
	}
	defer a.close()

	server, err := a.setupServer()
	if err != nil {
		log.WithError(err).Fatal("Failed to build authorization pipeline")
	}

	runServer(server, cfg, log)
}

func initialize(cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	if err := a.metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	// Key material is mandatory; a service that cannot verify tokens must not start.
	keySet, err := token.LoadKeySet(&cfg.Keys)
	if err != nil {
		return nil, err
	}
	a.keys = token.NewKeyring(keySet)
	log.WithFields(logrus.Fields{
		"can_sign":    keySet.CanSign(),
		"can_decrypt": keySet.CanDecrypt(),
		"encryption":  cfg.Keys.EncryptionEnabled,
	}).Info("Key material loaded")

	// Database managers are optional and keep reconnecting in the background
	a.postgres = postgres.NewManager(cfg, log)
	a.mysql = mysql.NewManager(cfg, log)
	a.ensureSchemas()

	a.initSessionStore()

	a.resolver = endpoint.NewResolver(defaultPolicy(cfg), log)
	a.refresher = endpoint.NewRefresher(
		a.policySource(),
		a.resolver,
		cfg.Endpoints.RefreshInterval,
		cfg.Endpoints.LoadTimeout,
		log,
		a.metrics,
	)
	if err := a.refresher.Start(context.Background()); err != nil {
		log.WithError(err).Warn("Initial endpoint policy load failed; unmatched routes are treated as protected")
	}

	return a, nil
}

func (a *app) ensureSchemas() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.PostgresDatabase.ConnectTimeout)
	defer cancel()

	if a.postgres.IsAvailable() {
		if err := a.postgres.EnsureSchema(ctx); err != nil {
			a.log.WithError(err).Warn("Failed to ensure sessions schema")
		}
	}
	if a.mysql.IsAvailable() {
		if err := a.mysql.EnsureSchema(ctx); err != nil {
			a.log.WithError(err).Warn("Failed to ensure endpoint_configs schema")
		}
	}
}

// initSessionStore selects the session store. An unreachable Redis falls back
// to the in-memory store, which does not survive restarts.
func (a *app) initSessionStore() {
	var pgStore *session.PostgresStore
	if a.postgres.IsConfigured() {
		pgStore = session.NewPostgresStore(a.postgres.Pool)
	}

	switch a.cfg.Sessions.Store {
	case "postgres":
		if pgStore == nil {
			a.log.Warn("Postgres session store selected but database is not configured, using in-memory store")
			a.useMemoryStore()
			return
		}
		a.store, a.writer = pgStore, pgStore
		a.log.Info("Using PostgreSQL session store")

	case "hybrid":
		redisStore, err := session.NewRedisStore(&a.cfg.Redis, a.log)
		if err != nil {
			a.log.WithError(err).Warn("Failed to connect to Redis for hybrid session store")
			if pgStore != nil {
				a.store, a.writer = pgStore, pgStore
				return
			}
			a.useMemoryStore()
			return
		}
		a.closers = append(a.closers, redisStore.Close)

		var primary session.WritableStore
		if pgStore != nil {
			primary = pgStore
		}
		hybrid := session.NewHybridStore(primary, redisStore, a.cfg.Sessions.CacheTTL, a.log)
		a.store, a.writer = hybrid, hybrid
		a.log.Info("Using hybrid session store")

	case "memory":
		a.useMemoryStore()

	default:
		redisStore, err := session.NewRedisStore(&a.cfg.Redis, a.log)
		if err != nil {
			a.log.WithError(err).Warn("Failed to connect to Redis, falling back to in-memory store")
			a.useMemoryStore()
			return
		}
		a.closers = append(a.closers, redisStore.Close)
		a.store, a.writer = redisStore, redisStore
		a.log.Info("Successfully connected to Redis session store")
	}
}

func (a *app) useMemoryStore() {
	a.log.Warn("Note: In-memory session store will not persist data between restarts")
	memoryStore := session.NewMemoryStore(a.log)
	a.closers = append(a.closers, memoryStore.Close)
	a.store, a.writer = memoryStore, memoryStore
}

func (a *app) policySource() endpoint.Source {
	switch a.cfg.Endpoints.Source {
	case "mysql":
		return endpoint.NewMySQLSource(a.mysql.DB)
	case "static":
		return endpoint.NewStaticSource(staticPolicies()...)
	default:
		return endpoint.NewFileSource(a.cfg.Endpoints.FilePath)
	}
}

// defaultPolicy builds the policy applied when no endpoint entry matches.
func defaultPolicy(cfg *config.Config) models.EndpointConfig {
	securityType, ok := models.ParseSecurityType(strings.ToUpper(cfg.Security.DefaultSecurityType))
	if !ok {
		securityType = models.SecurityTokenProtected
	}
	return models.DefaultEndpointConfig(
		securityType,
		cfg.Security.DefaultRateLimitCapacity,
		int(cfg.Security.DefaultRateLimitWindow.Seconds()),
	)
}

// staticPolicies protects the gatekeeper's own routes when no external policy
// source is configured.
func staticPolicies() []models.EndpointConfig {
	adminCapacity, adminWindow := 30, 60
	return []models.EndpointConfig{
		{
			ID:                     1,
			PathPattern:            "/internal/**",
			HTTPMethod:             "ALL",
			SecurityType:           models.SecurityTokenProtected,
			RateLimitCapacity:      &adminCapacity,
			RateLimitWindowSeconds: &adminWindow,
			IsActive:               true,
			Description:            "administrative endpoints",
		},
		{
			ID:           2,
			PathPattern:  "/api/whoami",
			HTTPMethod:   "GET",
			SecurityType: models.SecurityTokenProtected,
			IsActive:     true,
			Description:  "identity echo",
		},
	}
}

func (a *app) chains(limiter *ratelimit.Limiter) (pipeline.Chains, error) {
	var checker session.Checker = session.NoopValidator{}
	if a.cfg.Security.StatefulEnabled {
		checker = session.NewValidator(a.store, a.cfg.Security.SessionLookupTimeout, a.log, a.metrics)
	}

	components := pipeline.Components{
		Limiter:         limiter,
		Tokens:          token.NewStatelessValidator(token.NewCodec(a.keys, &a.cfg.Keys)),
		Sessions:        checker,
		TokenCookie:     a.cfg.Security.TokenCookie,
		AllowBearer:     a.cfg.Security.AllowBearerHeader,
		FailOpen:        a.cfg.Security.FailOpen,
		TrustedNetworks: a.cfg.Security.TrustedNetworks,
		Logger:          a.log,
	}

	if a.cfg.Security.TrustedHeadersEnabled {
		a.log.Warn("Trusted identity headers enabled; protected endpoints accept upstream identity without token checks")
		if len(a.cfg.Security.TrustedNetworks) == 0 {
			a.log.Warn("No trusted networks configured; identity headers are accepted from any peer")
		}
		return pipeline.TrustedInternalChains(components)
	}
	if a.cfg.Security.FailOpen {
		a.log.Warn("Session checks fail open; requests are admitted while the session store is unavailable")
	}
	return pipeline.InternalServiceChains(components), nil
}

func (a *app) setupServer() (*http.Server, error) {
	chains, err := a.chains(ratelimit.New(a.cfg.Security.RateLimitShards))
	if err != nil {
		return nil, err
	}
	dispatcher := pipeline.NewDispatcher(a.resolver, chains, a.log, a.metrics)

	healthHandler := handlers.NewHealthHandler(handlers.HealthDeps{
		SessionStore:    a.store,
		StatefulEnabled: a.cfg.Security.StatefulEnabled,
		Databases: map[string]handlers.Database{
			"postgres": a.postgres,
			"mysql":    a.mysql,
		},
		Policies:        a.resolver,
		Refresher:       a.refresher,
		RefreshInterval: a.cfg.Endpoints.RefreshInterval,
		Keys:            a.keys,
		Metrics:         a.metrics,
	}, prometheus.DefaultGatherer, version, a.log)
	adminHandler := handlers.NewAdminHandler(a.refresher, a.resolver, a.writer, a.log)
	whoamiHandler := handlers.NewWhoAmIHandler(a.log)

	middlewareStack := middleware.NewStack(a.cfg, a.log)

	// Set up routes
	router := mux.NewRouter()

	// Probes and metrics bypass the pipeline
	healthHandler.RegisterRoutes(router)

	// Administrative routes require an authorized ADMIN identity
	internalRouter := router.PathPrefix("/internal").Subrouter()
	internalRouter.Use(dispatcher.Middleware, middlewareStack.RequireRole("ADMIN"))
	adminHandler.RegisterRoutes(internalRouter)

	router.Handle("/api/whoami", dispatcher.Wrap(whoamiHandler)).Methods(http.MethodGet)

	// Apply middleware to the entire router
	finalHandler := middlewareStack.Chain(
		router,
		middlewareStack.Recovery,
		middlewareStack.RequestLogger,
		middlewareStack.SecurityHeaders,
		middlewareStack.CORS,
	)

	return &http.Server{
		Addr:         a.cfg.ServerAddr(),
		Handler:      finalHandler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}, nil
}

func (a *app) close() {
	if a.refresher != nil {
		a.refresher.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Error("Failed to close session store")
		}
	}
	a.postgres.Close()
	a.mysql.Close()
	a.log.Info("Connections closed")
}

func runServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	// Start server in a goroutine
	go startServer(server, cfg, log)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Create context with timeout for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Attempt graceful shutdown
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Server forced to shutdown")
	} else {
		log.Info("Server exited gracefully")
	}
}

func startServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	log.WithFields(logrus.Fields{
		"addr": server.Addr,
		"tls":  cfg.IsTLSEnabled(),
	}).Info("Starting HTTP server")

	var startErr error
	if cfg.IsTLSEnabled() {
		startErr = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
	} else {
		startErr = server.ListenAndServe()
	}

	if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
		log.WithError(startErr).Fatal("Failed to start server")
	}
}
