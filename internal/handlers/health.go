package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/endpoint"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/metrics"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/token"
)

const (
	// HealthCheckTimeout is the default timeout for health check operations.
	HealthCheckTimeout = 5 * time.Second
	// SlowCheckThreshold marks a dependency as degraded when a ping takes longer.
	SlowCheckThreshold = time.Second
	// StalePolicyFactor marks the policy snapshot stale after this many missed refreshes.
	StalePolicyFactor = 3
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy HealthStatus = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusDegraded indicates the component has degraded performance.
	StatusDegraded HealthStatus = "degraded"
)

// HealthResponse represents the overall health check response.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Details    map[string]interface{}     `json:"details,omitempty"`
}

// ComponentHealth represents the health of an individual component.
type ComponentHealth struct {
	Status       HealthStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
	LastChecked  time.Time    `json:"last_checked"`
	ResponseTime string       `json:"response_time,omitempty"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Ready      bool                       `json:"ready"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Pinger is a dependency that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database is an optional database behind a connection manager.
type Database interface {
	Pinger
	IsConfigured() bool
}

// RefreshReporter reports the endpoint policy refresher state.
type RefreshReporter interface {
	Status() endpoint.RefreshStatus
}

// HealthDeps are the components the health handler inspects. Nil fields are
// reported as not configured.
type HealthDeps struct {
	// SessionStore is required for readiness when StatefulEnabled is set.
	SessionStore    Pinger
	StatefulEnabled bool
	// Databases are optional; an outage degrades health but not readiness.
	Databases       map[string]Database
	Policies        SnapshotSource
	Refresher       RefreshReporter
	// RefreshInterval is used to detect a stale policy snapshot.
	RefreshInterval time.Duration
	Keys            *token.Keyring
	Metrics         *metrics.Metrics
}

// HealthHandler provides health check and monitoring endpoints.
type HealthHandler struct {
	deps      HealthDeps
	logger    *logrus.Logger
	gatherer  prometheus.Gatherer
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health check handler. Metrics are served
// from gatherer.
func NewHealthHandler(deps HealthDeps, gatherer prometheus.Gatherer, version string, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		deps:      deps,
		logger:    logger,
		gatherer:  gatherer,
		startTime: time.Now(),
		version:   version,
	}
}

// RegisterRoutes registers health check and monitoring endpoints.
func (h *HealthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/live", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.Readiness).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Health provides a comprehensive health check including all components.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	components := make(map[string]ComponentHealth)
	overallStatus := StatusHealthy

	critical := map[string]ComponentHealth{
		"session_store": h.checkSessionStore(ctx),
		"policies":      h.checkPolicies(),
		"keys":          h.checkKeys(),
	}
	for name, health := range critical {
		components[name] = health
		overallStatus = worse(overallStatus, health.Status)
	}

	for name, db := range h.deps.Databases {
		health := h.checkDatabase(ctx, name, db)
		components[name] = health
		if health.Status != StatusHealthy && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	healthy := make(map[string]bool, len(components))
	for name, c := range components {
		healthy[name] = c.Status == StatusHealthy
	}
	h.deps.Metrics.ObserveHealth("health", string(overallStatus), healthy)

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
		Components: components,
		Details: map[string]interface{}{
			"check_duration": time.Since(start).String(),
		},
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, h.logger, response, statusCode)

	h.logger.WithFields(logrus.Fields{
		"status":   overallStatus,
		"duration": time.Since(start).String(),
	}).Debug("Health check completed")
}

// Liveness provides a simple liveness check that returns 200 if the service is alive.
// This is used by Kubernetes to determine if the pod should be restarted.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	h.deps.Metrics.ObserveHealth("liveness", "healthy", nil)

	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	}
	writeJSONResponse(w, h.logger, response, http.StatusOK)
}

// Readiness reports whether the pipeline can decide requests: policies and
// keys are loaded and, with stateful checks on, the session store answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	components := map[string]ComponentHealth{
		"session_store": h.checkSessionStore(r.Context()),
		"policies":      h.checkPolicies(),
		"keys":          h.checkKeys(),
	}

	ready := true
	for _, c := range components {
		if c.Status == StatusUnhealthy {
			ready = false
		}
	}

	statusLabel := "ready"
	statusCode := http.StatusOK
	if !ready {
		statusLabel = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}
	h.deps.Metrics.ObserveHealth("readiness", statusLabel, nil)

	writeJSONResponse(w, h.logger, ReadinessResponse{
		Ready:      ready,
		Timestamp:  time.Now(),
		Components: components,
	}, statusCode)
}

// checkSessionStore pings the session store used by stateful checks.
func (h *HealthHandler) checkSessionStore(ctx context.Context) ComponentHealth {
	if !h.deps.StatefulEnabled {
		return ComponentHealth{
			Status:      StatusHealthy,
			Message:     "Stateful session checks disabled",
			LastChecked: time.Now(),
		}
	}
	if h.deps.SessionStore == nil {
		return ComponentHealth{
			Status:      StatusUnhealthy,
			Message:     "Session store not configured",
			LastChecked: time.Now(),
		}
	}
	return h.ping(ctx, "Session store", h.deps.SessionStore, StatusUnhealthy)
}

// checkDatabase pings an optional database.
func (h *HealthHandler) checkDatabase(ctx context.Context, name string, db Database) ComponentHealth {
	if !db.IsConfigured() {
		return ComponentHealth{
			Status:      StatusHealthy,
			Message:     name + " not configured (optional)",
			LastChecked: time.Now(),
		}
	}
	return h.ping(ctx, name, db, StatusUnhealthy)
}

func (h *HealthHandler) ping(ctx context.Context, name string, p Pinger, failed HealthStatus) ComponentHealth {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := p.Ping(checkCtx)
	duration := time.Since(start)

	if err != nil {
		h.logger.WithError(err).WithField("component", name).Warn("Health check failed")
		return ComponentHealth{
			Status:       failed,
			Message:      name + " connection failed: " + err.Error(),
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	status := StatusHealthy
	message := name + " is healthy"
	if duration > SlowCheckThreshold {
		status = StatusDegraded
		message = name + " response time is slow"
	}

	return ComponentHealth{
		Status:       status,
		Message:      message,
		LastChecked:  time.Now(),
		ResponseTime: duration.String(),
	}
}

// checkPolicies reports whether a policy snapshot is loaded and fresh.
func (h *HealthHandler) checkPolicies() ComponentHealth {
	now := time.Now()
	if h.deps.Policies == nil || h.deps.Policies.Snapshot() == nil {
		return ComponentHealth{
			Status:      StatusUnhealthy,
			Message:     "No endpoint policies loaded; protected routes fail closed",
			LastChecked: now,
		}
	}

	if h.deps.Refresher != nil {
		status := h.deps.Refresher.Status()
		if status.LastError != "" {
			stale := h.deps.RefreshInterval > 0 &&
				now.Sub(status.LastSuccess) > StalePolicyFactor*h.deps.RefreshInterval
			if stale {
				return ComponentHealth{
					Status:      StatusDegraded,
					Message:     "Endpoint policies are stale: " + status.LastError,
					LastChecked: now,
				}
			}
		}
	}

	return ComponentHealth{
		Status:      StatusHealthy,
		Message:     "Endpoint policies loaded",
		LastChecked: now,
	}
}

// checkKeys reports whether tokens can be verified and opened.
func (h *HealthHandler) checkKeys() ComponentHealth {
	now := time.Now()
	if h.deps.Keys == nil {
		return ComponentHealth{Status: StatusUnhealthy, Message: "No key material loaded", LastChecked: now}
	}

	keys := h.deps.Keys.Current()
	if keys == nil || keys.SignaturePublic == nil {
		return ComponentHealth{Status: StatusUnhealthy, Message: "Signature public key missing", LastChecked: now}
	}
	if !keys.CanDecrypt() {
		return ComponentHealth{Status: StatusHealthy, Message: "Signature key loaded, encryption key absent", LastChecked: now}
	}
	return ComponentHealth{Status: StatusHealthy, Message: "Key material loaded", LastChecked: now}
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
