// Package metrics holds the Prometheus collectors of the gatekeeper service.
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gatekeeper"

// Metrics holds Prometheus metrics for monitoring.
type Metrics struct {
	// Pipeline metrics
	PipelineDecisions *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec

	// Session store metrics
	SessionLookups        *prometheus.CounterVec
	SessionLookupDuration prometheus.Histogram

	// Endpoint policy metrics
	EndpointRefreshes *prometheus.CounterVec
	EndpointEntries   prometheus.Gauge

	// Health metrics
	HealthChecksTotal     *prometheus.CounterVec
	ComponentHealthStatus *prometheus.GaugeVec
}

// New creates the collectors without registering them.
func New() *Metrics {
	return &Metrics{
		PipelineDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_decisions_total",
				Help:      "Total number of pipeline decisions by terminal state",
			},
			[]string{"state", "security_type"},
		),
		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Time spent in the authorization pipeline",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"security_type"},
		),
		SessionLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_lookups_total",
				Help:      "Total number of session lookups by result",
			},
			[]string{"result"},
		),
		SessionLookupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_lookup_duration_seconds",
				Help:      "Session store lookup latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		EndpointRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "endpoint_refresh_total",
				Help:      "Total number of endpoint policy refreshes by result",
			},
			[]string{"result"},
		),
		EndpointEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "endpoint_snapshot_entries",
				Help:      "Number of entries in the active endpoint policy snapshot",
			},
		),
		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Total number of health checks",
			},
			[]string{"endpoint", "status"},
		),
		ComponentHealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_health_status",
				Help:      "Health status of service components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.PipelineDecisions,
		m.PipelineDuration,
		m.SessionLookups,
		m.SessionLookupDuration,
		m.EndpointRefreshes,
		m.EndpointEntries,
		m.HealthChecksTotal,
		m.ComponentHealthStatus,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveDecision records a terminal pipeline decision.
func (m *Metrics) ObserveDecision(state, securityType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDecisions.WithLabelValues(state, securityType).Inc()
	m.PipelineDuration.WithLabelValues(securityType).Observe(elapsed.Seconds())
}

// ObserveSessionLookup records one session store call.
func (m *Metrics) ObserveSessionLookup(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SessionLookups.WithLabelValues(result).Inc()
	m.SessionLookupDuration.Observe(elapsed.Seconds())
}

// ObserveRefresh records an endpoint policy refresh.
func (m *Metrics) ObserveRefresh(result string, entries int) {
	if m == nil {
		return
	}
	m.EndpointRefreshes.WithLabelValues(result).Inc()
	if result == "success" {
		m.EndpointEntries.Set(float64(entries))
	}
}

// ObserveHealth records a health check and the per-component status.
func (m *Metrics) ObserveHealth(endpoint, status string, components map[string]bool) {
	if m == nil {
		return
	}
	m.HealthChecksTotal.WithLabelValues(endpoint, status).Inc()
	for component, healthy := range components {
		value := float64(0)
		if healthy {
			value = 1
		}
		m.ComponentHealthStatus.WithLabelValues(component).Set(value)
	}
}
