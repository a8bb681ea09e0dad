// Package endpoint resolves the security policy of a request from an ordered
// list of endpoint configurations. The list is held in an immutable snapshot
// that refreshes replace atomically, so lookups never lock.
package endpoint

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// Snapshot is an immutable, ordered view of the endpoint policies.
type Snapshot struct {
	// Version increases by one with every successful swap.
	Version uint64
	// LoadedAt is when the snapshot was built.
	LoadedAt time.Time

	entries []compiledEntry
}

type compiledEntry struct {
	config  models.EndpointConfig
	pattern *Pattern
}

// Len returns the number of entries, inactive ones included.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns a copy of the entries in match order.
func (s *Snapshot) Entries() []models.EndpointConfig {
	if s == nil {
		return nil
	}
	out := make([]models.EndpointConfig, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.config
	}
	return out
}

// Resolver maps a request path and method to its EndpointConfig.
type Resolver struct {
	snapshot atomic.Pointer[Snapshot]
	fallback models.EndpointConfig
	logger   *logrus.Logger
}

// NewResolver creates a resolver with no snapshot loaded. Until the first
// Swap, every request resolves to the fallback policy forced to
// TOKEN_PROTECTED so an unloaded resolver never opens protected routes.
func NewResolver(fallback models.EndpointConfig, logger *logrus.Logger) *Resolver {
	fallback.Synthetic = true
	return &Resolver{fallback: fallback, logger: logger}
}

// Resolve returns the first active entry, in list order, whose method and
// pattern both match. Without a match it returns the default policy.
func (r *Resolver) Resolve(path, method string) models.EndpointConfig {
	snap := r.snapshot.Load()
	if snap == nil {
		cold := r.fallback
		cold.SecurityType = models.SecurityTokenProtected
		return cold
	}
	for _, e := range snap.entries {
		if !e.config.IsActive || !e.config.MatchesMethod(method) {
			continue
		}
		if e.pattern.Match(path) {
			return e.config
		}
	}
	return r.fallback
}

// Swap validates and compiles entries and installs them as the new snapshot.
// On error the current snapshot stays in place.
func (r *Resolver) Swap(entries []models.EndpointConfig) (*Snapshot, error) {
	compiled := make([]compiledEntry, 0, len(entries))
	var errs models.ValidationErrors
	for i, cfg := range entries {
		cfg.HTTPMethod = strings.ToUpper(strings.TrimSpace(cfg.HTTPMethod))
		if st, ok := models.ParseSecurityType(string(cfg.SecurityType)); ok {
			cfg.SecurityType = st
		}
		for _, verr := range cfg.Validate() {
			verr.Field = fmt.Sprintf("endpoints[%d].%s", i, verr.Field)
			errs = append(errs, verr)
		}
		if errs.HasErrors() {
			continue
		}
		pattern, err := CompilePattern(cfg.PathPattern)
		if err != nil {
			errs = append(errs, models.ValidationError{
				Field:   fmt.Sprintf("endpoints[%d].path_pattern", i),
				Message: err.Error(),
			})
			continue
		}
		cfg.Synthetic = false
		compiled = append(compiled, compiledEntry{config: cfg, pattern: pattern})
	}
	if errs.HasErrors() {
		return nil, fmt.Errorf("%w: %w", models.ErrConfiguration, errs)
	}

	for {
		current := r.snapshot.Load()
		next := &Snapshot{LoadedAt: time.Now(), entries: compiled}
		if current != nil {
			next.Version = current.Version + 1
		} else {
			next.Version = 1
		}
		if r.snapshot.CompareAndSwap(current, next) {
			if r.logger != nil {
				r.logger.WithFields(logrus.Fields{
					"version": next.Version,
					"entries": len(compiled),
				}).Info("Endpoint policy snapshot installed")
			}
			return next, nil
		}
	}
}

// Snapshot returns the active snapshot, or nil before the first load.
func (r *Resolver) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Default returns the fallback policy used when nothing matches.
func (r *Resolver) Default() models.EndpointConfig {
	return r.fallback
}
