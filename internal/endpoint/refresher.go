package endpoint

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/metrics"
)

// RefreshStatus describes the outcome of the most recent refreshes.
type RefreshStatus struct {
	Source      string    `json:"source"`
	Version     uint64    `json:"version"`
	Entries     int       `json:"entries"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Refresher periodically reloads a Source into a Resolver. A failed load
// keeps the last good snapshot.
type Refresher struct {
	source   Source
	resolver *Resolver
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	loadMu   sync.Mutex
	statusMu sync.RWMutex
	status   RefreshStatus

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a refresher. An interval of zero disables periodic
// reloads; Refresh can still be called explicitly.
func NewRefresher(
	source Source,
	resolver *Resolver,
	interval, timeout time.Duration,
	logger *logrus.Logger,
	m *metrics.Metrics,
) *Refresher {
	return &Refresher{
		source:   source,
		resolver: resolver,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
		status:   RefreshStatus{Source: source.Name()},
	}
}

// Refresh loads the source once and swaps the snapshot on success.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	attempt := time.Now()

	entries, err := r.source.Load(ctx)
	if err == nil {
		var snap *Snapshot
		snap, err = r.resolver.Swap(entries)
		if err == nil {
			r.statusMu.Lock()
			r.status.LastAttempt = attempt
			r.status.Version = snap.Version
			r.status.Entries = snap.Len()
			r.status.LastSuccess = snap.LoadedAt
			r.status.LastError = ""
			r.statusMu.Unlock()
			r.metrics.ObserveRefresh("success", snap.Len())
			return nil
		}
	}

	r.statusMu.Lock()
	r.status.LastAttempt = attempt
	r.status.LastError = err.Error()
	version := r.status.Version
	r.statusMu.Unlock()

	r.metrics.ObserveRefresh("failure", 0)
	r.logger.WithError(err).WithFields(logrus.Fields{
		"source":  r.source.Name(),
		"version": version,
	}).Warn("Endpoint policy refresh failed, keeping previous snapshot")
	return err
}

// Start performs an initial load and then refreshes on the configured
// interval until Stop is called. The initial load error is returned but does
// not stop the loop.
func (r *Refresher) Start(ctx context.Context) error {
	err := r.Refresh(ctx)
	if r.interval <= 0 {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = r.Refresh(loopCtx)
			}
		}
	}()

	r.logger.WithFields(logrus.Fields{
		"source":   r.source.Name(),
		"interval": r.interval.String(),
	}).Info("Endpoint policy refresher started")
	return err
}

// Stop ends the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}

// Status returns a copy of the current refresh status.
func (r *Refresher) Status() RefreshStatus {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	return r.status
}
