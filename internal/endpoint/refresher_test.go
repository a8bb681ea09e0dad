package endpoint_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/endpoint"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// scriptedSource fails while fail is set and counts loads.
type scriptedSource struct {
	entries []models.EndpointConfig
	fail    atomic.Bool
	loads   atomic.Int32
}

func (s *scriptedSource) Load(_ context.Context) ([]models.EndpointConfig, error) {
	s.loads.Add(1)
	if s.fail.Load() {
		return nil, errors.New("registry unreachable")
	}
	return s.entries, nil
}

func (s *scriptedSource) Name() string { return "scripted" }

func TestRefresherKeepsLastGoodSnapshot(t *testing.T) {
	src := &scriptedSource{entries: []models.EndpointConfig{
		entry(1, "/api/**", models.MethodAll, models.SecurityTokenProtected),
	}}
	r := newResolver()
	refresher := endpoint.NewRefresher(src, r, 0, time.Second, newTestLogger(), nil)

	require.NoError(t, refresher.Refresh(context.Background()))
	status := refresher.Status()
	assert.Equal(t, uint64(1), status.Version)
	assert.Equal(t, 1, status.Entries)
	assert.Empty(t, status.LastError)

	src.fail.Store(true)
	err := refresher.Refresh(context.Background())
	require.Error(t, err)

	status = refresher.Status()
	assert.Equal(t, uint64(1), status.Version)
	assert.Equal(t, "registry unreachable", status.LastError)
	assert.Equal(t, int64(1), r.Resolve("/api/orders", "GET").ID)
}

func TestRefresherRejectsInvalidEntries(t *testing.T) {
	src := &scriptedSource{entries: []models.EndpointConfig{
		entry(1, "no-slash", models.MethodAll, models.SecurityPublic),
	}}
	r := newResolver()
	refresher := endpoint.NewRefresher(src, r, 0, time.Second, newTestLogger(), nil)

	err := refresher.Refresh(context.Background())

	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.Nil(t, r.Snapshot())
}

func TestRefresherStartStop(t *testing.T) {
	src := &scriptedSource{entries: []models.EndpointConfig{
		entry(1, "/api/**", models.MethodAll, models.SecurityPublic),
	}}
	r := newResolver()
	refresher := endpoint.NewRefresher(src, r, 10*time.Millisecond, time.Second, newTestLogger(), nil)

	require.NoError(t, refresher.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return src.loads.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	refresher.Stop()
	loads := src.loads.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, loads, src.loads.Load())
	assert.GreaterOrEqual(t, r.Snapshot().Version, uint64(3))

	refresher.Stop()
}
