package ratelimit_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/ratelimit"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCapacityThreeAllowsThreeThenDenies(t *testing.T) {
	clock := newFakeClock()
	l := ratelimit.New(4, ratelimit.WithClock(clock.Now))
	b := l.ResolveBucket("endpoint:1", 3, time.Minute)

	results := make([]bool, 0, 4)
	for i := 0; i < 4; i++ {
		results = append(results, l.TryConsume(b, 1))
	}

	assert.Equal(t, []bool{true, true, true, false}, results)
	assert.Equal(t, 0, b.Remaining())
}

func TestBucketRefillsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := ratelimit.New(4, ratelimit.WithClock(clock.Now))
	b := l.ResolveBucket("endpoint:2", 2, 10*time.Second)

	require.True(t, b.TryConsume(1))
	require.True(t, b.TryConsume(1))
	require.False(t, b.TryConsume(1))

	clock.Advance(9 * time.Second)
	assert.False(t, b.TryConsume(1), "no refill before the window elapses")

	clock.Advance(time.Second)
	assert.Equal(t, 2, b.Remaining())
	assert.True(t, b.TryConsume(1))
	assert.Equal(t, clock.Now().Add(10*time.Second), b.ResetAt())
}

func TestBucketResetAlignsToWindow(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	l := ratelimit.New(1, ratelimit.WithClock(clock.Now))
	b := l.ResolveBucket("k", 1, 10*time.Second)

	assert.Equal(t, start.Add(10*time.Second), b.ResetAt())

	clock.Advance(25 * time.Second)
	assert.Equal(t, start.Add(30*time.Second), b.ResetAt())
}

func TestTryConsumeWithCost(t *testing.T) {
	l := ratelimit.New(1)
	b := l.ResolveBucket("bulk", 5, time.Minute)

	assert.True(t, b.TryConsume(3))
	assert.False(t, b.TryConsume(3))
	assert.True(t, b.TryConsume(2))
	assert.Equal(t, 0, b.Remaining())
}

func TestResolveBucketIsIdempotent(t *testing.T) {
	l := ratelimit.New(8)

	first := l.ResolveBucket("endpoint:9", 10, time.Minute)
	second := l.ResolveBucket("endpoint:9", 10, time.Minute)
	other := l.ResolveBucket("endpoint:10", 10, time.Minute)

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, l.Len())
}

func TestResolveBucketConcurrentCreation(t *testing.T) {
	l := ratelimit.New(8)
	const workers = 64

	buckets := make([]*ratelimit.Bucket, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			buckets[i] = l.ResolveBucket("endpoint:hot", 100, time.Minute)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, b := range buckets {
		assert.Same(t, buckets[0], b)
	}
	assert.Equal(t, 1, l.Len())
}

func TestConcurrentConsumeNeverOverspends(t *testing.T) {
	clock := newFakeClock()
	l := ratelimit.New(4, ratelimit.WithClock(clock.Now))
	const capacity = 50

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("endpoint:race", capacity, time.Minute).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(capacity), allowed.Load())
}

func TestAllowDecision(t *testing.T) {
	clock := newFakeClock()
	l := ratelimit.New(4, ratelimit.WithClock(clock.Now))

	d := l.Allow("endpoint:3", 2, time.Minute)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Limit)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)

	l.Allow("endpoint:3", 2, time.Minute)
	d = l.Allow("endpoint:3", 2, time.Minute)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestResolveBucketAppliesNewPolicy(t *testing.T) {
	l := ratelimit.New(4)
	b := l.ResolveBucket("endpoint:4", 5, time.Minute)
	require.True(t, b.TryConsume(2))

	same := l.ResolveBucket("endpoint:4", 3, time.Minute)

	assert.Same(t, b, same)
	assert.Equal(t, 3, same.Capacity())
	assert.Equal(t, 1, same.Remaining())
}
