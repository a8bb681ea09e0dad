// Package ratelimit implements per-endpoint token buckets with interval
// refill. Buckets live in process memory, so limits are enforced per
// instance only; a fleet of N instances admits up to N times the capacity.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// DefaultShards is used when New is given a non-positive shard count.
const DefaultShards = 32

// Decision is the outcome of one consume attempt, with the numbers needed for
// rate-limit response headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Bucket is a token bucket that refills to capacity all at once when its
// window has elapsed since the last refill.
type Bucket struct {
	key      string
	mu       sync.Mutex
	capacity int
	window   time.Duration
	tokens   int
	// lastRefill is when tokens were last reset to capacity.
	lastRefill time.Time
	now        func() time.Time
}

func newBucket(key string, capacity int, window time.Duration, now func() time.Time) *Bucket {
	return &Bucket{
		key:        key,
		capacity:   capacity,
		window:     window,
		tokens:     capacity,
		lastRefill: now(),
		now:        now,
	}
}

// Key returns the bucket key.
func (b *Bucket) Key() string {
	return b.key
}

// Capacity returns the maximum number of tokens.
func (b *Bucket) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// TryConsume takes cost tokens if available and reports whether it did.
func (b *Bucket) TryConsume(cost int) bool {
	return b.consume(cost).Allowed
}

// Remaining returns the tokens left after applying any due refill.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.now())
	return b.tokens
}

// ResetAt returns when the bucket next refills.
func (b *Bucket) ResetAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.now())
	return b.lastRefill.Add(b.window)
}

func (b *Bucket) consume(cost int) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	d := Decision{Limit: b.capacity}
	if cost <= b.tokens {
		b.tokens -= cost
		d.Allowed = true
	}
	d.Remaining = b.tokens
	d.ResetAt = b.lastRefill.Add(b.window)
	return d
}

// refill resets tokens when at least one window has passed. Caller holds mu.
func (b *Bucket) refill(now time.Time) {
	if b.window <= 0 {
		return
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.window {
		return
	}
	b.tokens = b.capacity
	// Align to the window grid so ResetAt stays predictable after idle periods.
	b.lastRefill = b.lastRefill.Add(elapsed - elapsed%b.window)
}

// reconfigure applies changed policy numbers, keeping consumed tokens
// consumed. Caller must not hold mu.
func (b *Bucket) reconfigure(capacity int, window time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capacity == capacity && b.window == window {
		return
	}
	used := b.capacity - b.tokens
	b.capacity = capacity
	b.window = window
	b.tokens = max(capacity-used, 0)
}

type shard struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
}

// Limiter owns the buckets of one process.
type Limiter struct {
	shards []*shard
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter with the given number of shards.
func New(shards int, opts ...Option) *Limiter {
	if shards <= 0 {
		shards = DefaultShards
	}
	l := &Limiter{
		shards: make([]*shard, shards),
		now:    time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*Bucket)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ResolveBucket returns the bucket for key, creating it on first use. Under
// concurrent first use exactly one bucket is created and every caller gets
// it. A changed capacity or window is applied to the existing bucket.
func (l *Limiter) ResolveBucket(key string, capacity int, window time.Duration) *Bucket {
	s := l.shardFor(key)

	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		b, ok = s.buckets[key]
		if !ok {
			b = newBucket(key, capacity, window, l.now)
			s.buckets[key] = b
		}
		s.mu.Unlock()
		if !ok {
			return b
		}
	}

	b.reconfigure(capacity, window)
	return b
}

// TryConsume takes cost tokens from b.
func (l *Limiter) TryConsume(b *Bucket, cost int) bool {
	return b.TryConsume(cost)
}

// Allow resolves the bucket for key and consumes one token from it.
func (l *Limiter) Allow(key string, capacity int, window time.Duration) Decision {
	return l.ResolveBucket(key, capacity, window).consume(1)
}

// Len returns the number of buckets across all shards.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.RLock()
		n += len(s.buckets)
		s.mu.RUnlock()
	}
	return n
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}
