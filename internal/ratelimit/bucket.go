package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// WouldBlockError is returned by TryAcquire when tokens are not available
type WouldBlockError struct {
	Wait time.Duration
}

func (e *WouldBlockError) Error() string {
	return fmt.Sprintf("rate limited: retry in %s", e.Wait)
}

// Limiter is a token gate in front of the outbound transport
type Limiter interface {
	TryAcquire(cost float64) error
	Acquire(ctx context.Context, cost float64) error
	Throttle(retryAfter time.Duration)
	ResetBackoff()
}

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
	// After behaves like time.After
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config configures a bucket
type Config struct {
	Name     string
	Capacity float64
	// Rate is the refill rate in tokens per second
	Rate float64
}

// PerInterval builds a config that refills limit tokens every interval
func PerInterval(name string, limit int, interval time.Duration) Config {
	return Config{
		Name:     name,
		Capacity: float64(limit),
		Rate:     float64(limit) / interval.Seconds(),
	}
}

// Bucket is a token bucket with reactive backoff
type Bucket struct {
	mu           sync.Mutex
	name         string
	capacity     float64
	rate         float64
	tokens       float64
	lastRefill   time.Time
	blockedUntil time.Time
	clock        Clock
}

// Option customizes a Bucket
type Option func(*Bucket)

// WithClock overrides the time source
func WithClock(c Clock) Option {
	return func(b *Bucket) {
		b.clock = c
	}
}

// NewBucket creates a bucket that starts full
func NewBucket(config Config, opts ...Option) (*Bucket, error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("bucket %q: capacity must be positive", config.Name)
	}
	if config.Rate <= 0 {
		return nil, fmt.Errorf("bucket %q: rate must be positive", config.Name)
	}

	b := &Bucket{
		name:     config.Name,
		capacity: config.Capacity,
		rate:     config.Rate,
		tokens:   config.Capacity,
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = b.clock.Now()
	return b, nil
}

// Name returns the bucket name
func (b *Bucket) Name() string {
	return b.name
}

// Tokens returns the currently available tokens
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clock.Now())
	return b.tokens
}

// TryAcquire takes cost tokens or returns a *WouldBlockError with the wait
// needed before a retry can succeed
func (b *Bucket) TryAcquire(cost float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if wait := b.waitLocked(cost); wait > 0 {
		return &WouldBlockError{Wait: wait}
	}
	b.tokens -= cost
	return nil
}

// Acquire blocks until cost tokens are taken or ctx is done
func (b *Bucket) Acquire(ctx context.Context, cost float64) error {
	if cost > b.capacity {
		return fmt.Errorf("bucket %q: cost %.2f exceeds capacity %.2f", b.name, cost, b.capacity)
	}
	for {
		err := b.TryAcquire(cost)
		if err == nil {
			return nil
		}
		wb, ok := err.(*WouldBlockError)
		if !ok {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(wb.Wait):
		}
	}
}

// Throttle zeroes the bucket and suspends refill for retryAfter. Refill
// resumes so that one token is available when the backoff ends.
func (b *Bucket) Throttle(retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until := b.clock.Now().Add(retryAfter)
	if until.After(b.blockedUntil) {
		b.blockedUntil = until
	}
	b.tokens = 0
	b.lastRefill = b.blockedUntil.Add(-b.tokenInterval())
}

// ResetBackoff clears any reactive backoff
func (b *Bucket) ResetBackoff() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockedUntil = time.Time{}
	if now := b.clock.Now(); b.lastRefill.After(now) {
		b.lastRefill = now
	}
}

// BlockedUntil returns the end of the current backoff, zero when none
func (b *Bucket) BlockedUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockedUntil
}

func (b *Bucket) waitLocked(cost float64) time.Duration {
	now := b.clock.Now()
	if now.Before(b.blockedUntil) {
		return b.blockedUntil.Sub(now)
	}
	b.refillLocked(now)
	if b.tokens >= cost {
		return 0
	}
	seconds := (cost - b.tokens) / b.rate
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

func (b *Bucket) tokenInterval() time.Duration {
	return time.Duration(float64(time.Second) / b.rate)
}

func (b *Bucket) refillLocked(now time.Time) {
	if !now.After(b.lastRefill) {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+now.Sub(b.lastRefill).Seconds()*b.rate)
	b.lastRefill = now
}
