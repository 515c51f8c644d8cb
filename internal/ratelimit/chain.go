package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Chain gates on several buckets at once, e.g. a per-minute burst bucket in
// front of a per-hour bucket. Tokens are taken from all buckets or none.
type Chain struct {
	buckets []*Bucket
	clock   Clock
}

// NewChain creates a chain over buckets
func NewChain(buckets ...*Bucket) *Chain {
	return &Chain{buckets: buckets, clock: realClock{}}
}

// WithChainClock sets the clock used for waiting
func (c *Chain) WithChainClock(clock Clock) *Chain {
	c.clock = clock
	return c
}

// Buckets returns the chained buckets
func (c *Chain) Buckets() []*Bucket {
	return c.buckets
}

// TryAcquire takes cost from every bucket, rolling back on the first refusal.
// The returned wait is the longest wait among refusing buckets.
func (c *Chain) TryAcquire(cost float64) error {
	var longest time.Duration
	for i, b := range c.buckets {
		err := b.TryAcquire(cost)
		if err == nil {
			continue
		}
		var wb *WouldBlockError
		if !errors.As(err, &wb) {
			c.refund(i, cost)
			return err
		}
		if wb.Wait > longest {
			longest = wb.Wait
		}
		c.refund(i, cost)
		// collect the remaining waits without taking tokens
		for _, rest := range c.buckets[i+1:] {
			rest.mu.Lock()
			if w := rest.waitLocked(cost); w > longest {
				longest = w
			}
			rest.mu.Unlock()
		}
		return &WouldBlockError{Wait: longest}
	}
	return nil
}

func (c *Chain) refund(upTo int, cost float64) {
	for _, b := range c.buckets[:upTo] {
		b.mu.Lock()
		b.tokens += cost
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.mu.Unlock()
	}
}

// Acquire blocks until every bucket grants cost or ctx is done
func (c *Chain) Acquire(ctx context.Context, cost float64) error {
	for _, b := range c.buckets {
		if cost > b.capacity {
			return fmt.Errorf("bucket %q: cost %.2f exceeds capacity %.2f", b.name, cost, b.capacity)
		}
	}
	for {
		err := c.TryAcquire(cost)
		if err == nil {
			return nil
		}
		var wb *WouldBlockError
		if !errors.As(err, &wb) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(wb.Wait):
		}
	}
}

// Throttle applies the backoff to every bucket
func (c *Chain) Throttle(retryAfter time.Duration) {
	for _, b := range c.buckets {
		b.Throttle(retryAfter)
	}
}

// ResetBackoff clears backoff on every bucket
func (c *Chain) ResetBackoff() {
	for _, b := range c.buckets {
		b.ResetBackoff()
	}
}
