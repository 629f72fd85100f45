package limiter

import (
	"context"
	"sync"
	"time"
)

// DailyCounter is the daily email budget. Reserve atomically claims
// min(n, remaining) against the limit for the current UTC day and returns
// how much was granted. Release refunds a failed reservation. The interface
// exists so multi-process deployments can swap the in-memory backend for
// Redis without changing admission semantics.
type DailyCounter interface {
	Reserve(ctx context.Context, key string, n, limit int) (int, error)
	Release(ctx context.Context, key string, n int)
	Used(ctx context.Context, key string) (int, error)
}

// MemoryCounter is the single-process default.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*dayBucket
}

type dayBucket struct {
	day  time.Time
	used int
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*dayBucket)}
}

func (c *MemoryCounter) bucket(key string) *dayBucket {
	today := midnightUTC(time.Now())
	b, ok := c.buckets[key]
	if !ok || !b.day.Equal(today) {
		b = &dayBucket{day: today}
		c.buckets[key] = b
	}
	return b
}

func (c *MemoryCounter) Reserve(ctx context.Context, key string, n, limit int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.bucket(key)
	remaining := limit - b.used
	if remaining <= 0 {
		return 0, nil
	}
	granted := n
	if granted > remaining {
		granted = remaining
	}
	b.used += granted
	return granted, nil
}

func (c *MemoryCounter) Release(ctx context.Context, key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.bucket(key)
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
}

func (c *MemoryCounter) Used(ctx context.Context, key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bucket(key).used, nil
}

// Sweep drops buckets from previous days.
func (c *MemoryCounter) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	today := midnightUTC(time.Now())
	for key, b := range c.buckets {
		if !b.day.Equal(today) {
			delete(c.buckets, key)
		}
	}
}
