package content

import (
	"slices"
	"sync"
	"time"
)

// ttlCache holds (timestamp, value) pairs that expire purely by age.
type ttlCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]ttlEntry[T]
}

type ttlEntry[T any] struct {
	at    time.Time
	value []T
}

func newTTLCache[T any](ttl time.Duration, now func() time.Time) *ttlCache[T] {
	return &ttlCache[T]{ttl: ttl, now: now, entries: make(map[string]ttlEntry[T])}
}

// get returns a copy of a fresh entry.
func (c *ttlCache[T]) get(key string) ([]T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.at) >= c.ttl {
		return nil, false
	}
	return slices.Clone(e.value), true
}

func (c *ttlCache[T]) put(key string, value []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry[T]{at: c.now(), value: slices.Clone(value)}
}
