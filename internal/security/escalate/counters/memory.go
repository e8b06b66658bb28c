package counters

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local counter store. State does not survive
// restarts and is not shared across instances; use RedisStore in production.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter

	// now is injectable for window-expiry tests.
	now func() time.Time
}

type windowCounter struct {
	value     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*windowCounter),
		now:      time.Now,
	}
}

// SetClock overrides the store's clock. Test use only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// IncrementWithExpiry increments the counter, creating it with the given
// TTL when absent or expired.
func (s *MemoryStore) IncrementWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &windowCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.value++
	return c.value, nil
}
