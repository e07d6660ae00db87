// Package security provides the abuse-protection layer in front of the
// validation pipeline: a shared TTL counter store, a fixed-window rate
// limiter, and the suspicious-activity guard that auto-blocks scanning
// sources.
package security

import (
	"sync"
	"time"
)

// CounterStore is a key/value store with per-key numeric increment and
// expiry. Both the rate limiter and the guard share one store; the
// counters are best-effort protections, not hard security boundaries.
type CounterStore interface {
	// Incr increments the counter at key, creating it with the given
	// TTL when absent, and returns the new count and expiry time.
	Incr(key string, ttl time.Duration) (int, time.Time)
	// Get returns the current count and expiry; zero when absent or
	// expired.
	Get(key string) (int, time.Time)
	// Set writes an absolute value with its own TTL.
	Set(key string, value int, ttl time.Duration)
	// Delete removes a key early.
	Delete(key string)
}

type counterEntry struct {
	count   int
	expires time.Time
}

// MemoryCounterStore is an in-process CounterStore with self-expiring
// keys and a periodic sweep.
type MemoryCounterStore struct {
	mu       sync.RWMutex
	entries  map[string]*counterEntry
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemoryCounterStore creates a store and starts its cleanup loop.
func NewMemoryCounterStore() *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries:  make(map[string]*counterEntry),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
	go s.cleanup(5 * time.Minute)
	return s
}

func (s *MemoryCounterStore) Incr(key string, ttl time.Duration) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expires) {
		entry = &counterEntry{expires: now.Add(ttl)}
		s.entries[key] = entry
	}
	entry.count++
	return entry.count, entry.expires
}

func (s *MemoryCounterStore) Get(key string) (int, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expires) {
		return 0, time.Time{}
	}
	return entry.count, entry.expires
}

func (s *MemoryCounterStore) Set(key string, value int, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &counterEntry{count: value, expires: s.now().Add(ttl)}
}

func (s *MemoryCounterStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Stop terminates the cleanup goroutine.
func (s *MemoryCounterStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *MemoryCounterStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, entry := range s.entries {
				if now.After(entry.expires) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopChan:
			return
		}
	}
}
