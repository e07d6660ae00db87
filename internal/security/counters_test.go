package security

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newStoppedStore(t *testing.T) *MemoryCounterStore {
	t.Helper()
	s := NewMemoryCounterStore()
	t.Cleanup(s.Stop)
	return s
}

func TestCounterIncrAndGet(t *testing.T) {
	s := newStoppedStore(t)

	count, expires := s.Incr("k", time.Minute)
	assert.Equal(t, 1, count)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expires, 2*time.Second)

	count, _ = s.Incr("k", time.Minute)
	assert.Equal(t, 2, count)

	count, _ = s.Get("k")
	assert.Equal(t, 2, count)

	count, expires = s.Get("absent")
	assert.Zero(t, count)
	assert.True(t, expires.IsZero())
}

func TestCounterExpiry(t *testing.T) {
	s := newStoppedStore(t)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	s.Incr("k", time.Minute)
	s.Incr("k", time.Minute)

	current = current.Add(59 * time.Second)
	count, _ := s.Get("k")
	assert.Equal(t, 2, count, "still inside the ttl")

	current = current.Add(2 * time.Second)
	count, _ = s.Get("k")
	assert.Zero(t, count, "expired counters read as absent")

	// A fresh increment starts a new window from 1.
	count, _ = s.Incr("k", time.Minute)
	assert.Equal(t, 1, count)
}

func TestCounterSetAndDelete(t *testing.T) {
	s := newStoppedStore(t)

	s.Set("k", 7, time.Minute)
	count, _ := s.Get("k")
	assert.Equal(t, 7, count)

	s.Delete("k")
	count, _ = s.Get("k")
	assert.Zero(t, count)
}

func TestCounterConcurrentIncr(t *testing.T) {
	s := newStoppedStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Incr("shared", time.Minute)
			}
		}()
	}
	wg.Wait()

	count, _ := s.Get("shared")
	assert.Equal(t, 1000, count)
}
