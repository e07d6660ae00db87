package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"licensegate/internal/config"
)

func testRateConfig(limit int) config.RateLimitConfig {
	wl := config.WindowLimit{Limit: limit, Window: time.Minute}
	return config.RateLimitConfig{Validate: wl, Deactivate: wl, Download: wl, Default: wl}
}

func TestRateLimiterBoundary(t *testing.T) {
	s := newStoppedStore(t)
	rl := NewRateLimiter(s, testRateConfig(10))

	// The first ten requests fit the window exactly.
	for i := 0; i < 10; i++ {
		rl.Record(ClassValidate, "203.0.113.9")
		assert.False(t, rl.IsLimited(ClassValidate, "203.0.113.9"),
			"request %d must not be limited", i+1)
	}

	info := rl.Info(ClassValidate, "203.0.113.9")
	assert.Equal(t, 10, info.Limit)
	assert.Zero(t, info.Remaining)

	// The eleventh pushes the count past the limit and is rejected.
	rl.Record(ClassValidate, "203.0.113.9")
	assert.True(t, rl.IsLimited(ClassValidate, "203.0.113.9"))
}

func TestRateLimiterIsolatesIdentifiers(t *testing.T) {
	s := newStoppedStore(t)
	rl := NewRateLimiter(s, testRateConfig(1))

	rl.Record(ClassValidate, "203.0.113.9")
	rl.Record(ClassValidate, "203.0.113.9")
	assert.True(t, rl.IsLimited(ClassValidate, "203.0.113.9"))
	assert.False(t, rl.IsLimited(ClassValidate, "198.51.100.7"))
}

func TestRateLimiterIsolatesClasses(t *testing.T) {
	s := newStoppedStore(t)
	rl := NewRateLimiter(s, testRateConfig(1))

	rl.Record(ClassValidate, "203.0.113.9")
	rl.Record(ClassValidate, "203.0.113.9")
	assert.True(t, rl.IsLimited(ClassValidate, "203.0.113.9"))
	assert.False(t, rl.IsLimited(ClassDownload, "203.0.113.9"),
		"each endpoint class owns its window")
}

func TestRateLimiterWindowReset(t *testing.T) {
	s := newStoppedStore(t)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	rl := NewRateLimiter(s, testRateConfig(1))

	rl.Record(ClassValidate, "203.0.113.9")
	rl.Record(ClassValidate, "203.0.113.9")
	assert.True(t, rl.IsLimited(ClassValidate, "203.0.113.9"))

	current = current.Add(61 * time.Second)
	assert.False(t, rl.IsLimited(ClassValidate, "203.0.113.9"),
		"expired window resets the budget")
}

func TestRateLimiterInfoRemaining(t *testing.T) {
	s := newStoppedStore(t)
	rl := NewRateLimiter(s, testRateConfig(5))

	info := rl.Info(ClassValidate, "203.0.113.9")
	assert.Equal(t, 5, info.Remaining)
	assert.False(t, info.Reset.IsZero(), "reset defaults to now+window before any record")

	rl.Record(ClassValidate, "203.0.113.9")
	rl.Record(ClassValidate, "203.0.113.9")
	info = rl.Info(ClassValidate, "203.0.113.9")
	assert.Equal(t, 3, info.Remaining)

	for i := 0; i < 10; i++ {
		rl.Record(ClassValidate, "203.0.113.9")
	}
	info = rl.Info(ClassValidate, "203.0.113.9")
	assert.Zero(t, info.Remaining, "remaining never goes negative")
}

func TestRateLimiterClear(t *testing.T) {
	s := newStoppedStore(t)
	rl := NewRateLimiter(s, testRateConfig(1))

	rl.Record(ClassValidate, "203.0.113.9")
	rl.Record(ClassValidate, "203.0.113.9")
	assert.True(t, rl.IsLimited(ClassValidate, "203.0.113.9"))

	rl.Clear(ClassValidate, "203.0.113.9")
	assert.False(t, rl.IsLimited(ClassValidate, "203.0.113.9"))
}

func TestRateLimiterFallbackForUnknownClass(t *testing.T) {
	s := newStoppedStore(t)
	rl := NewRateLimiter(s, config.RateLimitConfig{
		Default: config.WindowLimit{Limit: 2, Window: time.Minute},
	})

	unknown := EndpointClass("health")
	rl.Record(unknown, "203.0.113.9")
	rl.Record(unknown, "203.0.113.9")
	assert.False(t, rl.IsLimited(unknown, "203.0.113.9"))
	rl.Record(unknown, "203.0.113.9")
	assert.True(t, rl.IsLimited(unknown, "203.0.113.9"))
}
