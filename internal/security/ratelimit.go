package security

import (
	"fmt"
	"time"

	"licensegate/internal/config"
)

// EndpointClass names a group of endpoints sharing one rate budget.
type EndpointClass string

const (
	ClassValidate   EndpointClass = "validate"
	ClassDeactivate EndpointClass = "deactivate"
	ClassDownload   EndpointClass = "download"
)

// RateInfo exposes the current window state for response headers.
type RateInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// RateLimiter implements fixed-window counting per (endpoint-class,
// identifier). Windows self-expire in the counter store; a brief race
// at a window boundary letting an extra request through is acceptable.
type RateLimiter struct {
	store  CounterStore
	limits map[EndpointClass]config.WindowLimit
	// fallback is the conservative default for unknown classes.
	fallback config.WindowLimit
}

// NewRateLimiter builds a limiter over the shared counter store.
func NewRateLimiter(store CounterStore, cfg config.RateLimitConfig) *RateLimiter {
	fallback := cfg.Default
	if fallback.Limit == 0 {
		fallback = config.WindowLimit{Limit: 30, Window: time.Minute}
	}
	return &RateLimiter{
		store: store,
		limits: map[EndpointClass]config.WindowLimit{
			ClassValidate:   orDefault(cfg.Validate, fallback),
			ClassDeactivate: orDefault(cfg.Deactivate, fallback),
			ClassDownload:   orDefault(cfg.Download, fallback),
		},
		fallback: fallback,
	}
}

func orDefault(wl, fallback config.WindowLimit) config.WindowLimit {
	if wl.Limit == 0 || wl.Window == 0 {
		return fallback
	}
	return wl
}

func (rl *RateLimiter) limitFor(class EndpointClass) config.WindowLimit {
	if wl, ok := rl.limits[class]; ok {
		return wl
	}
	return rl.fallback
}

func windowKey(class EndpointClass, identifier string) string {
	return fmt.Sprintf("rate:%s:%s", class, identifier)
}

// Record increments the window's counter, creating it with a fresh
// expiry if absent.
func (rl *RateLimiter) Record(class EndpointClass, identifier string) {
	wl := rl.limitFor(class)
	rl.store.Incr(windowKey(class, identifier), wl.Window)
}

// IsLimited reports whether the window is exhausted: the count has
// passed the limit. Callers record first, then check, so the request
// that pushes the count past the limit is the first one rejected.
func (rl *RateLimiter) IsLimited(class EndpointClass, identifier string) bool {
	count, _ := rl.store.Get(windowKey(class, identifier))
	return count > rl.limitFor(class).Limit
}

// Info exposes {limit, remaining, reset} for response headers. A reset
// of zero time means no window is open yet; callers substitute
// now+window.
func (rl *RateLimiter) Info(class EndpointClass, identifier string) RateInfo {
	wl := rl.limitFor(class)
	count, expires := rl.store.Get(windowKey(class, identifier))
	remaining := wl.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	if expires.IsZero() {
		expires = time.Now().Add(wl.Window)
	}
	return RateInfo{Limit: wl.Limit, Remaining: remaining, Reset: expires}
}

// Clear removes a window early (administrative override, tests).
func (rl *RateLimiter) Clear(class EndpointClass, identifier string) {
	rl.store.Delete(windowKey(class, identifier))
}
