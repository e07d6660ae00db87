package security

import (
	"context"
	"log/slog"
	"time"

	"licensegate/internal/config"
	"licensegate/internal/infrastructure"
)

// FailureKind classifies a security-relevant failure recorded against a
// source IP.
type FailureKind string

const (
	FailureMalformedKey    FailureKind = "malformed_key"
	FailureInvalidToken    FailureKind = "invalid_token"
	FailureBadSignature    FailureKind = "bad_signature"
	FailurePolicyViolation FailureKind = "policy_violation"
)

// Guard accumulates security-relevant failures per source IP and
// auto-blocks once the threshold is crossed. The failure counter and
// the block marker have independent lifetimes: the block outlives the
// counter that triggered it.
type Guard struct {
	store     CounterStore
	threshold int
	failTTL   time.Duration
	blockTTL  time.Duration
}

// NewGuard builds a guard over the shared counter store.
func NewGuard(store CounterStore, cfg config.GuardConfig) *Guard {
	return &Guard{
		store:     store,
		threshold: cfg.FailureThreshold,
		failTTL:   cfg.FailureTTL,
		blockTTL:  cfg.BlockDuration,
	}
}

func failureKey(ip string) string { return "guard:fail:" + ip }
func blockKey(ip string) string   { return "guard:block:" + ip }

// IsBlocked reports whether the source IP is currently blocked.
func (g *Guard) IsBlocked(ip string) bool {
	count, _ := g.store.Get(blockKey(ip))
	return count > 0
}

// RecordFailure counts one security-relevant failure against the IP and
// sets the longer-lived block marker once the threshold is reached.
// Returns true when this failure tripped the block.
func (g *Guard) RecordFailure(ctx context.Context, ip string, kind FailureKind) bool {
	count, _ := g.store.Incr(failureKey(ip), g.failTTL)
	if count < g.threshold {
		return false
	}

	g.store.Set(blockKey(ip), 1, g.blockTTL)
	g.store.Delete(failureKey(ip))

	logger := infrastructure.LoggerWithContext(ctx)
	logger.WarnContext(ctx, "IP blocked due to repeated security failures",
		slog.String("action", "security_violation"),
		slog.String("ip_address", ip),
		slog.String("failure_kind", string(kind)),
		slog.Int("failure_count", count),
		slog.Int("threshold", g.threshold),
		slog.Duration("block_duration", g.blockTTL),
	)
	return true
}

// Unblock removes the block marker early (administrative override).
func (g *Guard) Unblock(ip string) {
	g.store.Delete(blockKey(ip))
	g.store.Delete(failureKey(ip))
}
