package repository

import (
	"context"
	"time"

	"github.com/and161185/agentproof/internal/model"
)

// WindowStats summarizes log rows inside a time window.
type WindowStats struct {
	Count  int
	Oldest time.Time // zero when Count == 0
}

// ActivityRepository is the append-only rate-limit and timing log. Rows are never updated.
type ActivityRepository interface {
	// AppendRateLimit inserts a rate-limit log row.
	AppendRateLimit(ctx context.Context, e model.RateLimitLogEntry) error
	// CountByIP counts action rows from ip since the given time.
	CountByIP(ctx context.Context, action, ip string, since time.Time) (WindowStats, error)
	// CountByFingerprint counts action rows from fingerprint since the given time.
	CountByFingerprint(ctx context.Context, action, fingerprint string, since time.Time) (WindowStats, error)
	// LastAttempt returns the newest action row from either ip or fingerprint.
	LastAttempt(ctx context.Context, action, ip, fingerprint string) (time.Time, bool, error)
	// DistinctPublicKeysByIP counts distinct registered public keys from ip since the given time.
	DistinctPublicKeysByIP(ctx context.Context, ip string, since time.Time) (WindowStats, error)

	// AppendTiming inserts a completion-time row.
	AppendTiming(ctx context.Context, e model.TimingLogEntry) error
	// RecentTimings returns up to limit newest completions from ip or fingerprint since the given time.
	RecentTimings(ctx context.Context, ip, fingerprint string, since time.Time, limit int) ([]model.TimingLogEntry, error)
}
