package postgres

import (
	"context"
	"time"

	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository"
)

// ActivityRepo implements ActivityRepository using PostgreSQL. Both logs are insert-only.
type ActivityRepo struct{ db *DB }

// NewActivityRepo constructs an activity log repository.
func NewActivityRepo(db *DB) *ActivityRepo { return &ActivityRepo{db: db} }

// AppendRateLimit inserts a rate-limit log row.
func (r *ActivityRepo) AppendRateLimit(ctx context.Context, e model.RateLimitLogEntry) error {
	const q = `
INSERT INTO rate_limit_log (action, ip, fingerprint, public_key, created_at)
VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.Pool.Exec(ctx, q, e.Action, e.IP, e.Fingerprint, e.PublicKey, e.CreatedAt)
	return err
}

func (r *ActivityRepo) window(ctx context.Context, q string, args ...any) (repository.WindowStats, error) {
	var (
		ws     repository.WindowStats
		oldest *time.Time
	)
	if err := r.db.Pool.QueryRow(ctx, q, args...).Scan(&ws.Count, &oldest); err != nil {
		return repository.WindowStats{}, err
	}
	if oldest != nil {
		ws.Oldest = *oldest
	}
	return ws, nil
}

// CountByIP counts action rows from ip since the given time.
func (r *ActivityRepo) CountByIP(ctx context.Context, action, ip string, since time.Time) (repository.WindowStats, error) {
	const q = `
SELECT COUNT(*), MIN(created_at) FROM rate_limit_log
WHERE action=$1 AND ip=$2 AND created_at >= $3`
	return r.window(ctx, q, action, ip, since)
}

// CountByFingerprint counts action rows from fingerprint since the given time.
func (r *ActivityRepo) CountByFingerprint(ctx context.Context, action, fingerprint string, since time.Time) (repository.WindowStats, error) {
	const q = `
SELECT COUNT(*), MIN(created_at) FROM rate_limit_log
WHERE action=$1 AND fingerprint=$2 AND created_at >= $3`
	return r.window(ctx, q, action, fingerprint, since)
}

// LastAttempt returns the newest action row matching either signal.
func (r *ActivityRepo) LastAttempt(ctx context.Context, action, ip, fingerprint string) (time.Time, bool, error) {
	const q = `
SELECT MAX(created_at) FROM rate_limit_log
WHERE action=$1 AND (ip=$2 OR (fingerprint<>'' AND fingerprint=$3))`
	var last *time.Time
	if err := r.db.Pool.QueryRow(ctx, q, action, ip, fingerprint).Scan(&last); err != nil {
		return time.Time{}, false, err
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// DistinctPublicKeysByIP counts distinct public keys registered from ip since the given time.
func (r *ActivityRepo) DistinctPublicKeysByIP(ctx context.Context, ip string, since time.Time) (repository.WindowStats, error) {
	const q = `
SELECT COUNT(DISTINCT public_key), MIN(created_at) FROM rate_limit_log
WHERE action=$1 AND ip=$2 AND public_key<>'' AND created_at >= $3`
	return r.window(ctx, q, model.ActionAgentRegister, ip, since)
}

// AppendTiming inserts a completion-time row.
func (r *ActivityRepo) AppendTiming(ctx context.Context, e model.TimingLogEntry) error {
	const q = `
INSERT INTO timing_log (challenge_id, ip, fingerprint, difficulty, elapsed_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.Pool.Exec(ctx, q, e.ChallengeID, e.IP, e.Fingerprint, string(e.Difficulty), e.ElapsedMs, e.CreatedAt)
	return err
}

// RecentTimings returns the newest completions from ip or fingerprint, newest first.
func (r *ActivityRepo) RecentTimings(ctx context.Context, ip, fingerprint string, since time.Time, limit int) ([]model.TimingLogEntry, error) {
	const q = `
SELECT challenge_id, ip, fingerprint, difficulty, elapsed_ms, created_at
FROM timing_log
WHERE (ip=$1 OR (fingerprint<>'' AND fingerprint=$2)) AND created_at >= $3
ORDER BY created_at DESC
LIMIT $4`
	rows, err := r.db.Pool.Query(ctx, q, ip, fingerprint, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TimingLogEntry
	for rows.Next() {
		var (
			e    model.TimingLogEntry
			diff string
		)
		if err := rows.Scan(&e.ChallengeID, &e.IP, &e.Fingerprint, &diff, &e.ElapsedMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Difficulty = model.Difficulty(diff)
		out = append(out, e)
	}
	return out, rows.Err()
}
