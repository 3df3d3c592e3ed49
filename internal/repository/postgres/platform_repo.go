package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
)

// PlatformRepo implements PlatformRepository using PostgreSQL.
type PlatformRepo struct{ db *DB }

// NewPlatformRepo constructs a platform repository.
func NewPlatformRepo(db *DB) *PlatformRepo { return &PlatformRepo{db: db} }

// Create inserts a platform row.
func (r *PlatformRepo) Create(ctx context.Context, p *model.Platform) error {
	const q = `
INSERT INTO platforms (id, name, api_key_hash, api_key_prefix, tier, monthly_quota, usage_month, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.db.Pool.Exec(ctx, q, p.ID, p.Name, p.APIKeyHash, p.APIKeyPrefix, string(p.Tier),
		p.MonthlyQuota, p.UsageMonth, p.Active, p.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByAPIKeyHash selects a platform by the hash of its API key.
func (r *PlatformRepo) GetByAPIKeyHash(ctx context.Context, hash string) (*model.Platform, error) {
	const q = `
SELECT id, name, api_key_hash, api_key_prefix, tier, monthly_quota, usage_month,
  verifications_this_month, verifications_total, active, created_at
FROM platforms WHERE api_key_hash=$1`
	var (
		p    model.Platform
		tier string
	)
	err := r.db.Pool.QueryRow(ctx, q, hash).Scan(&p.ID, &p.Name, &p.APIKeyHash, &p.APIKeyPrefix, &tier,
		&p.MonthlyQuota, &p.UsageMonth, &p.VerificationsThisMonth, &p.VerificationsTotal, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	p.Tier = model.Tier(tier)
	return &p, nil
}

// ConsumeQuota counts one verification in a single conditional update. A new month resets
// the monthly counter; no row returned means the quota is exhausted.
func (r *PlatformRepo) ConsumeQuota(ctx context.Context, p *model.Platform, month string, at time.Time) (bool, error) {
	const q = `
UPDATE platforms SET
  verifications_this_month = CASE WHEN usage_month=$2 THEN verifications_this_month+1 ELSE 1 END,
  usage_month = $2,
  verifications_total = verifications_total+1,
  last_verification_at = $3
WHERE id=$1 AND (monthly_quota=0 OR usage_month<>$2 OR verifications_this_month<monthly_quota)
RETURNING verifications_this_month, verifications_total`
	var thisMonth, total int64
	if err := r.db.Pool.QueryRow(ctx, q, p.ID, month, at).Scan(&thisMonth, &total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	p.UsageMonth, p.VerificationsThisMonth, p.VerificationsTotal = month, thisMonth, total
	return true, nil
}
