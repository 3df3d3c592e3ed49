package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
)

// ProofRepo implements ProofRepository using PostgreSQL.
type ProofRepo struct{ db *DB }

// NewProofRepo constructs a proof repository.
func NewProofRepo(db *DB) *ProofRepo { return &ProofRepo{db: db} }

// Create inserts an issued proof.
func (r *ProofRepo) Create(ctx context.Context, p *model.Proof) error {
	const q = `
INSERT INTO proofs (id, agent_id, challenge_id, token, difficulty, tasks_passed, time_taken_ms,
  confidence, issued_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.Pool.Exec(ctx, q, p.ID, p.AgentID, p.ChallengeID, p.Token, string(p.Difficulty),
		taskNames(p.TasksPassed), p.TimeTakenMs, p.Confidence, p.IssuedAt, p.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a proof by ID.
func (r *ProofRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Proof, error) {
	const q = `
SELECT id, agent_id, challenge_id, token, difficulty, tasks_passed, time_taken_ms, confidence,
  issued_at, expires_at, verification_count, last_verified_at, revoked, revoked_reason
FROM proofs WHERE id=$1`
	var (
		p     model.Proof
		diff  string
		tasks []string
	)
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.AgentID, &p.ChallengeID, &p.Token, &diff, &tasks,
		&p.TimeTakenMs, &p.Confidence, &p.IssuedAt, &p.ExpiresAt, &p.VerificationCount, &p.LastVerifiedAt,
		&p.Revoked, &p.RevokedReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	p.Difficulty = model.Difficulty(diff)
	for _, t := range tasks {
		p.TasksPassed = append(p.TasksPassed, model.TaskType(t))
	}
	return &p, nil
}

// RecordVerification increments the verification counter.
func (r *ProofRepo) RecordVerification(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE proofs SET verification_count=verification_count+1, last_verified_at=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Revoke marks a proof revoked.
func (r *ProofRepo) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `UPDATE proofs SET revoked=true, revoked_reason=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func taskNames(ts []model.TaskType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
