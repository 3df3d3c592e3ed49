package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
)

// ChallengeRepo implements ChallengeRepository using PostgreSQL.
type ChallengeRepo struct{ db *DB }

// NewChallengeRepo constructs a challenge repository.
func NewChallengeRepo(db *DB) *ChallengeRepo { return &ChallengeRepo{db: db} }

// Create inserts the challenge with its steps, speed tokens and answer key in one transaction.
func (r *ChallengeRepo) Create(ctx context.Context, b model.ChallengeBundle) error {
	c := b.Challenge
	if c == nil || b.Dynamic == nil {
		return errs.ErrInvalidInput
	}
	tasks, err := json.Marshal(c.Tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}

	const insChallenge = `
INSERT INTO challenges (id, agent_name, description, nonce, difficulty, tasks, status,
  created_at, expires_at, time_limit_seconds, ip, fingerprint)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	const insStep = `INSERT INTO tool_use_steps (challenge_id, step, expected) VALUES ($1,$2,$3)`
	const insToken = `INSERT INTO speed_tokens (challenge_id, slot, token) VALUES ($1,$2,$3)`
	const insDynamic = `
INSERT INTO dynamic_challenges (challenge_id, bug_type, language, code, answer_line, answer_issue, answer_fix)
VALUES ($1,$2,$3,$4,$5,$6,$7)`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insChallenge,
			c.ID, c.AgentName, c.Description, c.Nonce, string(c.Difficulty), tasks, string(c.Status),
			c.CreatedAt, c.ExpiresAt, c.TimeLimitSeconds, c.IP, c.Fingerprint,
		); err != nil {
			if isUniqueViolation(err) {
				return errs.ErrAlreadyExists
			}
			return err
		}
		for _, s := range b.Steps {
			if _, err := tx.Exec(ctx, insStep, c.ID, s.Step, s.Expected); err != nil {
				return fmt.Errorf("step %d: %w", s.Step, err)
			}
		}
		for _, t := range b.SpeedTokens {
			if _, err := tx.Exec(ctx, insToken, c.ID, string(t.Slot), t.Token); err != nil {
				return fmt.Errorf("speed token %s: %w", t.Slot, err)
			}
		}
		d := b.Dynamic
		_, err := tx.Exec(ctx, insDynamic,
			c.ID, d.BugType, d.Language, d.Code, d.Answer.Line, d.Answer.Issue, d.Answer.Fix)
		return err
	})
}

// Get selects a challenge by ID.
func (r *ChallengeRepo) Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	const q = `
SELECT id, agent_name, description, nonce, difficulty, tasks, status, created_at, expires_at,
  time_limit_seconds, ip, fingerprint, completed_at, elapsed_ms
FROM challenges WHERE id=$1`
	var (
		c     model.Challenge
		diff  string
		st    string
		tasks []byte
	)
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(
		&c.ID, &c.AgentName, &c.Description, &c.Nonce, &diff, &tasks, &st, &c.CreatedAt, &c.ExpiresAt,
		&c.TimeLimitSeconds, &c.IP, &c.Fingerprint, &c.CompletedAt, &c.ElapsedMs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	c.Difficulty, c.Status = model.Difficulty(diff), model.Status(st)
	if err := json.Unmarshal(tasks, &c.Tasks); err != nil {
		return nil, fmt.Errorf("unmarshal tasks: %w", err)
	}
	return &c, nil
}

// Finalize performs the single terminal transition of a pending challenge.
func (r *ChallengeRepo) Finalize(ctx context.Context, id uuid.UUID, status model.Status, elapsedMs int64, at time.Time) error {
	const q = `
UPDATE challenges SET status=$2, elapsed_ms=$3, completed_at=$4
WHERE id=$1 AND status='pending'`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(status), elapsedMs, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrStateConflict
	}
	return nil
}

// Steps returns the tool-use chain ordered by step.
func (r *ChallengeRepo) Steps(ctx context.Context, id uuid.UUID) ([]model.ToolUseStep, error) {
	const q = `
SELECT step, expected, received, completed_at
FROM tool_use_steps WHERE challenge_id=$1 ORDER BY step ASC`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ToolUseStep
	for rows.Next() {
		s := model.ToolUseStep{ChallengeID: id}
		if err := rows.Scan(&s.Step, &s.Expected, &s.Received, &s.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordStep stores a received value for a step.
func (r *ChallengeRepo) RecordStep(ctx context.Context, id uuid.UUID, step int, value string, at time.Time) error {
	const q = `UPDATE tool_use_steps SET received=$3, completed_at=$4 WHERE challenge_id=$1 AND step=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, step, value, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SpeedTokens returns the speed tokens ordered by slot.
func (r *ChallengeRepo) SpeedTokens(ctx context.Context, id uuid.UUID) ([]model.SpeedToken, error) {
	const q = `SELECT slot, token, fetched_at FROM speed_tokens WHERE challenge_id=$1 ORDER BY slot ASC`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SpeedToken
	for rows.Next() {
		var slot string
		t := model.SpeedToken{ChallengeID: id}
		if err := rows.Scan(&slot, &t.Token, &t.FetchedAt); err != nil {
			return nil, err
		}
		t.Slot = model.SpeedSlot(slot)
		out = append(out, t)
	}
	return out, rows.Err()
}

// StampSpeedToken overwrites the fetch time of a slot and returns the token.
func (r *ChallengeRepo) StampSpeedToken(ctx context.Context, id uuid.UUID, slot model.SpeedSlot, at time.Time) (model.SpeedToken, error) {
	const q = `
UPDATE speed_tokens SET fetched_at=$3
WHERE challenge_id=$1 AND slot=$2
RETURNING token, fetched_at`
	t := model.SpeedToken{ChallengeID: id, Slot: slot}
	if err := r.db.Pool.QueryRow(ctx, q, id, string(slot), at).Scan(&t.Token, &t.FetchedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SpeedToken{}, errs.ErrNotFound
		}
		return model.SpeedToken{}, err
	}
	return t, nil
}

// Dynamic returns the generated bug instance of a challenge.
func (r *ChallengeRepo) Dynamic(ctx context.Context, id uuid.UUID) (*model.DynamicChallenge, error) {
	const q = `
SELECT bug_type, language, code, answer_line, answer_issue, answer_fix
FROM dynamic_challenges WHERE challenge_id=$1`
	d := model.DynamicChallenge{ChallengeID: id}
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(
		&d.BugType, &d.Language, &d.Code, &d.Answer.Line, &d.Answer.Issue, &d.Answer.Fix)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}
