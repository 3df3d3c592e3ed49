package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
)

// AgentRepo implements AgentRepository using PostgreSQL.
type AgentRepo struct{ db *DB }

// NewAgentRepo constructs an agent repository.
func NewAgentRepo(db *DB) *AgentRepo { return &AgentRepo{db: db} }

const agentColumns = `id, name, description, public_key, bio, status, claim_token, claim_expires_at, owner_id, created_at`

func scanAgent(row pgx.Row) (*model.Agent, error) {
	var (
		a  model.Agent
		st string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.PublicKey, &a.Bio, &st,
		&a.ClaimToken, &a.ClaimExpiresAt, &a.OwnerID, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Status = model.AgentStatus(st)
	return &a, nil
}

// Register inserts the agent or refreshes the profile of the existing one with the same public key.
// Claim data of an existing agent is preserved.
func (r *AgentRepo) Register(ctx context.Context, a *model.Agent) (*model.Agent, error) {
	const q = `
INSERT INTO agents (id, name, description, public_key, bio, status, claim_token, claim_expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (public_key) DO UPDATE
SET name=EXCLUDED.name, description=EXCLUDED.description, bio=EXCLUDED.bio, updated_at=now()
RETURNING ` + agentColumns
	return scanAgent(r.db.Pool.QueryRow(ctx, q,
		a.ID, a.Name, a.Description, a.PublicKey, a.Bio, string(a.Status), a.ClaimToken, a.ClaimExpiresAt, a.CreatedAt))
}

// GetByID selects an agent by ID.
func (r *AgentRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents WHERE id=$1`
	a, err := scanAgent(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return a, err
}

// RecentBios returns the most recently written non-empty bios; limit <= 0 returns all of them.
func (r *AgentRepo) RecentBios(ctx context.Context, limit int) ([]string, error) {
	const q = `SELECT bio FROM agents WHERE bio<>'' ORDER BY updated_at DESC`
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.Pool.Query(ctx, q+` LIMIT $1`, limit)
	} else {
		rows, err = r.db.Pool.Query(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
