package repository

import (
	"context"

	"github.com/and161185/agentproof/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AgentRepository stores agents keyed by their unique public key.
type AgentRepository interface {
	// Register inserts the agent, or returns the existing row when the public key is already
	// known (name, description and bio are refreshed, claim data is kept).
	Register(ctx context.Context, a *model.Agent) (*model.Agent, error)
	// GetByID loads an agent by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Agent, error)
	// RecentBios returns up to limit most recently stored bios.
	RecentBios(ctx context.Context, limit int) ([]string, error)
}
