package repository

import (
	"context"
	"time"

	"github.com/and161185/agentproof/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ProofRepository stores issued credentials.
type ProofRepository interface {
	// Create inserts an issued proof.
	Create(ctx context.Context, p *model.Proof) error
	// GetByID loads a proof by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Proof, error)
	// RecordVerification bumps the verification counter.
	RecordVerification(ctx context.Context, id uuid.UUID, at time.Time) error
	// Revoke marks a proof revoked; errs.ErrNotFound if absent.
	Revoke(ctx context.Context, id uuid.UUID, reason string) error
}
