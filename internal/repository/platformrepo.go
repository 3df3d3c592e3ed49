package repository

import (
	"context"
	"time"

	"github.com/and161185/agentproof/internal/model"
)

// PlatformRepository stores relying parties and their quota counters.
type PlatformRepository interface {
	// Create inserts a platform; errs.ErrAlreadyExists on API key hash collision.
	Create(ctx context.Context, p *model.Platform) error
	// GetByAPIKeyHash loads a platform by the SHA-256 hex of its API key.
	GetByAPIKeyHash(ctx context.Context, hash string) (*model.Platform, error)
	// ConsumeQuota atomically counts one verification for month, resetting the monthly
	// counter on rollover. It reports false when the quota is used up.
	ConsumeQuota(ctx context.Context, p *model.Platform, month string, at time.Time) (bool, error)
}
