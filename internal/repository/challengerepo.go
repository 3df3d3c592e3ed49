// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/agentproof/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ChallengeRepository persists challenges and their sub-challenge state.
type ChallengeRepository interface {
	// Create stores the challenge with its tool-use steps, speed tokens and answer key atomically.
	Create(ctx context.Context, b model.ChallengeBundle) error
	// Get loads a challenge by ID (errs.ErrNotFound if absent).
	Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error)
	// Finalize moves a pending challenge to a terminal status. It returns errs.ErrStateConflict
	// when the challenge is no longer pending (first writer wins).
	Finalize(ctx context.Context, id uuid.UUID, status model.Status, elapsedMs int64, at time.Time) error

	// Steps returns the tool-use steps ordered by step number.
	Steps(ctx context.Context, id uuid.UUID) ([]model.ToolUseStep, error)
	// RecordStep stores the received value and completion time of a step.
	RecordStep(ctx context.Context, id uuid.UUID, step int, value string, at time.Time) error

	// SpeedTokens returns the three speed tokens ordered by slot.
	SpeedTokens(ctx context.Context, id uuid.UUID) ([]model.SpeedToken, error)
	// StampSpeedToken sets the fetch time of a slot (last fetch wins) and returns the token.
	StampSpeedToken(ctx context.Context, id uuid.UUID, slot model.SpeedSlot, at time.Time) (model.SpeedToken, error)

	// Dynamic returns the generated bug-finding instance with its answer key.
	Dynamic(ctx context.Context, id uuid.UUID) (*model.DynamicChallenge, error)
}
