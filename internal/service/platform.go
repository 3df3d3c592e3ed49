package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/agentproof/internal/crypto"
	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/limiter"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository"
)

// APIKeyPrefix starts every relying-party key.
const APIKeyPrefix = "ap_"

// ReasonBurst is the Denial reason for the per-key burst limiter.
const ReasonBurst = "burst_limit"

// PlatformGate authenticates relying parties and meters their verification calls.
type PlatformGate interface {
	// Provision creates a platform and returns its raw API key (shown once).
	Provision(ctx context.Context, name string, tier model.Tier) (*model.Platform, string, error)
	// Authenticate resolves an API key to an active platform.
	Authenticate(ctx context.Context, apiKey string) (*model.Platform, error)
	// VerifyToken authenticates, meters and verifies a proof token.
	VerifyToken(ctx context.Context, apiKey, tok string) (*model.Verification, error)
	// VerifyFor meters and verifies for an already authenticated platform.
	VerifyFor(ctx context.Context, p *model.Platform, tok string) (*model.Verification, error)
}

// BurstConfig bounds calls per API key per window; zero Limit disables it.
type BurstConfig struct {
	Limit  int
	Window time.Duration
}

// PlatformGateImpl is the storage-backed PlatformGate.
type PlatformGateImpl struct {
	platforms repository.PlatformRepository
	creds     CredentialService
	burst     limiter.Burst
	burstCfg  BurstConfig
	log       *zap.Logger

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewPlatformGate constructs the gate. A nil burst limiter disables burst limiting.
func NewPlatformGate(
	platforms repository.PlatformRepository,
	creds CredentialService,
	burst limiter.Burst,
	burstCfg BurstConfig,
	log *zap.Logger,
) *PlatformGateImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if burstCfg.Window <= 0 {
		burstCfg.Window = time.Minute
	}
	return &PlatformGateImpl{platforms: platforms, creds: creds, burst: burst, burstCfg: burstCfg, log: log, Now: time.Now}
}

// Provision creates a platform with a fresh random key.
func (g *PlatformGateImpl) Provision(ctx context.Context, name string, tier model.Tier) (*model.Platform, string, error) {
	tok, err := crypto.GenerateToken(32)
	if err != nil {
		return nil, "", err
	}
	key := APIKeyPrefix + tok
	p, err := g.Import(ctx, name, tier, key)
	if err != nil {
		return nil, "", err
	}
	return p, key, nil
}

// Import creates a platform for an externally chosen key, e.g. a bootstrap key from config.
func (g *PlatformGateImpl) Import(ctx context.Context, name string, tier model.Tier, apiKey string) (*model.Platform, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(apiKey) < 16 {
		return nil, fmt.Errorf("%w: platform name and a key of at least 16 chars are required", errs.ErrInvalidInput)
	}
	if tier == "" {
		tier = model.TierFree
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := g.Now()
	p := &model.Platform{
		ID:           id,
		Name:         name,
		APIKeyHash:   crypto.SHA256Hex([]byte(apiKey)),
		APIKeyPrefix: apiKey[:8],
		Tier:         tier,
		MonthlyQuota: tier.MonthlyQuota(),
		UsageMonth:   model.UsageMonth(now),
		Active:       true,
		CreatedAt:    now,
	}
	if err := g.platforms.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Authenticate hashes the key and loads an active platform.
func (g *PlatformGateImpl) Authenticate(ctx context.Context, apiKey string) (*model.Platform, error) {
	if apiKey == "" {
		return nil, errs.ErrUnauthorized
	}
	p, err := g.platforms.GetByAPIKeyHash(ctx, crypto.SHA256Hex([]byte(apiKey)))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, errs.ErrUnauthorized
	}
	return p, nil
}

// VerifyToken runs authentication, burst limiting and quota metering before verification.
func (g *PlatformGateImpl) VerifyToken(ctx context.Context, apiKey, tok string) (*model.Verification, error) {
	p, err := g.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return g.VerifyFor(ctx, p, tok)
}

// VerifyFor is VerifyToken after authentication; transports that authenticate in
// middleware call it directly.
func (g *PlatformGateImpl) VerifyFor(ctx context.Context, p *model.Platform, tok string) (*model.Verification, error) {
	if p == nil {
		return nil, errs.ErrUnauthorized
	}
	if strings.TrimSpace(tok) == "" {
		return nil, fmt.Errorf("%w: token is required", errs.ErrInvalidInput)
	}
	now := g.Now()
	if g.burst != nil {
		d, err := g.burst.Allow(ctx, p.APIKeyHash, g.burstCfg.Limit, g.burstCfg.Window)
		if err != nil {
			return nil, fmt.Errorf("burst limiter: %w", err)
		}
		if !d.Allowed {
			return nil, &limiter.Denial{Decision: limiter.Decision{
				Reason: ReasonBurst, Signal: "api_key", RetryAfter: max(d.ResetAt.Sub(now), time.Second),
			}}
		}
	}
	ok, err := g.platforms.ConsumeQuota(ctx, p, model.UsageMonth(now), now)
	if err != nil {
		return nil, fmt.Errorf("consume quota: %w", err)
	}
	if !ok {
		g.log.Info("platform quota exhausted", zap.String("platform", p.Name), zap.String("key_prefix", p.APIKeyPrefix))
		return nil, errs.ErrQuotaExceeded
	}
	return g.creds.Verify(ctx, tok)
}
