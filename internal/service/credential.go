package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/agentproof/internal/crypto"
	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository"
	"github.com/and161185/agentproof/internal/token"
)

// Verification failure reasons added on top of the token reasons.
const (
	ReasonRevoked        = "revoked"
	ReasonUnknownProof   = "unknown_proof"
	ReasonAgentSuspended = "agent_suspended"
)

// ClaimTTL is how long an unclaimed agent's claim token stays valid.
const ClaimTTL = 7 * 24 * time.Hour

// CredentialService issues, verifies and revokes proof credentials.
type CredentialService interface {
	// Issue registers the agent and mints a signed proof token.
	Issue(ctx context.Context, req IssueRequest) (*IssueResult, error)
	// Verify checks a proof token and its stored proof.
	Verify(ctx context.Context, tok string) (*model.Verification, error)
	// Revoke invalidates a proof.
	Revoke(ctx context.Context, proofID uuid.UUID, reason string) error
}

// IssueRequest carries the facts of a completed challenge.
type IssueRequest struct {
	Challenge   *model.Challenge
	PublicKey   string
	Bio         string
	TasksPassed []model.TaskType
	ElapsedMs   int64
	Confidence  float64
}

// IssueResult is the stored agent and proof.
type IssueResult struct {
	Agent *model.Agent
	Proof *model.Proof
}

// CredentialServiceImpl is the storage-backed CredentialService.
type CredentialServiceImpl struct {
	agents     repository.AgentRepository
	proofs     repository.ProofRepository
	activity   repository.ActivityRepository
	signer     *token.Signer
	expiryDays int
	log        *zap.Logger

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewCredentialService constructs the issuer. expiryDays defaults to 30.
func NewCredentialService(
	agents repository.AgentRepository,
	proofs repository.ProofRepository,
	activity repository.ActivityRepository,
	signer *token.Signer,
	expiryDays int,
	log *zap.Logger,
) *CredentialServiceImpl {
	if expiryDays <= 0 {
		expiryDays = 30
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialServiceImpl{
		agents: agents, proofs: proofs, activity: activity, signer: signer,
		expiryDays: expiryDays, log: log, Now: time.Now,
	}
}

// Issue upserts the agent by public key, signs the token and persists the proof.
func (s *CredentialServiceImpl) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	c := req.Challenge
	if c == nil || req.PublicKey == "" {
		return nil, fmt.Errorf("%w: challenge and public key are required", errs.ErrInvalidInput)
	}
	now := s.Now()

	claim, err := crypto.GenerateToken(24)
	if err != nil {
		return nil, err
	}
	agentID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	agent, err := s.agents.Register(ctx, &model.Agent{
		ID:             agentID,
		Name:           c.AgentName,
		Description:    c.Description,
		PublicKey:      req.PublicKey,
		Bio:            req.Bio,
		Status:         model.AgentUnclaimed,
		ClaimToken:     claim,
		ClaimExpiresAt: now.Add(ClaimTTL),
		CreatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}

	proofID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	caps := make([]string, len(req.TasksPassed))
	for i, t := range req.TasksPassed {
		caps[i] = string(t)
	}
	signed, exp, err := s.signer.Sign(agent.ID, proofID, token.Payload{
		ChallengeID: c.ID.String(),
		Difficulty:  c.Difficulty,
		TasksPassed: req.TasksPassed,
		TimeTakenMs: req.ElapsedMs,
		Agent:       token.AgentClaim{Name: agent.Name, PublicKey: agent.PublicKey, Capabilities: caps},
	}, s.expiryDays)
	if err != nil {
		return nil, err
	}

	p := &model.Proof{
		ID:          proofID,
		AgentID:     agent.ID,
		ChallengeID: c.ID,
		Token:       signed,
		Difficulty:  c.Difficulty,
		TasksPassed: req.TasksPassed,
		TimeTakenMs: req.ElapsedMs,
		Confidence:  req.Confidence,
		IssuedAt:    now,
		ExpiresAt:   exp,
	}
	if err := s.proofs.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("store proof: %w", err)
	}
	if err := s.activity.AppendRateLimit(ctx, model.RateLimitLogEntry{
		Action:      model.ActionAgentRegister,
		IP:          c.IP,
		Fingerprint: c.Fingerprint,
		PublicKey:   req.PublicKey,
		CreatedAt:   now,
	}); err != nil {
		s.log.Warn("rate limit log append failed", zap.Error(err))
	}
	s.log.Info("proof issued",
		zap.Stringer("proof_id", proofID),
		zap.Stringer("agent_id", agent.ID),
		zap.Stringer("challenge_id", c.ID),
		zap.Float64("confidence", req.Confidence),
	)
	return &IssueResult{Agent: agent, Proof: p}, nil
}

// Verify checks the token, then the stored proof, and counts the verification.
func (s *CredentialServiceImpl) Verify(ctx context.Context, tok string) (*model.Verification, error) {
	res := s.signer.Verify(tok)
	if !res.Valid {
		return &model.Verification{Error: res.Reason}, nil
	}
	proofID, err := uuid.FromString(res.Claims.ID)
	if err != nil {
		return &model.Verification{Error: token.ReasonInvalid}, nil
	}
	p, err := s.proofs.GetByID(ctx, proofID)
	if errors.Is(err, errs.ErrNotFound) {
		return &model.Verification{Error: ReasonUnknownProof}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Revoked {
		return &model.Verification{Error: ReasonRevoked}, nil
	}
	agent, err := s.agents.GetByID(ctx, p.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent.Status == model.AgentSuspended {
		return &model.Verification{Error: ReasonAgentSuspended}, nil
	}

	if err := s.proofs.RecordVerification(ctx, p.ID, s.Now()); err != nil {
		s.log.Warn("record verification failed", zap.Stringer("proof_id", p.ID), zap.Error(err))
	} else {
		p.VerificationCount++
	}
	return &model.Verification{
		Valid: true,
		Agent: &model.VerifiedAgent{ID: agent.ID, Name: agent.Name, PublicKey: agent.PublicKey, Status: agent.Status},
		Proof: &model.VerifiedProof{
			ID:                p.ID,
			ChallengeID:       p.ChallengeID,
			IssuedAt:          p.IssuedAt,
			ExpiresAt:         p.ExpiresAt,
			Difficulty:        p.Difficulty,
			TasksPassed:       p.TasksPassed,
			TimeTakenMs:       p.TimeTakenMs,
			VerificationCount: p.VerificationCount,
		},
	}, nil
}

// Revoke marks a proof revoked; later verifications report ReasonRevoked.
func (s *CredentialServiceImpl) Revoke(ctx context.Context, proofID uuid.UUID, reason string) error {
	if proofID == uuid.Nil {
		return fmt.Errorf("%w: empty proof id", errs.ErrInvalidInput)
	}
	return s.proofs.Revoke(ctx, proofID, reason)
}
