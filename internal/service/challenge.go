// Package service contains the challenge engine, the credential issuer and the platform gate.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/agentproof/internal/bugs"
	"github.com/and161185/agentproof/internal/crypto"
	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/limiter"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository"
)

// MaxNameLength bounds the claimed agent name.
const MaxNameLength = 100

// ChallengeService runs the proof-of-agency protocol.
type ChallengeService interface {
	// Create issues a new challenge after the anti-farming gates.
	Create(ctx context.Context, req CreateRequest) (*model.Challenge, error)
	// Get returns the challenge with its effective status.
	Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error)
	// Submit validates all responses and finalizes the challenge.
	Submit(ctx context.Context, id uuid.UUID, responses []model.Response) (*model.Outcome, error)
	// FetchSpeedToken returns a speed token and stamps its fetch time.
	FetchSpeedToken(ctx context.Context, id uuid.UUID, slot string) (model.SpeedToken, error)
	// ToolUseStep advances the legacy tool-use chain.
	ToolUseStep(ctx context.Context, id uuid.UUID, step int, value string) (ToolUseReply, error)
}

// Gate is the subset of limiter.Analyzer used by the engine.
type Gate interface {
	Check(ctx context.Context, ip, fingerprint string) (limiter.Decision, error)
	Assess(ctx context.Context, elapsedMs int64, d model.Difficulty, ip, fingerprint string) (limiter.Assessment, error)
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	Name        string
	Description string
	Difficulty  string
	IP          string
	Fingerprint string
}

// ChallengeConfig tunes the engine.
type ChallengeConfig struct {
	BaseURL     string // prefix of the speed endpoints, e.g. https://api.example.com
	Matcher     bugs.Matcher
	Bio         BioConfig
	SpeedWindow time.Duration
}

// DefaultChallengeConfig returns the calibrated defaults.
func DefaultChallengeConfig() ChallengeConfig {
	return ChallengeConfig{Matcher: bugs.DefaultMatcher, Bio: DefaultBioConfig, SpeedWindow: DefaultSpeedWindow}
}

// ChallengeServiceImpl is the storage-backed ChallengeService.
type ChallengeServiceImpl struct {
	challenges repository.ChallengeRepository
	activity   repository.ActivityRepository
	agents     repository.AgentRepository
	gate       Gate
	issuer     CredentialService
	cfg        ChallengeConfig
	catalog    *bugs.Catalog
	log        *zap.Logger

	// Now is the clock and Rand the per-challenge random source; tests override both.
	Now  func() time.Time
	Rand func() (*rand.Rand, error)
}

// NewChallengeService wires the engine. A nil logger is replaced with a no-op logger.
func NewChallengeService(
	challenges repository.ChallengeRepository,
	activity repository.ActivityRepository,
	agents repository.AgentRepository,
	gate Gate,
	issuer CredentialService,
	cfg ChallengeConfig,
	log *zap.Logger,
) *ChallengeServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SpeedWindow <= 0 {
		cfg.SpeedWindow = DefaultSpeedWindow
	}
	if cfg.Bio == (BioConfig{}) {
		cfg.Bio = DefaultBioConfig
	}
	if cfg.Matcher.MinHits < 1 {
		if cfg.Matcher != (bugs.Matcher{}) {
			log.Warn("matcher requires at least one keyword hit, using defaults",
				zap.Float64("ratio", cfg.Matcher.Ratio), zap.Int("min_hits", cfg.Matcher.MinHits))
		}
		custom := cfg.Matcher.Catalog
		cfg.Matcher = bugs.DefaultMatcher
		cfg.Matcher.Catalog = custom
	}
	cat := cfg.Matcher.Catalog
	if cat == nil {
		cat = &bugs.DefaultCatalog
	}
	return &ChallengeServiceImpl{
		challenges: challenges,
		activity:   activity,
		agents:     agents,
		gate:       gate,
		issuer:     issuer,
		cfg:        cfg,
		catalog:    cat,
		log:        log,
		Now:        time.Now,
		Rand:       cryptoSeededRand,
	}
}

// cryptoSeededRand returns a ChaCha8 generator seeded from crypto/rand, one per challenge.
func cryptoSeededRand() (*rand.Rand, error) {
	seed, err := crypto.RandBytes(32)
	if err != nil {
		return nil, err
	}
	return rand.New(rand.NewChaCha8([32]byte(seed))), nil
}

// Create validates the request, applies the creation gates and persists a new challenge.
func (s *ChallengeServiceImpl) Create(ctx context.Context, req CreateRequest) (*model.Challenge, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name must be 1..%d characters", errs.ErrInvalidInput, MaxNameLength)
	}
	diff, err := model.ParseDifficulty(req.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	dec, err := s.gate.Check(ctx, req.IP, req.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !dec.Allowed {
		s.log.Info("challenge creation denied",
			zap.String("reason", dec.Reason), zap.String("ip", req.IP), zap.String("fingerprint", req.Fingerprint))
		return nil, &limiter.Denial{Decision: dec}
	}

	b, err := s.assemble(name, strings.TrimSpace(req.Description), diff, req.IP, req.Fingerprint)
	if err != nil {
		return nil, err
	}
	if err := s.challenges.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	if err := s.activity.AppendRateLimit(ctx, model.RateLimitLogEntry{
		Action:      model.ActionChallengeCreate,
		IP:          req.IP,
		Fingerprint: req.Fingerprint,
		CreatedAt:   b.Challenge.CreatedAt,
	}); err != nil {
		s.log.Warn("rate limit log append failed", zap.Error(err))
	}
	s.log.Debug("challenge created",
		zap.Stringer("challenge_id", b.Challenge.ID),
		zap.String("difficulty", string(diff)),
		zap.String("bug_type", b.Dynamic.BugType),
		zap.String("language", b.Dynamic.Language),
	)
	return b.Challenge, nil
}

func (s *ChallengeServiceImpl) assemble(name, desc string, diff model.Difficulty, ip, fp string) (model.ChallengeBundle, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return model.ChallengeBundle{}, err
	}
	nonce, err := crypto.GenerateNonce(16)
	if err != nil {
		return model.ChallengeBundle{}, err
	}
	rng, err := s.Rand()
	if err != nil {
		return model.ChallengeBundle{}, err
	}
	dc, err := s.catalog.Generate(rng, diff)
	if err != nil {
		return model.ChallengeBundle{}, fmt.Errorf("generate bug: %w", err)
	}
	dc.ChallengeID = id

	now := s.Now()
	limit := diff.TimeLimit()
	c := &model.Challenge{
		ID:               id,
		AgentName:        name,
		Description:      desc,
		Nonce:            nonce,
		Difficulty:       diff,
		Status:           model.StatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(limit),
		TimeLimitSeconds: int(limit / time.Second),
		IP:               ip,
		Fingerprint:      fp,
	}
	c.Tasks = s.tasks(c, &dc)

	b := model.ChallengeBundle{Challenge: c, Dynamic: &dc}
	for i := 1; i <= ToolUseSteps; i++ {
		v, err := crypto.GenerateNonce(8)
		if err != nil {
			return model.ChallengeBundle{}, err
		}
		b.Steps = append(b.Steps, model.ToolUseStep{ChallengeID: id, Step: i, Expected: v})
	}
	for _, slot := range model.SpeedSlots {
		tok, err := crypto.GenerateToken(12)
		if err != nil {
			return model.ChallengeBundle{}, err
		}
		b.SpeedTokens = append(b.SpeedTokens, model.SpeedToken{ChallengeID: id, Slot: slot, Token: tok})
	}
	return b, nil
}

func (s *ChallengeServiceImpl) tasks(c *model.Challenge, dc *model.DynamicChallenge) []model.Task {
	base := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/challenges/" + c.ID.String()
	endpoints := make([]string, len(model.SpeedSlots))
	for i, slot := range model.SpeedSlots {
		endpoints[i] = base + "/speed/" + string(slot)
	}
	return []model.Task{
		{
			Type:    model.TaskCrypto,
			Prompt:  "Sign the SHA-256 digest of the message with your Ed25519 key and submit the base64 public key and signature.",
			Message: c.SignMessage(),
		},
		{
			Type:      model.TaskSpeed,
			Prompt:    "Fetch all three endpoints concurrently and submit the tokens concatenated in order a, b, c.",
			Endpoints: endpoints,
		},
		{
			Type:     model.TaskReasoning,
			Prompt:   "Find the bug. Submit the 1-based line number, a description of the issue and a fix.",
			Language: dc.Language,
			Code:     dc.Code,
		},
		{
			Type:     model.TaskGeneration,
			Prompt:   "Write an original bio describing yourself as an agent.",
			MinWords: s.cfg.Bio.MinWords,
			MaxWords: s.cfg.Bio.MaxWords,
		},
	}
}

// Get returns the challenge with its effective status; it never writes.
func (s *ChallengeServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	c, err := s.challenges.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Status = c.StatusAt(s.Now())
	return c, nil
}

// FetchSpeedToken stamps the fetch time of slot; repeated fetches keep the last stamp.
func (s *ChallengeServiceImpl) FetchSpeedToken(ctx context.Context, id uuid.UUID, slot string) (model.SpeedToken, error) {
	sl, ok := model.ParseSpeedSlot(slot)
	if !ok {
		return model.SpeedToken{}, fmt.Errorf("%w: unknown speed slot %q", errs.ErrInvalidInput, slot)
	}
	now := s.Now()
	if _, err := s.loadPending(ctx, id, now); err != nil {
		return model.SpeedToken{}, err
	}
	return s.challenges.StampSpeedToken(ctx, id, sl, now)
}

// ToolUseStep reveals the first value on step 0 and records steps 1..3 in order.
// A satisfied step is final.
func (s *ChallengeServiceImpl) ToolUseStep(ctx context.Context, id uuid.UUID, step int, value string) (ToolUseReply, error) {
	if step < 0 || step > ToolUseSteps {
		return ToolUseReply{}, fmt.Errorf("%w: step must be 0..%d", errs.ErrInvalidInput, ToolUseSteps)
	}
	now := s.Now()
	if _, err := s.loadPending(ctx, id, now); err != nil {
		return ToolUseReply{}, err
	}
	steps, err := s.challenges.Steps(ctx, id)
	if err != nil {
		return ToolUseReply{}, err
	}
	if len(steps) != ToolUseSteps {
		return ToolUseReply{}, fmt.Errorf("tool-use chain: %w", errs.ErrNotFound)
	}
	if step == 0 {
		return ToolUseReply{Step: 0, Accepted: true, NextValue: steps[0].Expected}, nil
	}
	if step > 1 && !steps[step-2].Satisfied() {
		return ToolUseReply{}, fmt.Errorf("%w: step %d requires step %d", errs.ErrStepOrder, step, step-1)
	}
	if steps[step-1].Satisfied() {
		return ToolUseReply{}, fmt.Errorf("%w: step %d already completed", errs.ErrStepOrder, step)
	}
	if err := s.challenges.RecordStep(ctx, id, step, value, now); err != nil {
		return ToolUseReply{}, err
	}
	reply := ToolUseReply{Step: step, Accepted: value == steps[step-1].Expected}
	if reply.Accepted && step < ToolUseSteps {
		reply.NextValue = steps[step].Expected
	}
	return reply, nil
}

// loadPending returns the challenge if it still accepts work. An overdue pending
// challenge is transitioned to expired here, on the first mutation after its deadline.
func (s *ChallengeServiceImpl) loadPending(ctx context.Context, id uuid.UUID, now time.Time) (*model.Challenge, error) {
	c, err := s.challenges.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := terminalErr(c.Status); err != nil {
		return nil, err
	}
	if now.After(c.ExpiresAt) {
		err := s.challenges.Finalize(ctx, id, model.StatusExpired, now.Sub(c.CreatedAt).Milliseconds(), now)
		if err != nil && !errors.Is(err, errs.ErrStateConflict) {
			return nil, err
		}
		if err != nil {
			return nil, s.resolveConflict(ctx, id)
		}
		return nil, errs.ErrExpired
	}
	return c, nil
}

// resolveConflict maps a lost terminal transition to the state that won it.
func (s *ChallengeServiceImpl) resolveConflict(ctx context.Context, id uuid.UUID) error {
	c, err := s.challenges.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := terminalErr(c.Status); err != nil {
		return err
	}
	return errs.ErrStateConflict
}

func terminalErr(st model.Status) error {
	switch st {
	case model.StatusCompleted:
		return errs.ErrAlreadyCompleted
	case model.StatusFailed:
		return errs.ErrAlreadyFailed
	case model.StatusExpired:
		return errs.ErrExpired
	}
	return nil
}
