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
	"github.com/and161185/agentproof/internal/model"
)

// Submit validates every response, records the single terminal transition and, when all
// sub-challenges pass, issues a credential. Sub-challenge failures are reported in the
// outcome; errors are reserved for input, protocol-state and storage problems.
func (s *ChallengeServiceImpl) Submit(ctx context.Context, id uuid.UUID, responses []model.Response) (*model.Outcome, error) {
	byType, err := indexResponses(responses)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	c, err := s.loadPending(ctx, id, now)
	if err != nil {
		return nil, err
	}
	elapsed := now.Sub(c.CreatedAt).Milliseconds()

	results, publicKey, bio, err := s.grade(ctx, c, byType)
	if err != nil {
		return nil, err
	}
	out := &model.Outcome{TimeTakenMs: elapsed, Results: results}
	for _, r := range results {
		if r.Passed {
			out.TasksPassed = append(out.TasksPassed, r.Type)
		} else {
			out.TasksFailed = append(out.TasksFailed, r.Type)
		}
	}

	if len(out.TasksFailed) > 0 {
		if err := s.finalize(ctx, id, model.StatusFailed, elapsed, now); err != nil {
			return nil, err
		}
		out.Status, out.RetryAvailable = model.StatusFailed, true
		s.log.Info("challenge failed", zap.Stringer("challenge_id", id), zap.Any("tasks_failed", out.TasksFailed))
		return out, nil
	}

	if err := s.finalize(ctx, id, model.StatusCompleted, elapsed, now); err != nil {
		return nil, err
	}
	out.Success, out.Status = true, model.StatusCompleted

	as, err := s.gate.Assess(ctx, elapsed, c.Difficulty, c.IP, c.Fingerprint)
	if err != nil {
		s.log.Warn("assessment failed", zap.Error(err))
		as.Confidence = 1
	}
	out.Confidence, out.Flags = as.Confidence, as.Flags
	if err := s.activity.AppendTiming(ctx, model.TimingLogEntry{
		ChallengeID: id, IP: c.IP, Fingerprint: c.Fingerprint, Difficulty: c.Difficulty, ElapsedMs: elapsed, CreatedAt: now,
	}); err != nil {
		s.log.Warn("timing log append failed", zap.Error(err))
	}

	issued, err := s.issuer.Issue(ctx, IssueRequest{
		Challenge:   c,
		PublicKey:   publicKey,
		Bio:         bio,
		TasksPassed: out.TasksPassed,
		ElapsedMs:   elapsed,
		Confidence:  as.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("issue credential: %w", err)
	}
	out.Proof = &model.ProofInfo{ID: issued.Proof.ID, Token: issued.Proof.Token, ExpiresAt: issued.Proof.ExpiresAt}
	out.Agent = &model.AgentInfo{
		ID:             issued.Agent.ID,
		Name:           issued.Agent.Name,
		PublicKey:      issued.Agent.PublicKey,
		Status:         issued.Agent.Status,
		ClaimToken:     issued.Agent.ClaimToken,
		ClaimExpiresAt: issued.Agent.ClaimExpiresAt,
	}
	return out, nil
}

func (s *ChallengeServiceImpl) finalize(ctx context.Context, id uuid.UUID, st model.Status, elapsed int64, at time.Time) error {
	err := s.challenges.Finalize(ctx, id, st, elapsed, at)
	if errors.Is(err, errs.ErrStateConflict) {
		return s.resolveConflict(ctx, id)
	}
	return err
}

// indexResponses rejects empty, nil and duplicated responses before any state is read.
func indexResponses(responses []model.Response) (map[model.TaskType]model.Response, error) {
	if len(responses) == 0 {
		return nil, fmt.Errorf("%w: no responses", errs.ErrInvalidInput)
	}
	out := make(map[model.TaskType]model.Response, len(responses))
	for i, r := range responses {
		if r == nil {
			return nil, fmt.Errorf("%w: response %d is empty", errs.ErrInvalidInput, i)
		}
		if _, dup := out[r.TaskType()]; dup {
			return nil, fmt.Errorf("%w: duplicate %s response", errs.ErrInvalidInput, r.TaskType())
		}
		out[r.TaskType()] = r
	}
	return out, nil
}

// grade runs every validator in task order. The optional tool-use response is graded last.
func (s *ChallengeServiceImpl) grade(
	ctx context.Context, c *model.Challenge, byType map[model.TaskType]model.Response,
) (results []model.TaskResult, publicKey, bio string, err error) {
	order := model.RequiredTasks
	if _, ok := byType[model.TaskToolUse]; ok {
		order = append(order[:len(order):len(order)], model.TaskToolUse)
	}
	for _, tt := range order {
		r, ok := byType[tt]
		if !ok {
			results = append(results, model.TaskResult{Type: tt, Error: "missing response"})
			continue
		}
		var res model.TaskResult
		switch v := r.(type) {
		case model.CryptoResponse:
			res = s.gradeCrypto(c, v)
			if res.Passed {
				publicKey = v.PublicKey
			}
		case model.SpeedResponse:
			res, err = s.gradeSpeed(ctx, c, v)
		case model.ReasoningResponse:
			res, err = s.gradeReasoning(ctx, c, v)
		case model.GenerationResponse:
			res, err = s.gradeBio(ctx, v)
			bio = strings.TrimSpace(v.Bio)
		case model.ToolUseResponse:
			res, err = s.gradeToolUse(ctx, c, v)
		default:
			return nil, "", "", fmt.Errorf("%w: unsupported response %T", errs.ErrInvalidInput, r)
		}
		if err != nil {
			return nil, "", "", err
		}
		res.Type = tt
		results = append(results, res)
	}
	return results, publicKey, bio, nil
}

func (s *ChallengeServiceImpl) gradeCrypto(c *model.Challenge, r model.CryptoResponse) model.TaskResult {
	if r.PublicKey == "" || r.Signature == "" {
		return model.TaskResult{Error: "public_key and signature are required"}
	}
	if !crypto.VerifySignature(r.PublicKey, r.Signature, c.SignMessage()) {
		return model.TaskResult{Error: "signature does not verify against the challenge message"}
	}
	return model.TaskResult{Passed: true, Details: map[string]any{"public_key": r.PublicKey}}
}

func (s *ChallengeServiceImpl) gradeSpeed(ctx context.Context, c *model.Challenge, r model.SpeedResponse) (model.TaskResult, error) {
	toks, err := s.challenges.SpeedTokens(ctx, c.ID)
	if err != nil {
		return model.TaskResult{}, err
	}
	v := checkSpeed(toks, strings.TrimSpace(r.Combined), s.cfg.SpeedWindow)
	return model.TaskResult{
		Passed:  v.passed,
		Error:   v.msg,
		Details: map[string]any{"was_parallel": v.wasParallel, "spread_ms": v.spread.Milliseconds()},
	}, nil
}

func (s *ChallengeServiceImpl) gradeReasoning(ctx context.Context, c *model.Challenge, r model.ReasoningResponse) (model.TaskResult, error) {
	dc, err := s.challenges.Dynamic(ctx, c.ID)
	if err != nil {
		return model.TaskResult{}, err
	}
	v := s.cfg.Matcher.Grade(*dc, r.Line, r.Issue)
	res := model.TaskResult{Passed: v.Passed, Details: map[string]any{"keyword_hits": v.Hits, "keywords_required": v.Required}}
	switch {
	case !v.LineOK:
		res.Error = fmt.Sprintf("line %d is not where the bug is", r.Line)
	case !v.Passed:
		res.Error = fmt.Sprintf("issue description matched %d of %d required keywords", v.Hits, v.Required)
	}
	return res, nil
}

func (s *ChallengeServiceImpl) gradeBio(ctx context.Context, r model.GenerationResponse) (model.TaskResult, error) {
	existing, err := s.agents.RecentBios(ctx, s.cfg.Bio.Sample)
	if err != nil {
		return model.TaskResult{}, err
	}
	msg, words, sim := s.cfg.Bio.checkBio(strings.TrimSpace(r.Bio), existing)
	return model.TaskResult{
		Passed:  msg == "",
		Error:   msg,
		Details: map[string]any{"word_count": words, "max_similarity": sim},
	}, nil
}

func (s *ChallengeServiceImpl) gradeToolUse(ctx context.Context, c *model.Challenge, r model.ToolUseResponse) (model.TaskResult, error) {
	steps, err := s.challenges.Steps(ctx, c.ID)
	if err != nil {
		return model.TaskResult{}, err
	}
	msg := checkToolUse(steps, r)
	return model.TaskResult{Passed: msg == "", Error: msg}, nil
}
