// Package memory provides a process-local implementation of the repository interfaces
// for development and tests. A single mutex stands in for row-level consistency.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository"
)

// Store holds every table. Use the accessor methods to obtain the repository views.
type Store struct {
	mu sync.Mutex

	challenges map[uuid.UUID]model.Challenge
	steps      map[uuid.UUID][]model.ToolUseStep
	tokens     map[uuid.UUID][]model.SpeedToken
	dynamic    map[uuid.UUID]model.DynamicChallenge

	rateLog   []model.RateLimitLogEntry
	timingLog []model.TimingLogEntry

	agents     map[uuid.UUID]model.Agent
	agentByKey map[string]uuid.UUID
	bioOrder   []uuid.UUID // most recently written last
	proofs     map[uuid.UUID]model.Proof
	platforms  map[uuid.UUID]model.Platform
	platByHash map[string]uuid.UUID
}

// New returns an empty store.
func New() *Store {
	return &Store{
		challenges: map[uuid.UUID]model.Challenge{},
		steps:      map[uuid.UUID][]model.ToolUseStep{},
		tokens:     map[uuid.UUID][]model.SpeedToken{},
		dynamic:    map[uuid.UUID]model.DynamicChallenge{},
		agents:     map[uuid.UUID]model.Agent{},
		agentByKey: map[string]uuid.UUID{},
		proofs:     map[uuid.UUID]model.Proof{},
		platforms:  map[uuid.UUID]model.Platform{},
		platByHash: map[string]uuid.UUID{},
	}
}

// Challenges returns the challenge repository view.
func (s *Store) Challenges() *ChallengeRepo { return &ChallengeRepo{s} }

// Activity returns the activity log view.
func (s *Store) Activity() *ActivityRepo { return &ActivityRepo{s} }

// Agents returns the agent repository view.
func (s *Store) Agents() *AgentRepo { return &AgentRepo{s} }

// Proofs returns the proof repository view.
func (s *Store) Proofs() *ProofRepo { return &ProofRepo{s} }

// Platforms returns the platform repository view.
func (s *Store) Platforms() *PlatformRepo { return &PlatformRepo{s} }

var (
	_ repository.ChallengeRepository = (*ChallengeRepo)(nil)
	_ repository.ActivityRepository  = (*ActivityRepo)(nil)
	_ repository.AgentRepository     = (*AgentRepo)(nil)
	_ repository.ProofRepository     = (*ProofRepo)(nil)
	_ repository.PlatformRepository  = (*PlatformRepo)(nil)
)

// ChallengeRepo implements repository.ChallengeRepository.
type ChallengeRepo struct{ s *Store }

// Create stores the bundle; the challenge ID must be new.
func (r *ChallengeRepo) Create(_ context.Context, b model.ChallengeBundle) error {
	if b.Challenge == nil || b.Dynamic == nil {
		return errs.ErrInvalidInput
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id := b.Challenge.ID
	if _, ok := r.s.challenges[id]; ok {
		return errs.ErrAlreadyExists
	}
	c := *b.Challenge
	c.Tasks = cloneTasks(c.Tasks)
	r.s.challenges[id] = c
	r.s.steps[id] = slices.Clone(b.Steps)
	r.s.tokens[id] = slices.Clone(b.SpeedTokens)
	d := *b.Dynamic
	d.ChallengeID = id
	r.s.dynamic[id] = d
	return nil
}

// Get returns a copy of the challenge.
func (r *ChallengeRepo) Get(_ context.Context, id uuid.UUID) (*model.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.challenges[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c.Tasks = cloneTasks(c.Tasks)
	return &c, nil
}

// Finalize transitions a pending challenge; first writer wins.
func (r *ChallengeRepo) Finalize(_ context.Context, id uuid.UUID, status model.Status, elapsedMs int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.challenges[id]
	if !ok || c.Status != model.StatusPending {
		return errs.ErrStateConflict
	}
	c.Status, c.ElapsedMs, c.CompletedAt = status, elapsedMs, &at
	r.s.challenges[id] = c
	return nil
}

// Steps returns copies of the tool-use steps.
func (r *ChallengeRepo) Steps(_ context.Context, id uuid.UUID) ([]model.ToolUseStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.steps[id]), nil
}

// RecordStep stores a received value.
func (r *ChallengeRepo) RecordStep(_ context.Context, id uuid.UUID, step int, value string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	steps := r.s.steps[id]
	for i := range steps {
		if steps[i].Step == step {
			v := value
			steps[i].Received, steps[i].CompletedAt = &v, &at
			return nil
		}
	}
	return errs.ErrNotFound
}

// SpeedTokens returns copies of the speed tokens.
func (r *ChallengeRepo) SpeedTokens(_ context.Context, id uuid.UUID) ([]model.SpeedToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.tokens[id]), nil
}

// StampSpeedToken overwrites the fetch time of a slot.
func (r *ChallengeRepo) StampSpeedToken(_ context.Context, id uuid.UUID, slot model.SpeedSlot, at time.Time) (model.SpeedToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	toks := r.s.tokens[id]
	for i := range toks {
		if toks[i].Slot == slot {
			toks[i].FetchedAt = &at
			return toks[i], nil
		}
	}
	return model.SpeedToken{}, errs.ErrNotFound
}

// Dynamic returns the bug instance.
func (r *ChallengeRepo) Dynamic(_ context.Context, id uuid.UUID) (*model.DynamicChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.dynamic[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &d, nil
}

func cloneTasks(ts []model.Task) []model.Task {
	out := make([]model.Task, len(ts))
	for i, t := range ts {
		t.Endpoints = slices.Clone(t.Endpoints)
		out[i] = t
	}
	return out
}

// ActivityRepo implements repository.ActivityRepository.
type ActivityRepo struct{ s *Store }

// AppendRateLimit appends a rate-limit row.
func (r *ActivityRepo) AppendRateLimit(_ context.Context, e model.RateLimitLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.rateLog = append(r.s.rateLog, e)
	return nil
}

func (r *ActivityRepo) window(action string, since time.Time, match func(model.RateLimitLogEntry) bool) repository.WindowStats {
	var ws repository.WindowStats
	for _, e := range r.s.rateLog {
		if e.Action != action || e.CreatedAt.Before(since) || !match(e) {
			continue
		}
		if ws.Count == 0 || e.CreatedAt.Before(ws.Oldest) {
			ws.Oldest = e.CreatedAt
		}
		ws.Count++
	}
	return ws
}

// CountByIP counts rows from ip.
func (r *ActivityRepo) CountByIP(_ context.Context, action, ip string, since time.Time) (repository.WindowStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.window(action, since, func(e model.RateLimitLogEntry) bool { return e.IP == ip }), nil
}

// CountByFingerprint counts rows from fingerprint.
func (r *ActivityRepo) CountByFingerprint(_ context.Context, action, fp string, since time.Time) (repository.WindowStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.window(action, since, func(e model.RateLimitLogEntry) bool { return e.Fingerprint == fp }), nil
}

// LastAttempt returns the newest row matching either signal.
func (r *ActivityRepo) LastAttempt(_ context.Context, action, ip, fp string) (time.Time, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var (
		last  time.Time
		found bool
	)
	for _, e := range r.s.rateLog {
		if e.Action != action || !(e.IP == ip || (fp != "" && e.Fingerprint == fp)) {
			continue
		}
		if !found || e.CreatedAt.After(last) {
			last, found = e.CreatedAt, true
		}
	}
	return last, found, nil
}

// DistinctPublicKeysByIP counts distinct registered keys from ip.
func (r *ActivityRepo) DistinctPublicKeysByIP(_ context.Context, ip string, since time.Time) (repository.WindowStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := map[string]struct{}{}
	var ws repository.WindowStats
	for _, e := range r.s.rateLog {
		if e.Action != model.ActionAgentRegister || e.IP != ip || e.PublicKey == "" || e.CreatedAt.Before(since) {
			continue
		}
		if ws.Count == 0 || e.CreatedAt.Before(ws.Oldest) {
			ws.Oldest = e.CreatedAt
		}
		if _, ok := seen[e.PublicKey]; !ok {
			seen[e.PublicKey] = struct{}{}
			ws.Count++
		}
	}
	return ws, nil
}

// AppendTiming appends a timing row.
func (r *ActivityRepo) AppendTiming(_ context.Context, e model.TimingLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.timingLog = append(r.s.timingLog, e)
	return nil
}

// RecentTimings returns up to limit newest matching rows, newest first.
func (r *ActivityRepo) RecentTimings(_ context.Context, ip, fp string, since time.Time, limit int) ([]model.TimingLogEntry, error) {
	r.s.mu.Lock()
	var out []model.TimingLogEntry
	for _, e := range r.s.timingLog {
		if (e.IP == ip || (fp != "" && e.Fingerprint == fp)) && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	r.s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AgentRepo implements repository.AgentRepository.
type AgentRepo struct{ s *Store }

// Register inserts or refreshes by public key.
func (r *AgentRepo) Register(_ context.Context, a *model.Agent) (*model.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.agentByKey[a.PublicKey]; ok {
		cur := r.s.agents[id]
		cur.Name, cur.Description, cur.Bio = a.Name, a.Description, a.Bio
		r.s.agents[id] = cur
		r.touchBio(id)
		return &cur, nil
	}
	cp := *a
	r.s.agents[cp.ID] = cp
	r.s.agentByKey[cp.PublicKey] = cp.ID
	r.touchBio(cp.ID)
	return &cp, nil
}

func (r *AgentRepo) touchBio(id uuid.UUID) {
	r.s.bioOrder = slices.DeleteFunc(r.s.bioOrder, func(x uuid.UUID) bool { return x == id })
	r.s.bioOrder = append(r.s.bioOrder, id)
}

// GetByID returns a copy of the agent.
func (r *AgentRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.agents[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

// RecentBios returns the most recently written non-empty bios; limit <= 0 returns all of them.
func (r *AgentRepo) RecentBios(_ context.Context, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []string
	for i := len(r.s.bioOrder) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if b := r.s.agents[r.s.bioOrder[i]].Bio; b != "" {
			out = append(out, b)
		}
	}
	return out, nil
}

// ProofRepo implements repository.ProofRepository.
type ProofRepo struct{ s *Store }

// Create stores a proof.
func (r *ProofRepo) Create(_ context.Context, p *model.Proof) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.proofs[p.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *p
	cp.TasksPassed = slices.Clone(p.TasksPassed)
	r.s.proofs[p.ID] = cp
	return nil
}

// GetByID returns a copy of the proof.
func (r *ProofRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Proof, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.proofs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	p.TasksPassed = slices.Clone(p.TasksPassed)
	return &p, nil
}

// RecordVerification bumps the counter.
func (r *ProofRepo) RecordVerification(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.proofs[id]
	if !ok {
		return errs.ErrNotFound
	}
	p.VerificationCount++
	p.LastVerifiedAt = &at
	r.s.proofs[id] = p
	return nil
}

// Revoke marks the proof revoked.
func (r *ProofRepo) Revoke(_ context.Context, id uuid.UUID, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.proofs[id]
	if !ok {
		return errs.ErrNotFound
	}
	p.Revoked, p.RevokedReason = true, reason
	r.s.proofs[id] = p
	return nil
}

// PlatformRepo implements repository.PlatformRepository.
type PlatformRepo struct{ s *Store }

// Create stores a platform; the API key hash must be unique.
func (r *PlatformRepo) Create(_ context.Context, p *model.Platform) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.platByHash[p.APIKeyHash]; ok {
		return errs.ErrAlreadyExists
	}
	r.s.platforms[p.ID] = *p
	r.s.platByHash[p.APIKeyHash] = p.ID
	return nil
}

// GetByAPIKeyHash returns a copy of the platform.
func (r *PlatformRepo) GetByAPIKeyHash(_ context.Context, hash string) (*model.Platform, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.platByHash[hash]
	if !ok {
		return nil, errs.ErrNotFound
	}
	p := r.s.platforms[id]
	return &p, nil
}

// ConsumeQuota counts one verification, resetting on a new month.
func (r *PlatformRepo) ConsumeQuota(_ context.Context, p *model.Platform, month string, _ time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.platforms[p.ID]
	if !ok {
		return false, errs.ErrNotFound
	}
	if cur.UsageMonth != month {
		cur.UsageMonth, cur.VerificationsThisMonth = month, 0
	}
	if cur.MonthlyQuota > 0 && cur.VerificationsThisMonth >= cur.MonthlyQuota {
		return false, nil
	}
	cur.VerificationsThisMonth++
	cur.VerificationsTotal++
	r.s.platforms[p.ID] = cur
	p.UsageMonth, p.VerificationsThisMonth, p.VerificationsTotal = cur.UsageMonth, cur.VerificationsThisMonth, cur.VerificationsTotal
	return true, nil
}
