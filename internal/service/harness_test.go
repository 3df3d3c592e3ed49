package service

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/agentproof/internal/crypto"
	"github.com/and161185/agentproof/internal/limiter"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository/memory"
	"github.com/and161185/agentproof/internal/token"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store    *memory.Store
	clock    *clock
	engine   *ChallengeServiceImpl
	creds    *CredentialServiceImpl
	analyzer *limiter.Analyzer
	signer   *token.Signer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	clk := &clock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	st := memory.New()

	signer := token.NewSigner(ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)), "agentproof", "agentproof-platforms")
	signer.Now = clk.Now

	an := limiter.NewAnalyzer(st.Activity(), limiter.DefaultLimits, log)
	an.Now = clk.Now

	creds := NewCredentialService(st.Agents(), st.Proofs(), st.Activity(), signer, 30, log)
	creds.Now = clk.Now

	eng := NewChallengeService(st.Challenges(), st.Activity(), st.Agents(), an, creds,
		ChallengeConfig{BaseURL: "https://api.test"}, log)
	eng.Now = clk.Now
	var seed uint64
	var seedMu sync.Mutex
	eng.Rand = func() (*rand.Rand, error) {
		seedMu.Lock()
		defer seedMu.Unlock()
		seed++
		return rand.New(rand.NewPCG(seed, seed*31)), nil
	}
	return &harness{store: st, clock: clk, engine: eng, creds: creds, analyzer: an, signer: signer}
}

// agent plays the caller side of the protocol.
type agent struct {
	priv ed25519.PrivateKey
	pub  string
}

func newAgent(seed byte) agent {
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	priv := ed25519.NewKeyFromSeed(s)
	return agent{priv: priv, pub: base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey))}
}

func (h *harness) create(t *testing.T, ip string) *model.Challenge {
	t.Helper()
	c, err := h.engine.Create(context.Background(), CreateRequest{Name: "scout", Description: "test agent", IP: ip})
	require.NoError(t, err)
	return c
}

// fetchAll fetches the three speed tokens with gap between fetches and returns the combined value.
func (h *harness) fetchAll(t *testing.T, id uuid.UUID, gap time.Duration) string {
	t.Helper()
	var b strings.Builder
	for i, slot := range model.SpeedSlots {
		if i > 0 {
			h.clock.Advance(gap)
		}
		tok, err := h.engine.FetchSpeedToken(context.Background(), id, string(slot))
		require.NoError(t, err)
		b.WriteString(tok.Token)
	}
	return b.String()
}

func (h *harness) answer(t *testing.T, id uuid.UUID) model.ReasoningResponse {
	t.Helper()
	dc, err := h.store.Challenges().Dynamic(context.Background(), id)
	require.NoError(t, err)
	return model.ReasoningResponse{Line: dc.Answer.Line, Issue: dc.Answer.Issue, Fix: dc.Answer.Fix}
}

// solve answers every required task correctly, fetching tokens 300ms apart.
func (h *harness) solve(t *testing.T, c *model.Challenge, a agent, bio string) []model.Response {
	t.Helper()
	combined := h.fetchAll(t, c.ID, 300*time.Millisecond)
	return []model.Response{
		model.CryptoResponse{PublicKey: a.pub, Signature: crypto.SignMessage(a.priv, c.SignMessage())},
		model.SpeedResponse{Combined: combined},
		h.answer(t, c.ID),
		model.GenerationResponse{Bio: bio},
	}
}

var bioTopics = []string{
	"weather", "ledger", "compiler", "orchard", "telescope", "harbor", "violin", "glacier",
	"archive", "lantern", "meadow", "circuit", "canyon", "bakery", "satellite", "quarry",
}

// uniqueBio builds a bio of n words whose vocabulary is dominated by variant.
func uniqueBio(variant, n int) string {
	words := make([]string, 0, n)
	for i := range n {
		words = append(words, fmt.Sprintf("%s%d", bioTopics[(variant+i)%len(bioTopics)], variant*1000+i))
	}
	return strings.Join(words, " ")
}

func result(out *model.Outcome, tt model.TaskType) model.TaskResult {
	for _, r := range out.Results {
		if r.Type == tt {
			return r
		}
	}
	return model.TaskResult{}
}
