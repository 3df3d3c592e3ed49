package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/token"
)

func issueOne(t *testing.T, h *harness, ip string) *model.Outcome {
	t.Helper()
	c := h.create(t, ip)
	out, err := h.engine.Submit(context.Background(), c.ID, h.solve(t, c, newAgent(11), uniqueBio(9, 64)))
	require.NoError(t, err)
	require.True(t, out.Success, "%+v", out.Results)
	return out
}

func TestVerify_CountsAndRevocation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	out := issueOne(t, h, "10.20.0.1")

	for i := 1; i <= 3; i++ {
		v, err := h.creds.Verify(ctx, out.Proof.Token)
		require.NoError(t, err)
		require.True(t, v.Valid)
		require.Equal(t, int64(i), v.Proof.VerificationCount)
	}

	require.ErrorIs(t, h.creds.Revoke(ctx, uuid.Nil, "x"), errs.ErrInvalidInput)
	require.ErrorIs(t, h.creds.Revoke(ctx, uuid.Must(uuid.NewV4()), "x"), errs.ErrNotFound)
	require.NoError(t, h.creds.Revoke(ctx, out.Proof.ID, "key compromised"))

	v, err := h.creds.Verify(ctx, out.Proof.Token)
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, ReasonRevoked, v.Error)
	require.Nil(t, v.Agent)
}

func TestVerify_TokenReasons(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	out := issueOne(t, h, "10.21.0.1")

	v, err := h.creds.Verify(ctx, "not-a-jwt")
	require.NoError(t, err)
	require.Equal(t, token.ReasonMalformed, v.Error)

	tampered := out.Proof.Token[:len(out.Proof.Token)-4] + "AAAA"
	v, err = h.creds.Verify(ctx, tampered)
	require.NoError(t, err)
	require.False(t, v.Valid)

	h.clock.Advance(31 * 24 * time.Hour)
	v, err = h.creds.Verify(ctx, out.Proof.Token)
	require.NoError(t, err)
	require.Equal(t, token.ReasonExpired, v.Error)
}

func TestVerify_UnknownProofAndSuspendedAgent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	orphan, _, err := h.signer.Sign(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), token.Payload{ChallengeID: "x"}, 1)
	require.NoError(t, err)
	v, err := h.creds.Verify(ctx, orphan)
	require.NoError(t, err)
	require.Equal(t, ReasonUnknownProof, v.Error)

	// a re-registered key keeps its stored status
	_, err = h.store.Agents().Register(ctx, &model.Agent{
		ID: uuid.Must(uuid.NewV4()), Name: "old", PublicKey: newAgent(11).pub, Status: model.AgentSuspended,
	})
	require.NoError(t, err)
	out := issueOne(t, h, "10.22.0.1")
	require.Equal(t, model.AgentSuspended, out.Agent.Status)

	v, err = h.creds.Verify(ctx, out.Proof.Token)
	require.NoError(t, err)
	require.Equal(t, ReasonAgentSuspended, v.Error)
}

func TestIssue_ReusesAgentForKey(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	first := issueOne(t, h, "10.23.0.1")
	h.clock.Advance(time.Minute)
	c := h.create(t, "10.23.0.2")
	out, err := h.engine.Submit(ctx, c.ID, h.solve(t, c, newAgent(11), uniqueBio(12, 64)))
	require.NoError(t, err)
	require.True(t, out.Success, "%+v", out.Results)
	require.Equal(t, first.Agent.ID, out.Agent.ID)
	require.NotEqual(t, first.Proof.ID, out.Proof.ID)

	// the agent_register entries feed the identity farming gate
	keys, err := h.store.Activity().DistinctPublicKeysByIP(ctx, "10.23.0.2", h.clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, keys.Count)
}

type failingProofs struct{ err error }

func (f failingProofs) Create(context.Context, *model.Proof) error { return f.err }
func (f failingProofs) GetByID(context.Context, uuid.UUID) (*model.Proof, error) {
	return nil, f.err
}
func (f failingProofs) RecordVerification(context.Context, uuid.UUID, time.Time) error { return f.err }
func (f failingProofs) Revoke(context.Context, uuid.UUID, string) error               { return f.err }

func TestIssue_StorageErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	boom := errors.New("boom")

	s := NewCredentialService(h.store.Agents(), failingProofs{err: boom}, h.store.Activity(), h.signer, 0, nil)
	require.Equal(t, 30, s.expiryDays)

	_, err := s.Issue(ctx, IssueRequest{})
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	c := &model.Challenge{ID: uuid.Must(uuid.NewV4()), AgentName: "scout", Difficulty: model.DifficultyEasy}
	_, err = s.Issue(ctx, IssueRequest{Challenge: c, PublicKey: newAgent(1).pub})
	require.ErrorIs(t, err, boom)

	_, err = s.Verify(ctx, "x.y.z")
	require.NoError(t, err)

	tok, _, err := h.signer.Sign(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), token.Payload{}, 1)
	require.NoError(t, err)
	_, err = s.Verify(ctx, tok)
	require.ErrorIs(t, err, boom)
}
