package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/agentproof/internal/limiter"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository/memory"
	httpserver "github.com/and161185/agentproof/internal/server/http"
	"github.com/and161185/agentproof/internal/service"
	"github.com/and161185/agentproof/internal/token"
)

func init() { gin.SetMode(gin.TestMode) }

// liveAPI runs the real HTTP API over the memory store on a local listener.
func liveAPI(t *testing.T) (*apiClient, *memory.Store) {
	t.Helper()
	log := zaptest.NewLogger(t)

	var h http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { h.ServeHTTP(w, r) }))
	t.Cleanup(ts.Close)

	st := memory.New()
	signer := token.NewSigner(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{5}, ed25519.SeedSize)), "agentproof", "platforms")
	creds := service.NewCredentialService(st.Agents(), st.Proofs(), st.Activity(), signer, 30, log)
	an := limiter.NewAnalyzer(st.Activity(), limiter.Limits{PerIPHour: 100}, log)
	engine := service.NewChallengeService(st.Challenges(), st.Activity(), st.Agents(), an, creds,
		service.ChallengeConfig{BaseURL: ts.URL}, log)
	gate := service.NewPlatformGate(st.Platforms(), creds, nil, service.BurstConfig{}, log)
	srv, err := httpserver.New(httpserver.Deps{Challenges: engine, Platforms: gate, Log: log, BaseURL: ts.URL})
	require.NoError(t, err)
	h = srv.Handler()

	return newAPIClient(ts.URL + "/"), st
}

func testBio() string {
	words := make([]string, 70)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestSolve_EndToEnd(t *testing.T) {
	t.Parallel()
	api, st := liveAPI(t)
	ctx := context.Background()

	ch, err := api.CreateChallenge(ctx, "cli-agent", "", "standard")
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, ch.Status)

	dc, err := st.Challenges().Dynamic(ctx, ch.ChallengeID)
	require.NoError(t, err)

	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{6}, ed25519.SeedSize))
	out, err := api.Solve(ctx, ch.ChallengeID.String(), priv, Answer{
		Line: dc.Answer.Line, Issue: dc.Answer.Issue, Fix: dc.Answer.Fix, Bio: testBio(),
	})
	require.NoError(t, err)
	require.True(t, out.Success, "%+v", out.Results)
	require.NotNil(t, out.Proof)

	claims, err := inspectToken(out.Proof.Token)
	require.NoError(t, err)
	require.Equal(t, "cli-agent", claims.AgentProof.Agent.Name)

	_, err = api.Solve(ctx, ch.ChallengeID.String(), priv, Answer{Bio: testBio()})
	require.ErrorContains(t, err, "challenge is completed")
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()
	api, _ := liveAPI(t)
	ctx := context.Background()

	_, err := api.GetChallenge(ctx, uuid.Must(uuid.NewV4()).String())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "NOT_FOUND", apiErr.Body.Code)

	_, err = api.CreateChallenge(ctx, "", "", "")
	require.ErrorContains(t, err, "http 400 INVALID_INPUT")

	_, err = api.FetchSpeed(ctx, []string{api.base + "/v1/challenges/" + uuid.Must(uuid.NewV4()).String() + "/speed/a"})
	require.ErrorContains(t, err, "speed 0")
}

func TestBuildResponses(t *testing.T) {
	t.Parallel()
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{2}, ed25519.SeedSize))
	rs := buildResponses(priv, "msg", "abc", Answer{Line: 3, Issue: "i", Fix: "f", Bio: "  bio \n"})
	require.Len(t, rs, 4)
	require.Equal(t, "crypto", rs[0].Type)
	require.Equal(t, publicKeyB64(priv), rs[0].PublicKey)
	require.Equal(t, "abc", rs[1].Combined)
	require.Equal(t, 3, rs[2].Line)
	require.Equal(t, "bio", rs[3].Bio)
}
