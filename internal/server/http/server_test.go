package httpserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/agentproof/internal/convert"
	"github.com/and161185/agentproof/internal/crypto"
	"github.com/and161185/agentproof/internal/limiter"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository/memory"
	"github.com/and161185/agentproof/internal/service"
	"github.com/and161185/agentproof/internal/token"
)

func init() { gin.SetMode(gin.TestMode) }

type env struct {
	t      *testing.T
	h      http.Handler
	store  *memory.Store
	engine *service.ChallengeServiceImpl
	gate   *service.PlatformGateImpl
	apiKey string
}

func newEnv(t *testing.T, limits limiter.Limits) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memory.New()
	signer := token.NewSigner(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize)), "agentproof", "platforms")
	creds := service.NewCredentialService(st.Agents(), st.Proofs(), st.Activity(), signer, 30, log)
	an := limiter.NewAnalyzer(st.Activity(), limits, log)
	engine := service.NewChallengeService(st.Challenges(), st.Activity(), st.Agents(), an, creds,
		service.ChallengeConfig{BaseURL: "http://api.test"}, log)
	gate := service.NewPlatformGate(st.Platforms(), creds, nil, service.BurstConfig{}, log)
	_, key, err := gate.Provision(context.Background(), "shop", model.TierFree)
	require.NoError(t, err)

	srv, err := New(Deps{Challenges: engine, Platforms: gate, Log: log, BaseURL: "http://api.test"})
	require.NoError(t, err)
	return &env{t: t, h: srv.Handler(), store: st, engine: engine, gate: gate, apiKey: key}
}

var relaxed = limiter.Limits{PerIPHour: 100, PerFingerprintHour: 100, KeysPerIPDay: 100}

func (e *env) do(method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agent-test/1.0")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *env) create() ChallengeView {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v1/challenges", map[string]string{"name": "scout", "difficulty": "easy"}, nil)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ChallengeView](e.t, rec)
}

func bio() string {
	words := make([]string, 60)
	for i := range words {
		words[i] = fmt.Sprintf("token%d", i)
	}
	return strings.Join(words, " ")
}

func (e *env) solve(ch ChallengeView) submitRequest {
	e.t.Helper()
	var combined strings.Builder
	for _, ep := range ch.Tasks[1].Endpoints {
		rec := e.do(http.MethodGet, strings.TrimPrefix(ep, "http://api.test"), nil, nil)
		require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
		combined.WriteString(decode[SpeedView](e.t, rec).Token)
	}
	dc, err := e.store.Challenges().Dynamic(context.Background(), ch.ChallengeID)
	require.NoError(e.t, err)

	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{1}, ed25519.SeedSize))
	pub := base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey))
	return submitRequest{Responses: []convert.WireResponse{
		{Type: "crypto", PublicKey: pub, Signature: crypto.SignMessage(priv, ch.Tasks[0].Message)},
		{Type: "speed", Combined: combined.String()},
		{Type: "reasoning", Line: dc.Answer.Line, Issue: dc.Answer.Issue, Fix: dc.Answer.Fix},
		{Type: "generation", Bio: bio()},
	}}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	e := newEnv(t, relaxed)
	rec := e.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestFlow_CreateSubmitVerify(t *testing.T) {
	t.Parallel()
	e := newEnv(t, relaxed)

	ch := e.create()
	require.Equal(t, model.StatusPending, ch.Status)
	require.Equal(t, 45, ch.TimeLimitSeconds)
	require.Len(t, ch.Tasks, 4)
	require.Equal(t, "http://api.test/v1/challenges/"+ch.ChallengeID.String()+"/submit", ch.SubmitURL)

	rec := e.do(http.MethodGet, "/v1/challenges/"+ch.ChallengeID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := e.solve(ch)
	rec = e.do(http.MethodPost, "/v1/challenges/"+ch.ChallengeID.String()+"/submit", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[model.Outcome](t, rec)
	require.True(t, out.Success, rec.Body.String())
	require.NotNil(t, out.Proof)

	rec = e.do(http.MethodPost, "/v1/verify", verifyRequest{Token: out.Proof.Token}, map[string]string{APIKeyHeader: e.apiKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v := decode[model.Verification](t, rec)
	require.True(t, v.Valid)
	require.Equal(t, "scout", v.Agent.Name)

	rec = e.do(http.MethodPost, "/v1/verify", verifyRequest{Token: "junk"}, map[string]string{APIKeyHeader: e.apiKey})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, token.ReasonMalformed, decode[model.Verification](t, rec).Error)

	rec = e.do(http.MethodPost, "/v1/verify", verifyRequest{Token: out.Proof.Token}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(http.MethodPost, "/v1/verify", verifyRequest{Token: out.Proof.Token}, map[string]string{APIKeyHeader: "ap_nope-nope-nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/v1/challenges/"+ch.ChallengeID.String()+"/submit", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "ALREADY_COMPLETED", decode[ErrorResponse](t, rec).Code)
}

func TestToolUse(t *testing.T) {
	t.Parallel()
	e := newEnv(t, relaxed)
	ch := e.create()
	base := "/v1/challenges/" + ch.ChallengeID.String() + "/tool-use/"

	rec := e.do(http.MethodPost, base+"0", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	start := decode[service.ToolUseReply](t, rec)
	require.NotEmpty(t, start.NextValue)

	rec = e.do(http.MethodPost, base+"2", toolUseRequest{Value: start.NextValue}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "STEP_ORDER", decode[ErrorResponse](t, rec).Code)

	rec = e.do(http.MethodPost, base+"1", toolUseRequest{Value: start.NextValue}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[service.ToolUseReply](t, rec).Accepted)

	rec = e.do(http.MethodPost, base+"1", toolUseRequest{Value: "nope"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "STEP_ORDER", decode[ErrorResponse](t, rec).Code)

	rec = e.do(http.MethodPost, base+"x", toolUseRequest{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t, relaxed)
	ch := e.create()
	id := ch.ChallengeID.String()

	cases := []struct {
		name, method, path string
		body               any
		status             int
		code               string
	}{
		{"bad id", http.MethodGet, "/v1/challenges/nope", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown id", http.MethodGet, "/v1/challenges/" + uuid.Must(uuid.NewV4()).String(), nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad slot", http.MethodGet, "/v1/challenges/" + id + "/speed/z", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"empty name", http.MethodPost, "/v1/challenges", map[string]string{"name": ""}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad json", http.MethodPost, "/v1/challenges", "{", http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown response type", http.MethodPost, "/v1/challenges/" + id + "/submit",
			map[string]any{"responses": []map[string]string{{"type": "telepathy"}}}, http.StatusBadRequest, "INVALID_INPUT"},
		{"empty responses", http.MethodPost, "/v1/challenges/" + id + "/submit",
			map[string]any{"responses": []any{}}, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tc := range cases {
		rec := e.do(tc.method, tc.path, tc.body, nil)
		require.Equal(t, tc.status, rec.Code, "%s: %s", tc.name, rec.Body.String())
		require.Equal(t, tc.code, decode[ErrorResponse](t, rec).Code, tc.name)
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()
	e := newEnv(t, relaxed)
	ch := e.create()
	e.engine.Now = func() time.Time { return time.Now().Add(time.Hour) }

	rec := e.do(http.MethodGet, "/v1/challenges/"+ch.ChallengeID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, model.StatusExpired, decode[ChallengeView](t, rec).Status)

	rec = e.do(http.MethodGet, "/v1/challenges/"+ch.ChallengeID.String()+"/speed/a", nil, nil)
	require.Equal(t, http.StatusGone, rec.Code)
	require.Equal(t, "EXPIRED", decode[ErrorResponse](t, rec).Code)
}

func TestRateLimited(t *testing.T) {
	t.Parallel()
	e := newEnv(t, limiter.Limits{PerIPHour: 1})
	e.create()

	rec := e.do(http.MethodPost, "/v1/challenges", map[string]string{"name": "scout"}, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	er := decode[ErrorResponse](t, rec)
	require.Equal(t, "RATE_LIMITED", er.Code)
	require.Equal(t, limiter.ReasonIPHourly, er.Details["reason"])
}

func TestVerify_QuotaExceeded(t *testing.T) {
	t.Parallel()
	e := newEnv(t, relaxed)
	key := "ap_tiny-quota-key-0001"
	require.NoError(t, e.store.Platforms().Create(context.Background(), &model.Platform{
		ID: uuid.Must(uuid.NewV4()), Name: "tiny", APIKeyHash: crypto.SHA256Hex([]byte(key)),
		Tier: model.TierFree, MonthlyQuota: 1, UsageMonth: model.UsageMonth(time.Now()), Active: true,
	}))

	hdr := map[string]string{APIKeyHeader: key}
	rec := e.do(http.MethodPost, "/v1/verify", verifyRequest{Token: "a.b.c"}, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(http.MethodPost, "/v1/verify", verifyRequest{Token: "a.b.c"}, hdr)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.Equal(t, "QUOTA_EXCEEDED", decode[ErrorResponse](t, rec).Code)
}

func TestRecoverJSON(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(RecoverJSON(zaptest.NewLogger(t)))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "INTERNAL")
}
