package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/and161185/agentproof/internal/convert"
	"github.com/and161185/agentproof/internal/crypto"
	"github.com/and161185/agentproof/internal/model"
	httpserver "github.com/and161185/agentproof/internal/server/http"
)

// Answer is what the operator supplies for the tasks the CLI cannot solve on its own.
type Answer struct {
	Line  int
	Issue string
	Fix   string
	Bio   string
}

// APIError is a non-2xx response of the HTTP API.
type APIError struct {
	Status int
	Body   httpserver.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Code == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Body.Code, e.Body.Message)
}

type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), hc: &http.Client{Timeout: 15 * time.Second}}
}

func (c *apiClient) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agentproof-cli/"+version)
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateChallenge starts a challenge for name.
func (c *apiClient) CreateChallenge(ctx context.Context, name, desc, difficulty string) (*httpserver.ChallengeView, error) {
	var ch httpserver.ChallengeView
	in := map[string]string{"name": name, "description": desc, "difficulty": difficulty}
	if err := c.do(ctx, http.MethodPost, c.base+"/v1/challenges", in, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChallenge loads the challenge and its task descriptors.
func (c *apiClient) GetChallenge(ctx context.Context, id string) (*httpserver.ChallengeView, error) {
	var ch httpserver.ChallengeView
	if err := c.do(ctx, http.MethodGet, c.base+"/v1/challenges/"+id, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// FetchSpeed fetches all endpoints concurrently and concatenates the tokens in endpoint order.
func (c *apiClient) FetchSpeed(ctx context.Context, endpoints []string) (string, error) {
	tokens := make([]string, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			var sv httpserver.SpeedView
			if err := c.do(gctx, http.MethodGet, ep, nil, &sv); err != nil {
				return fmt.Errorf("speed %d: %w", i, err)
			}
			tokens[i] = sv.Token
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(tokens, ""), nil
}

// Submit posts the responses and returns the outcome.
func (c *apiClient) Submit(ctx context.Context, id string, responses []convert.WireResponse) (*model.Outcome, error) {
	var out model.Outcome
	in := map[string]any{"responses": responses}
	if err := c.do(ctx, http.MethodPost, c.base+"/v1/challenges/"+id+"/submit", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Solve loads the challenge, completes the speed and crypto tasks itself and submits
// them together with the supplied answer.
func (c *apiClient) Solve(ctx context.Context, id string, priv ed25519.PrivateKey, a Answer) (*model.Outcome, error) {
	ch, err := c.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.Status != model.StatusPending {
		return nil, fmt.Errorf("challenge is %s", ch.Status)
	}
	var message string
	var endpoints []string
	for _, t := range ch.Tasks {
		switch t.Type {
		case model.TaskCrypto:
			message = t.Message
		case model.TaskSpeed:
			endpoints = t.Endpoints
		}
	}
	if message == "" || len(endpoints) == 0 {
		return nil, fmt.Errorf("challenge %s has no crypto or speed task", id)
	}
	combined, err := c.FetchSpeed(ctx, endpoints)
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, id, buildResponses(priv, message, combined, a))
}

func buildResponses(priv ed25519.PrivateKey, message, combined string, a Answer) []convert.WireResponse {
	return []convert.WireResponse{
		{Type: string(model.TaskCrypto), PublicKey: publicKeyB64(priv), Signature: crypto.SignMessage(priv, message)},
		{Type: string(model.TaskSpeed), Combined: combined},
		{Type: string(model.TaskReasoning), Line: a.Line, Issue: a.Issue, Fix: a.Fix},
		{Type: string(model.TaskGeneration), Bio: strings.TrimSpace(a.Bio)},
	}
}
