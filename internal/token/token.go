// Package token signs and verifies EdDSA proof tokens.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/agentproof/internal/crypto"
	"github.com/and161185/agentproof/internal/model"
)

// ClaimVersion is the schema version of the agentproof claim.
const ClaimVersion = "1.0"

// Verification failure reasons.
const (
	ReasonExpired          = "expired"
	ReasonMalformed        = "malformed"
	ReasonInvalidSignature = "invalid_signature"
	ReasonInvalidIssuer    = "invalid_issuer"
	ReasonInvalidAudience  = "invalid_audience"
	ReasonInvalid          = "invalid"
)

// AgentClaim identifies the agent inside the token.
type AgentClaim struct {
	Name         string   `json:"name"`
	PublicKey    string   `json:"public_key"`
	Capabilities []string `json:"capabilities"`
}

// Payload is the structured proof claim.
type Payload struct {
	Version     string           `json:"version"`
	ChallengeID string           `json:"challenge_id"`
	Difficulty  model.Difficulty `json:"difficulty"`
	TasksPassed []model.TaskType `json:"tasks_passed"`
	TimeTakenMs int64            `json:"time_taken_ms"`
	Agent       AgentClaim       `json:"agent"`
}

// Claims are the registered JWT claims plus the agentproof payload.
type Claims struct {
	jwt.RegisteredClaims
	AgentProof Payload `json:"agentproof"`
}

// VerifyResult is the outcome of Verify. Reason is set only when Valid is false.
type VerifyResult struct {
	Valid  bool
	Claims *Claims
	Reason string
}

// Signer mints and checks proof tokens with a single in-process key pair.
type Signer struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	issuer   string
	audience string

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewSigner constructs a Signer.
func NewSigner(priv ed25519.PrivateKey, issuer, audience string) *Signer {
	return &Signer{
		priv:     priv,
		pub:      priv.Public().(ed25519.PublicKey),
		issuer:   issuer,
		audience: audience,
		Now:      time.Now,
	}
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Sign issues a token for agentID with jti = proofID, valid for expiryDays.
func (s *Signer) Sign(agentID, proofID uuid.UUID, payload Payload, expiryDays int) (string, time.Time, error) {
	if expiryDays <= 0 {
		return "", time.Time{}, errors.New("expiry must be positive")
	}
	if payload.Version == "" {
		payload.Version = ClaimVersion
	}
	now := s.Now().Truncate(time.Second)
	exp := now.AddDate(0, 0, expiryDays)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   agentID.String(),
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        proofID.String(),
		},
		AgentProof: payload,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.priv)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, audience and expiry.
func (s *Signer) Verify(tokenString string) VerifyResult {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return s.pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.Now),
	)
	if err != nil {
		return VerifyResult{Reason: reason(err)}
	}
	return VerifyResult{Valid: true, Claims: &claims}
}

func reason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonInvalidSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonInvalidIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonInvalidAudience
	}
	return ReasonInvalid
}

// LoadKey parses a signing key given as base64 (32-byte seed or 64-byte private key) or
// a 64-char hex seed. An empty value yields an ephemeral key and a warning: tokens
// signed with it stop verifying after a restart.
func LoadKey(value string, log *zap.Logger) (ed25519.PrivateKey, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if value == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		log.Warn("NO SIGNING KEY CONFIGURED: using an ephemeral Ed25519 key, issued proof tokens will not survive a restart",
			zap.String("public_key_hex", hex.EncodeToString(priv.Public().(ed25519.PublicKey))))
		return priv, nil
	}
	if len(value) == 2*ed25519.SeedSize {
		if seed, err := hex.DecodeString(value); err == nil {
			return ed25519.NewKeyFromSeed(seed), nil
		}
	}
	decoded, err := crypto.DecodeBase64(value)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	switch len(decoded) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	}
	return nil, fmt.Errorf("signing key: unexpected length %d", len(decoded))
}
