// Package crypto implements the signature, hashing and randomness primitives of the proof protocol.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateNonce returns n random bytes hex-encoded (2n characters).
func GenerateNonce(n int) (string, error) {
	b, err := RandBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateToken returns n random bytes as unpadded URL-safe base64.
func GenerateToken(n int) (string, error) {
	b, err := RandBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Hex computes the SHA-256 hash of data as lowercase hex.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// DecodeBase64 accepts standard and URL-safe alphabets, padded or not.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty base64")
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("invalid base64")
}

// VerifySignature checks an Ed25519 signature made over SHA-256(message).
// Any decode or verification problem yields false.
func VerifySignature(publicKeyB64, signatureB64, message string) bool {
	pub, err := DecodeBase64(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := DecodeBase64(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	digest := sha256.Sum256([]byte(message))
	return ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig)
}

// SignMessage signs SHA-256(message) with priv and returns standard base64.
// It is the agent-side counterpart of VerifySignature.
func SignMessage(priv ed25519.PrivateKey, message string) string {
	digest := sha256.Sum256([]byte(message))
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest[:]))
}
