// Package agentkey seals an agent's Ed25519 private key at rest under a passphrase.
package agentkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Params
const (
	SaltLen = 16
	KEKLen  = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

var magic = []byte("APK1")

var hkdfInfo = []byte("agentproof/agentkey/v1")

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKEK derives a KEK from passphrase and salt using Argon2id.
func DeriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KEKLen)
}

// sealKey expands the KEK into the AEAD key via HKDF-SHA256.
func sealKey(kek []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, kek, nil, hkdfInfo)
	key := make([]byte, chacha20poly1305.KeySize)
	_, err := r.Read(key)
	return key, err
}

// Seal encrypts priv: magic || salt || nonce || XChaCha20-Poly1305(seed).
func Seal(passphrase []byte, priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("bad private key size")
	}
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	key, err := sealKey(DeriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magic)+SaltLen+len(nonce)+ed25519.SeedSize+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, priv.Seed(), magic)...)
	return out, nil
}

// Open decrypts a sealed key produced by Seal.
func Open(passphrase, sealed []byte) (ed25519.PrivateKey, error) {
	head := len(magic) + SaltLen + chacha20poly1305.NonceSizeX
	if len(sealed) < head || string(sealed[:len(magic)]) != string(magic) {
		return nil, errors.New("not a sealed agent key")
	}
	salt := sealed[len(magic) : len(magic)+SaltLen]
	nonce := sealed[len(magic)+SaltLen : head]
	key, err := sealKey(DeriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	seed, err := aead.Open(nil, nonce, sealed[head:], magic)
	if err != nil {
		return nil, errors.New("wrong passphrase or corrupted key")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("bad seed size")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
