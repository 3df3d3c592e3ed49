package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestGenerateNonceAndToken(t *testing.T) {
	t.Parallel()

	n, err := GenerateNonce(16)
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	if len(n) != 32 {
		t.Fatalf("nonce len=%d, want 32", len(n))
	}
	if _, err := hex.DecodeString(n); err != nil {
		t.Fatalf("nonce not hex: %v", err)
	}

	tok, err := GenerateToken(24)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil || len(raw) != 24 {
		t.Fatalf("token not url-safe base64 of 24 bytes: %q err=%v", tok, err)
	}

	tok2, _ := GenerateToken(24)
	if tok == tok2 {
		t.Fatalf("two tokens are equal")
	}
}

func TestDecodeBase64_Alphabets(t *testing.T) {
	t.Parallel()

	data := []byte{0xfb, 0xff, 0xfe, 0x01, 0x02}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		got, err := DecodeBase64(enc.EncodeToString(data))
		if err != nil || !bytes.Equal(got, data) {
			t.Fatalf("decode mismatch: %v %v", got, err)
		}
	}
	if _, err := DecodeBase64("***"); err == nil {
		t.Fatalf("want error on garbage")
	}
	if _, err := DecodeBase64("  "); err == nil {
		t.Fatalf("want error on empty")
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg := "agentproof:abc:bot"
	sig := SignMessage(priv, msg)
	pubStd := base64.StdEncoding.EncodeToString(pub)
	pubURL := base64.RawURLEncoding.EncodeToString(pub)

	if !VerifySignature(pubStd, sig, msg) {
		t.Fatalf("valid signature rejected")
	}
	rawSig, _ := base64.StdEncoding.DecodeString(sig)
	if !VerifySignature(pubURL, base64.RawURLEncoding.EncodeToString(rawSig), msg) {
		t.Fatalf("url-safe encodings rejected")
	}
	if VerifySignature(pubStd, sig, msg+"x") {
		t.Fatalf("signature over different message accepted")
	}

	// A signature over the raw message (not the digest) must not verify.
	rawMsgSig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(msg)))
	if VerifySignature(pubStd, rawMsgSig, msg) {
		t.Fatalf("signature over undigested message accepted")
	}

	digest := sha256.Sum256([]byte(msg))
	if !ed25519.Verify(pub, digest[:], rawSig) {
		t.Fatalf("SignMessage must sign the SHA-256 digest")
	}

	for _, tc := range []struct{ pub, sig string }{
		{"", sig},
		{pubStd, ""},
		{"not base64!", sig},
		{base64.StdEncoding.EncodeToString([]byte("short")), sig},
		{pubStd, base64.StdEncoding.EncodeToString([]byte("short"))},
	} {
		if VerifySignature(tc.pub, tc.sig, msg) {
			t.Fatalf("malformed input accepted: %+v", tc)
		}
	}
}

func TestSHA256Hex(t *testing.T) {
	t.Parallel()

	if got := SHA256Hex([]byte("abc")); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("SHA256Hex(abc)=%s", got)
	}
}
