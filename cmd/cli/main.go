// Command agentproof is a CLI for agents taking proof-of-agency challenges and for
// platforms verifying the resulting proof tokens.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/agentproof/internal/crypto"
	"github.com/and161185/agentproof/internal/crypto/agentkey"
	grpcserver "github.com/and161185/agentproof/internal/server/grpc"
	"github.com/and161185/agentproof/internal/token"
)

// PassphraseEnv supplies the key passphrase when -pass is not given.
const PassphraseEnv = "AGENTPROOF_PASSPHRASE"

// ---- config/key store ----

type proofFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "agentproof")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "agentproof")
}

func keyPath() string   { return filepath.Join(cfgDir(), "agent.key") }
func proofPath() string { return filepath.Join(cfgDir(), "proof.json") }

func saveProof(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(proofPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(proofFile{Token: tok, ExpiresAt: exp})
}

func loadProof() (string, error) {
	b, err := os.ReadFile(proofPath())
	if err != nil {
		return "", err
	}
	var pf proofFile
	if err := json.Unmarshal(b, &pf); err != nil {
		return "", err
	}
	if pf.Token == "" || time.Now().After(pf.ExpiresAt) {
		return "", errors.New("no valid proof (pass a challenge first)")
	}
	return pf.Token, nil
}

// saveKey seals priv under pass. An existing key is kept unless force is set.
func saveKey(pass []byte, priv ed25519.PrivateKey, force bool) error {
	if _, err := os.Stat(keyPath()); err == nil && !force {
		return fmt.Errorf("%s exists (use -force to replace it)", keyPath())
	}
	sealed, err := agentkey.Seal(pass, priv)
	if err != nil {
		return err
	}
	_ = os.MkdirAll(cfgDir(), 0o700)
	return os.WriteFile(keyPath(), sealed, 0o600)
}

func loadKey(pass []byte) (ed25519.PrivateKey, error) {
	sealed, err := os.ReadFile(keyPath())
	if err != nil {
		return nil, fmt.Errorf("no agent key (run keygen): %w", err)
	}
	return agentkey.Open(pass, sealed)
}

func passphrase(v string) ([]byte, error) {
	if v == "" {
		v = os.Getenv(PassphraseEnv)
	}
	if v == "" {
		return nil, fmt.Errorf("passphrase required (-pass or %s)", PassphraseEnv)
	}
	return []byte(v), nil
}

func publicKeyB64(priv ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey))
}

// ---- grpc dial ----

type apiKeyCreds struct {
	key    string
	secure bool
}

func (a apiKeyCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{grpcserver.APIKeyHeader: a.key}, nil
}
func (a apiKeyCreds) RequireTransportSecurity() bool { return a.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(addr, caPath string, skipVerify, plaintext bool, apiKey string) (*grpc.ClientConn, error) {
	var tc credentials.TransportCredentials
	if plaintext {
		tc = insecure.NewCredentials()
	} else {
		var err error
		if tc, err = loadTLS(caPath, skipVerify); err != nil {
			return nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(tc)}
	if apiKey != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCreds{key: apiKey, secure: !plaintext}))
	}
	return grpc.NewClient(addr, opts...)
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// inspectToken decodes proof token claims without checking the signature.
func inspectToken(tok string) (*token.Claims, error) {
	var claims token.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `agentproof CLI
Usage:
  agentproof [-api URL] [-addr HOST:PORT] [-cacert file | -insecure | -plaintext] <cmd> [args]

Agent commands:
  version
  keygen     [-pass <p>] [-force]                   (seals a new Ed25519 key)
  pubkey     [-pass <p>]
  sign       [-pass <p>] -msg <message>
  challenge  -name <agent> [-desc <text>] [-difficulty easy|standard|hard]
  submit     -id <uuid> [-pass <p>] -line <n> -issue <text> -fix <text> -bio <file|->
                                                    (fetches speed tokens, signs, submits; saves proof)
Platform commands:
  verify     -api-key <key> [-token <jwt>]          (gRPC; defaults to the saved proof)
  inspect    [-token <jwt>]                         (decodes claims without verification)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands; challenge and submit talk HTTP, verify talks gRPC.
func main() {
	// global flags
	api := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	addr := flag.String("addr", "localhost:9090", "gRPC server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "gRPC without TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("agentproof %s (%s)\n", version, buildDate)

	case "keygen":
		fs := flag.NewFlagSet("keygen", flag.ExitOnError)
		p := fs.String("pass", "", "key passphrase")
		force := fs.Bool("force", false, "replace an existing key")
		_ = fs.Parse(args)
		pass, err := passphrase(*p)
		if err != nil {
			fail(err)
		}
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fail(err)
		}
		if err := saveKey(pass, priv, *force); err != nil {
			fail(err)
		}
		fmt.Println(publicKeyB64(priv))

	case "pubkey":
		fs := flag.NewFlagSet("pubkey", flag.ExitOnError)
		p := fs.String("pass", "", "key passphrase")
		_ = fs.Parse(args)
		priv := mustKey(*p)
		fmt.Println(publicKeyB64(priv))

	case "sign":
		fs := flag.NewFlagSet("sign", flag.ExitOnError)
		p := fs.String("pass", "", "key passphrase")
		msg := fs.String("msg", "", "message to sign")
		_ = fs.Parse(args)
		if *msg == "" {
			fmt.Fprintln(os.Stderr, "need -msg")
			os.Exit(1)
		}
		priv := mustKey(*p)
		fmt.Println(crypto.SignMessage(priv, *msg))

	case "challenge":
		fs := flag.NewFlagSet("challenge", flag.ExitOnError)
		name := fs.String("name", "", "agent name")
		desc := fs.String("desc", "", "agent description")
		diff := fs.String("difficulty", "", "easy, standard or hard")
		_ = fs.Parse(args)
		if *name == "" {
			fmt.Fprintln(os.Stderr, "need -name")
			os.Exit(1)
		}
		ch, err := newAPIClient(*api).CreateChallenge(ctx, *name, *desc, *diff)
		if err != nil {
			fail(err)
		}
		printJSON(ch)

	case "submit":
		fs := flag.NewFlagSet("submit", flag.ExitOnError)
		id := fs.String("id", "", "challenge id")
		p := fs.String("pass", "", "key passphrase")
		line := fs.Int("line", 0, "1-based bug line")
		issue := fs.String("issue", "", "bug description")
		fix := fs.String("fix", "", "proposed fix")
		bioPath := fs.String("bio", "", "bio file or - for stdin")
		_ = fs.Parse(args)
		if *id == "" || *bioPath == "" {
			fmt.Fprintln(os.Stderr, "need -id and -bio")
			os.Exit(1)
		}
		priv := mustKey(*p)
		bio, err := readAll(*bioPath)
		if err != nil {
			fail(err)
		}
		out, err := newAPIClient(*api).Solve(ctx, *id, priv, Answer{Line: *line, Issue: *issue, Fix: *fix, Bio: string(bio)})
		if err != nil {
			fail(err)
		}
		if out.Proof != nil {
			if err := saveProof(out.Proof.Token, out.Proof.ExpiresAt); err != nil {
				fail(err)
			}
		}
		printJSON(out)

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		key := fs.String("api-key", os.Getenv("AGENTPROOF_API_KEY"), "platform API key")
		tok := fs.String("token", "", "proof token (default: saved proof)")
		_ = fs.Parse(args)
		if *key == "" {
			fmt.Fprintln(os.Stderr, "need -api-key")
			os.Exit(1)
		}
		t, err := tokenOrSaved(*tok)
		if err != nil {
			fail(err)
		}
		cc, err := dial(*addr, *caPath, *skipVerify, *plaintext, "")
		if err != nil {
			fail(err)
		}
		defer cc.Close()
		v, err := grpcserver.VerifyProof(ctx, cc, *key, t)
		if err != nil {
			fail(err)
		}
		printJSON(v)

	case "inspect":
		fs := flag.NewFlagSet("inspect", flag.ExitOnError)
		tok := fs.String("token", "", "proof token (default: saved proof)")
		_ = fs.Parse(args)
		t, err := tokenOrSaved(*tok)
		if err != nil {
			fail(err)
		}
		claims, err := inspectToken(t)
		if err != nil {
			fail(err)
		}
		printJSON(claims)

	default:
		usage()
	}
}

func mustKey(pass string) ed25519.PrivateKey {
	p, err := passphrase(pass)
	if err != nil {
		fail(err)
	}
	priv, err := loadKey(p)
	if err != nil {
		fail(err)
	}
	return priv
}

func tokenOrSaved(tok string) (string, error) {
	if tok = strings.TrimSpace(tok); tok != "" {
		return tok, nil
	}
	return loadProof()
}

func fail(err error) {
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", st.Code(), st.Message())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
