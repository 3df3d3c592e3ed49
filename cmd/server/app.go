package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/agentproof/internal/bugs"
	"github.com/and161185/agentproof/internal/config"
	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/limiter"
	"github.com/and161185/agentproof/internal/migrate"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository"
	"github.com/and161185/agentproof/internal/repository/memory"
	"github.com/and161185/agentproof/internal/repository/postgres"
	"github.com/and161185/agentproof/internal/service"
	"github.com/and161185/agentproof/internal/token"
)

// repos is the storage a running server needs, whichever backend provides it.
type repos struct {
	challenges repository.ChallengeRepository
	activity   repository.ActivityRepository
	agents     repository.AgentRepository
	proofs     repository.ProofRepository
	platforms  repository.PlatformRepository
}

// app holds the wired services.
type app struct {
	challenges *service.ChallengeServiceImpl
	creds      *service.CredentialServiceImpl
	gate       *service.PlatformGateImpl
	signer     *token.Signer
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp opens storage, runs migrations and wires the services for cfg.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{}
	r, err := openStore(ctx, cfg, log, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	burst, err := openBurst(ctx, cfg, log, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	priv, err := token.LoadKey(cfg.SigningKey, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.signer = token.NewSigner(priv, cfg.Issuer, cfg.Audience)

	analyzer := limiter.NewAnalyzer(r.activity, limiter.Limits{
		PerIPHour:          cfg.PerIPHour,
		PerFingerprintHour: cfg.PerFingerprintHour,
		Cooldown:           cfg.Cooldown,
		KeysPerIPDay:       cfg.KeysPerIPDay,
	}, log.Named("limiter"))

	a.creds = service.NewCredentialService(r.agents, r.proofs, r.activity, a.signer, cfg.ProofExpiryDays, log.Named("credentials"))

	matcher := bugs.DefaultMatcher
	matcher.Ratio, matcher.MinHits = cfg.KeywordRatio, cfg.KeywordMinHits
	a.challenges = service.NewChallengeService(r.challenges, r.activity, r.agents, analyzer, a.creds, service.ChallengeConfig{
		BaseURL: cfg.BaseURL,
		Matcher: matcher,
		Bio: service.BioConfig{
			MinWords:  cfg.BioMinWords,
			MaxWords:  cfg.BioMaxWords,
			Threshold: cfg.BioThreshold,
			Sample:    cfg.BioSample,
		},
		SpeedWindow: cfg.SpeedWindow,
	}, log.Named("challenges"))

	a.gate = service.NewPlatformGate(r.platforms, a.creds, burst,
		service.BurstConfig{Limit: cfg.BurstLimit, Window: cfg.BurstWindow}, log.Named("platforms"))

	if err := bootstrapPlatform(ctx, cfg, a.gate, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger, a *app) (repos, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using the in-memory store: state is lost on restart")
		st := memory.New()
		return repos{
			challenges: st.Challenges(),
			activity:   st.Activity(),
			agents:     st.Agents(),
			proofs:     st.Proofs(),
			platforms:  st.Platforms(),
		}, nil
	}

	version, err := migrate.Up(ctx, cfg.DSN, log)
	if err != nil {
		return repos{}, fmt.Errorf("migrate up: %w", err)
	}
	log.Info("schema ready", zap.Int64("version", version))

	db, err := postgres.New(ctx, cfg.DSN, postgres.PoolOptions{
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		MaxConnIdleTime: cfg.DBMaxConnIdle,
	})
	if err != nil {
		return repos{}, fmt.Errorf("pgxpool: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	return repos{
		challenges: postgres.NewChallengeRepo(db),
		activity:   postgres.NewActivityRepo(db),
		agents:     postgres.NewAgentRepo(db),
		proofs:     postgres.NewProofRepo(db),
		platforms:  postgres.NewPlatformRepo(db),
	}, nil
}

func openBurst(ctx context.Context, cfg *config.Config, log *zap.Logger, a *app) (limiter.Burst, error) {
	if cfg.BurstLimit <= 0 {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		return limiter.NewMemoryBurst(limiter.MemoryBurstConfig{}), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("burst limiter on redis", zap.String("addr", cfg.RedisAddr))
	return limiter.NewRedisBurst(rdb, "agentproof:burst:", nil)
}

// bootstrapPlatform creates the configured platform unless its key is already known.
func bootstrapPlatform(ctx context.Context, cfg *config.Config, gate *service.PlatformGateImpl, log *zap.Logger) error {
	if cfg.BootstrapPlatform == "" {
		return nil
	}
	if _, err := gate.Authenticate(ctx, cfg.BootstrapAPIKey); err == nil {
		return nil
	} else if !errors.Is(err, errs.ErrUnauthorized) {
		return fmt.Errorf("bootstrap platform: %w", err)
	}
	tier, err := model.ParseTier(cfg.BootstrapTier)
	if err != nil {
		return err
	}
	p, err := gate.Import(ctx, cfg.BootstrapPlatform, tier, cfg.BootstrapAPIKey)
	if errors.Is(err, errs.ErrAlreadyExists) {
		log.Warn("bootstrap key belongs to an inactive platform", zap.String("key_prefix", cfg.BootstrapAPIKey[:8]))
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap platform: %w", err)
	}
	log.Info("bootstrap platform created",
		zap.String("name", p.Name), zap.String("tier", string(p.Tier)), zap.String("key_prefix", p.APIKeyPrefix))
	return nil
}
