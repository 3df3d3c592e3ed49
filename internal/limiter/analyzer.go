package limiter

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/repository"
)

// Timing anomaly flags.
const (
	FlagBotFarmTiming      = "bot_farm_timing"
	FlagTooFast            = "too_fast"
	FlagFasterThanExpected = "faster_than_expected"
	FlagSlowerThanExpected = "slower_than_expected"
	FlagHumanLikeTiming    = "human_like_timing"
)

// Limits configures the creation gates.
type Limits struct {
	PerIPHour          int
	PerFingerprintHour int
	Cooldown           time.Duration
	KeysPerIPDay       int
}

// DefaultLimits are 10/h per IP, 5/h per fingerprint, 30s cooldown, 3 keys per IP per day.
var DefaultLimits = Limits{PerIPHour: 10, PerFingerprintHour: 5, Cooldown: 30 * time.Second, KeysPerIPDay: 3}

// Analyzer evaluates the anti-farming gates and timing heuristics over the activity log.
type Analyzer struct {
	repo   repository.ActivityRepository
	limits Limits
	log    *zap.Logger

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewAnalyzer constructs an Analyzer. A nil logger is replaced with a no-op logger.
func NewAnalyzer(repo repository.ActivityRepository, limits Limits, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{repo: repo, limits: limits, log: log, Now: time.Now}
}

// Check runs the four creation gates in order; the first violated gate wins.
// Counts are range queries over the log, so concurrent creations may briefly undercount.
func (a *Analyzer) Check(ctx context.Context, ip, fingerprint string) (Decision, error) {
	now := a.Now()
	hourAgo := now.Add(-time.Hour)

	byIP, err := a.repo.CountByIP(ctx, model.ActionChallengeCreate, ip, hourAgo)
	if err != nil {
		return Decision{}, fmt.Errorf("count by ip: %w", err)
	}
	if a.limits.PerIPHour > 0 && byIP.Count >= a.limits.PerIPHour {
		return deny(ReasonIPHourly, "ip", byIP.Oldest.Add(time.Hour).Sub(now)), nil
	}

	if fingerprint != "" {
		byFP, err := a.repo.CountByFingerprint(ctx, model.ActionChallengeCreate, fingerprint, hourAgo)
		if err != nil {
			return Decision{}, fmt.Errorf("count by fingerprint: %w", err)
		}
		if a.limits.PerFingerprintHour > 0 && byFP.Count >= a.limits.PerFingerprintHour {
			return deny(ReasonFingerprintHourly, "fingerprint", byFP.Oldest.Add(time.Hour).Sub(now)), nil
		}
	}

	if a.limits.Cooldown > 0 {
		last, ok, err := a.repo.LastAttempt(ctx, model.ActionChallengeCreate, ip, fingerprint)
		if err != nil {
			return Decision{}, fmt.Errorf("last attempt: %w", err)
		}
		if ok {
			if wait := last.Add(a.limits.Cooldown).Sub(now); wait > 0 {
				return deny(ReasonCooldown, "ip_or_fingerprint", wait), nil
			}
		}
	}

	keys, err := a.repo.DistinctPublicKeysByIP(ctx, ip, now.Add(-24*time.Hour))
	if err != nil {
		return Decision{}, fmt.Errorf("distinct keys: %w", err)
	}
	if a.limits.KeysPerIPDay > 0 && keys.Count >= a.limits.KeysPerIPDay {
		return deny(ReasonIdentityFarming, "ip", keys.Oldest.Add(24*time.Hour).Sub(now)), nil
	}
	return Decision{Allowed: true}, nil
}

func deny(reason, signal string, retry time.Duration) Decision {
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Reason: reason, Signal: signal, RetryAfter: retry}
}

// Anomaly is the advisory result of TimingAnomaly.
type Anomaly struct {
	Suspicious bool
	Flag       string
	Samples    int
	MeanMs     float64
	StddevMs   float64
}

// TimingAnomaly inspects the last ten completions of the past hour from ip or fingerprint.
func (a *Analyzer) TimingAnomaly(ctx context.Context, ip, fingerprint string) (Anomaly, error) {
	rows, err := a.repo.RecentTimings(ctx, ip, fingerprint, a.Now().Add(-time.Hour), 10)
	if err != nil {
		return Anomaly{}, fmt.Errorf("recent timings: %w", err)
	}
	samples := make([]float64, len(rows))
	for i, r := range rows {
		samples[i] = float64(r.ElapsedMs)
	}
	return detectAnomaly(samples), nil
}

func detectAnomaly(samples []float64) Anomaly {
	an := Anomaly{Samples: len(samples)}
	if len(samples) == 0 {
		return an
	}
	an.MeanMs, an.StddevMs = meanStddev(samples)
	switch {
	case len(samples) >= 5 && an.StddevMs < 100:
		an.Suspicious, an.Flag = true, FlagBotFarmTiming
	case len(samples) >= 3 && an.MeanMs < 5000:
		an.Suspicious, an.Flag = true, FlagTooFast
	}
	return an
}

// meanStddev returns the mean and the population standard deviation.
func meanStddev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// timingRange is the agent-like window for a difficulty; at or beyond Human is human-like.
type timingRange struct{ Min, Max, Human time.Duration }

var expectedTiming = map[model.Difficulty]timingRange{
	model.DifficultyEasy:     {2 * time.Second, 30 * time.Second, 120 * time.Second},
	model.DifficultyStandard: {3 * time.Second, 20 * time.Second, 90 * time.Second},
	model.DifficultyHard:     {2 * time.Second, 15 * time.Second, 60 * time.Second},
}

// Assessment is the advisory confidence for a successful submission.
type Assessment struct {
	Confidence float64
	Flags      []string
	Review     bool
}

// Assess folds the timing range check and TimingAnomaly into a confidence in [0,1].
// Low confidence is logged for review and never rejects a submission.
func (a *Analyzer) Assess(ctx context.Context, elapsedMs int64, d model.Difficulty, ip, fingerprint string) (Assessment, error) {
	as := Assessment{Confidence: 1.0}
	elapsed := time.Duration(elapsedMs) * time.Millisecond
	if r, ok := expectedTiming[d]; ok {
		switch {
		case elapsed >= r.Human:
			as.Confidence *= 0.3
			as.Flags = append(as.Flags, FlagHumanLikeTiming)
		case elapsed < r.Min:
			as.Confidence *= 0.8
			as.Flags = append(as.Flags, FlagFasterThanExpected)
		case elapsed > r.Max:
			as.Confidence *= 0.8
			as.Flags = append(as.Flags, FlagSlowerThanExpected)
		}
	}

	an, err := a.TimingAnomaly(ctx, ip, fingerprint)
	if err != nil {
		return as, err
	}
	switch an.Flag {
	case FlagBotFarmTiming:
		as.Confidence *= 0.5
		as.Flags = append(as.Flags, an.Flag)
	case FlagTooFast:
		as.Confidence *= 0.7
		as.Flags = append(as.Flags, an.Flag)
	}

	as.Review = as.Confidence <= 0.5
	if as.Review {
		a.log.Warn("low agent confidence",
			zap.Float64("confidence", as.Confidence),
			zap.Strings("flags", as.Flags),
			zap.Int64("elapsed_ms", elapsedMs),
			zap.String("ip", ip),
			zap.String("fingerprint", fingerprint),
		)
	}
	return as, nil
}
