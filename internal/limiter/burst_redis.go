package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisBurst struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

var burstScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// NewRedisBurst returns a fixed-window limiter shared by all server replicas.
func NewRedisBurst(client redis.Scripter, prefix string, now func() time.Time) (Burst, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if now == nil {
		now = time.Now
	}
	return &redisBurst{client: client, prefix: prefix, now: now}, nil
}

func (r *redisBurst) Allow(ctx context.Context, key string, limit int, window time.Duration) (BurstDecision, error) {
	if limit <= 0 {
		return BurstDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1000
	}
	res, err := burstScript.Run(ctx, r.client, []string{r.prefix + key}, ms).Result()
	if err != nil {
		return BurstDecision{}, err
	}
	return parseBurstReply(res, limit, r.now())
}

func parseBurstReply(res any, limit int, now time.Time) (BurstDecision, error) {
	values, ok := res.([]any)
	if !ok || len(values) < 2 {
		return BurstDecision{}, errors.New("unexpected redis burst response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return BurstDecision{}, errors.New("invalid redis counter response")
	}
	resetAt := now
	if ttl, _ := values[1].(int64); ttl > 0 {
		resetAt = now.Add(time.Duration(ttl) * time.Millisecond)
	}
	remaining := max(limit-int(current), 0)
	return BurstDecision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
