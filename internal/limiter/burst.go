package limiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BurstDecision is the outcome of a fixed-window burst check.
type BurstDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Burst limits short bursts of relying-party calls keyed on the API key hash.
type Burst interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (BurstDecision, error)
}

type memoryBurst struct {
	mu      sync.Mutex
	now     func() time.Time
	data    map[string]*bucket
	maxKeys int
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// MemoryBurstConfig configures NewMemoryBurst.
type MemoryBurstConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// NewMemoryBurst returns a process-local fixed-window limiter.
func NewMemoryBurst(cfg MemoryBurstConfig) Burst {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &memoryBurst{now: cfg.Now, data: make(map[string]*bucket), maxKeys: cfg.MaxKeys}
}

func (m *memoryBurst) Allow(_ context.Context, key string, limit int, window time.Duration) (BurstDecision, error) {
	if limit <= 0 {
		return BurstDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.data[key]
	if !ok || now.After(b.windowEnd) {
		if !ok && len(m.data) >= m.maxKeys {
			m.gc(now)
			if len(m.data) >= m.maxKeys {
				return BurstDecision{}, errors.New("burst limiter capacity exceeded")
			}
		}
		b = &bucket{windowEnd: now.Add(window)}
		m.data[key] = b
	}

	if b.count < limit {
		b.count++
		return BurstDecision{Allowed: true, Limit: limit, Remaining: limit - b.count, ResetAt: b.windowEnd}, nil
	}
	return BurstDecision{Limit: limit, ResetAt: b.windowEnd}, nil
}

func (m *memoryBurst) gc(now time.Time) {
	for k, b := range m.data {
		if now.After(b.windowEnd) {
			delete(m.data, k)
		}
	}
}
