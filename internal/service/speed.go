package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/and161185/agentproof/internal/model"
)

// DefaultSpeedWindow is the maximum spread of the three fetch times.
const DefaultSpeedWindow = 2 * time.Second

type speedVerdict struct {
	passed      bool
	wasParallel bool
	spread      time.Duration
	msg         string
}

// checkSpeed requires every slot fetched, the exact a+b+c concatenation and a fetch
// spread strictly below window.
func checkSpeed(tokens []model.SpeedToken, combined string, window time.Duration) speedVerdict {
	bySlot := make(map[model.SpeedSlot]model.SpeedToken, len(tokens))
	for _, t := range tokens {
		bySlot[t.Slot] = t
	}

	var (
		want        strings.Builder
		first, last time.Time
	)
	for i, slot := range model.SpeedSlots {
		t, ok := bySlot[slot]
		if !ok || t.FetchedAt == nil {
			return speedVerdict{msg: fmt.Sprintf("speed token %s was never fetched", slot)}
		}
		want.WriteString(t.Token)
		at := *t.FetchedAt
		if i == 0 || at.Before(first) {
			first = at
		}
		if i == 0 || at.After(last) {
			last = at
		}
	}

	v := speedVerdict{spread: last.Sub(first)}
	v.wasParallel = v.spread < window
	switch {
	case combined != want.String():
		v.msg = "combined value is not the concatenation of tokens a, b and c"
	case !v.wasParallel:
		v.msg = fmt.Sprintf("tokens were fetched %dms apart, must be under %dms", v.spread.Milliseconds(), window.Milliseconds())
	default:
		v.passed = true
	}
	return v
}
