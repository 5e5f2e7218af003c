package game

import (
	"math"
	"math/rand"
	"sync"
)

const (
	DRAW_RANGE     = 1_000_000
	HOUSE_EDGE     = 0.07
	MIN_CRASH_AT   = 1.01
	MIN_MULTIPLIER = 1.00
)

// CrashPointGenerator produces each round's crash multiplier from a
// uniform draw. The distribution is heavy-tailed: most rounds crash
// near 1x, a few climb far. Seedable so rounds can be replayed in tests.
type CrashPointGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewCrashPointGenerator(seed int64) *CrashPointGenerator {
	return &CrashPointGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (g *CrashPointGenerator) Generate() float64 {
	g.mu.Lock()
	x := g.rng.Intn(DRAW_RANGE)
	g.mu.Unlock()
	return crashPointFromDraw(x)
}

// crashPointFromDraw maps a draw in [0, DRAW_RANGE) to a crash
// multiplier. Never below MIN_CRASH_AT, so every round has a non-trivial
// flying phase.
func crashPointFromDraw(x int) float64 {
	y := (float64(DRAW_RANGE) / float64(x+1)) * (1 - HOUSE_EDGE)
	y = round2(y)
	if y < MIN_CRASH_AT {
		return MIN_CRASH_AT
	}
	return y
}

// growthMultiplier is the displayed multiplier after elapsed seconds of
// flight: e^(rate*t) rounded to 2 decimal places, floored at 1.00.
func growthMultiplier(elapsed, rate float64) float64 {
	m := round2(math.Exp(rate * elapsed))
	if m < MIN_MULTIPLIER {
		return MIN_MULTIPLIER
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
