// Package backoff implements exponential backoff with jitter and a small
// generic retry helper used around provider and transport calls.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes exponential backoff. Delay for attempt n (1-indexed)
// is Initial * Factor^(n-1) plus up to Jitter of that base, capped at Max.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultPolicy is 100ms doubling to a 30s cap with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay computes the backoff duration for an attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64())
}

// delayWithRand takes the random value as a parameter so tests can pin it.
func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if max := float64(p.Max); total > max {
		total = max
	}
	return time.Duration(total)
}
