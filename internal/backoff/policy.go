// Package backoff provides exponential backoff helpers used for provider
// cooldowns and adapter restarts.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters of an exponential backoff.
type Policy struct {
	// Initial is the delay for the first attempt.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor is the multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added on top of the base.
	Jitter float64
}

// Compute returns the delay for the given attempt (1-indexed) with random jitter.
func (p Policy) Compute(attempt int) time.Duration {
	return p.ComputeWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand returns the delay for the given attempt using the provided
// random value in [0, 1). The result is min(Max, base + base*Jitter*r) where
// base = Initial * Factor^(attempt-1).
func (p Policy) ComputeWithRand(attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	if total <= 0 {
		return 0
	}
	return time.Duration(math.Round(total))
}

// CooldownPolicy is the default provider cooldown: 60s doubling up to 10m, no jitter.
func CooldownPolicy() Policy {
	return Policy{
		Initial: time.Minute,
		Max:     10 * time.Minute,
		Factor:  2,
	}
}

// RestartPolicy is used when restarting failed background workers.
func RestartPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     time.Minute,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
