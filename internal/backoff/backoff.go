// Package backoff provides bounded exponential backoff with jitter for
// retrying durable storage writes.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the delay between retries.
	Max time.Duration
	// Factor is the exponential growth factor per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied on top
	// of the base delay.
	Jitter float64
	// MaxAttempts bounds the total number of attempts (including the
	// first). Zero means a single attempt.
	MaxAttempts int
}

// DefaultPolicy returns the policy used for attempt-storage writes.
// Initial: 100ms, Max: 5s, Factor: 2, Jitter: 10%, 5 attempts.
func DefaultPolicy() Policy {
	return Policy{
		Initial:     100 * time.Millisecond,
		Max:         5 * time.Second,
		Factor:      2,
		Jitter:      0.1,
		MaxAttempts: 5,
	}
}

// Delay calculates the backoff before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * randomValue
	total := math.Min(float64(p.Max), base+jitter)
	return time.Duration(total)
}

// Retry invokes fn until it succeeds, the policy's attempts are
// exhausted, or the context is cancelled. The last error is returned
// on exhaustion; context errors are returned as-is.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
