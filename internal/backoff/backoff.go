// Package backoff computes bounded exponential retry delays.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff grows Min by Factor per attempt up to Max. Jitter spreads each
// delay uniformly over ±Jitter of its value. A MaxAttempts below one falls
// back to the default limit; retries are always bounded.
type Backoff struct {
	Min         time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      float64
	MaxAttempts int
}

// DefaultMaxAttempts bounds retries when a policy leaves MaxAttempts unset.
const DefaultMaxAttempts = 5

// Default is the retry policy for live sessions.
func Default() Backoff {
	return Backoff{
		Min:         3 * time.Second,
		Max:         time.Minute,
		Factor:      2.0,
		Jitter:      0.2,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Next returns the delay before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	lo := b.Min
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	hi := b.Max
	if hi <= 0 {
		hi = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := lo
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > hi {
			wait = hi
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

// Limit is the effective number of attempts allowed.
func (b Backoff) Limit() int {
	if b.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return b.MaxAttempts
}

// Exhausted reports whether attempt is past the allowed number of attempts.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.Limit()
}

// Sleep waits d or until ctx is done, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
