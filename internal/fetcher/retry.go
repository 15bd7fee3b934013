package fetcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy is the backoff table for transient failures. Delays[i] is the
// sleep after the (i+1)th failed attempt; attempts past the end of the table
// reuse the last entry.
type RetryPolicy struct {
	Delays []time.Duration
}

func NewRetryPolicy(seconds []float64) (RetryPolicy, error) {
	if len(seconds) == 0 {
		return RetryPolicy{}, fmt.Errorf("retry policy: at least one delay is required")
	}
	delays := make([]time.Duration, 0, len(seconds))
	for i, s := range seconds {
		if s < 0 {
			return RetryPolicy{}, fmt.Errorf("retry policy: delay %d is negative (%v)", i, s)
		}
		delays = append(delays, time.Duration(s*float64(time.Second)))
	}
	return RetryPolicy{Delays: delays}, nil
}

// Delay returns the backoff for a zero-based attempt index.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	return p.Delays[min(attempt, len(p.Delays)-1)]
}

// Exhausted reports whether a give-up request that just failed its
// zero-based attempt has no retries left.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= len(p.Delays)
}

// Jitter is the uniform random delay taken before a request's first attempt so
// that workers started together do not hit the API in lockstep.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

func (j Jitter) Next() time.Duration {
	if j.Max <= 0 || j.Max < j.Min {
		return max(j.Min, 0)
	}
	if j.Max == j.Min {
		return j.Min
	}
	return j.Min + rand.N(j.Max-j.Min)
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
