package job

import (
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidBackoff indicates the backoff configuration is not usable.
var ErrInvalidBackoff = errors.New("backoff base and max delays must be positive")

// BackoffPolicy computes the delay before a failed job becomes claimable
// again. Delays grow as base * 2^(attempt-1), capped at max, with up to
// jitterFrac of random jitter added so a burst of failures does not retry in
// lockstep.
type BackoffPolicy struct {
	base       time.Duration
	max        time.Duration
	jitterFrac float64
}

// NewBackoffPolicy constructs a BackoffPolicy. A jitterFrac of 0.2 adds up to
// 20% on top of the computed delay; zero disables jitter.
func NewBackoffPolicy(base, max time.Duration, jitterFrac float64) (*BackoffPolicy, error) {
	if base <= 0 || max <= 0 || max < base {
		return nil, ErrInvalidBackoff
	}
	if jitterFrac < 0 {
		jitterFrac = 0
	}
	return &BackoffPolicy{base: base, max: max, jitterFrac: jitterFrac}, nil
}

// Delay returns the backoff before the given retry attempt. Attempt is
// 1-based: the first retry after the first failure is attempt 1.
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.max || delay < 0 {
			delay = p.max
			break
		}
	}
	if delay > p.max {
		delay = p.max
	}

	if p.jitterFrac > 0 {
		jitter := time.Duration(rand.Float64() * p.jitterFrac * float64(delay))
		delay += jitter
	}
	return delay
}

// NextAttemptAt returns the earliest time the job may be claimed again.
func (p *BackoffPolicy) NextAttemptAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
