// Package retry holds the three retry tiers used across a run and a small
// helper that applies them with cenkalti/backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds retries of one operation.
type Policy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int
}

// API is the tier for provider SDK calls.
func API() Policy {
	return Policy{InitialInterval: time.Second, Multiplier: 2, MaxInterval: 60 * time.Second, MaxAttempts: 5}
}

// Local is the tier for conversation loading and checkpoint extraction.
func Local() Policy {
	return Policy{InitialInterval: 100 * time.Millisecond, Multiplier: 1.5, MaxInterval: 5 * time.Second, MaxAttempts: 3}
}

// Compute is the tier for result comparison.
func Compute() Policy {
	return Policy{InitialInterval: 100 * time.Millisecond, Multiplier: 2, MaxInterval: 2 * time.Second, MaxAttempts: 2}
}

// IsZero reports whether p is unset.
func (p Policy) IsZero() bool {
	return p == Policy{}
}

// BackOff builds a context-aware exponential backoff for p.
func (p Policy) BackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts()-1)), ctx)
}

// Attempts is MaxAttempts clamped to at least 1.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. permanent, when non-nil, classifies errors that
// must not be retried. notify is called before each wait and may be nil.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, permanent func(error) bool, notify backoff.Notify) error {
	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && permanent != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.BackOff(ctx), notify)
}
