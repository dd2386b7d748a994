// Package retry provides the jittered exponential backoff helper used by
// the Provisioner Pipeline's per-step retry policy, built atop
// github.com/cenkalti/backoff/v5.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Policy is the retry policy a pipeline step declares: max_attempts,
// initial_backoff, max_backoff, jitter, and backoff_multiplier.
type Policy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter is the randomization factor in [0,1] applied to each interval.
	Jitter float64
}

// DefaultPolicy is a sensible default for remote driver calls: 5 attempts,
// 200ms initial backoff doubling up to 10s, 20% jitter.
var DefaultPolicy = Policy{
	MaxAttempts:       5,
	InitialBackoff:    200 * time.Millisecond,
	MaxBackoff:        10 * time.Second,
	BackoffMultiplier: 2.0,
	Jitter:            0.2,
}

func (p Policy) backoffFor() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.Multiplier = p.BackoffMultiplier
	eb.RandomizationFactor = p.Jitter
	return eb
}

// Do runs op, retrying while the returned error is retryable per
// lnvpserr.RetryableErr, up to MaxAttempts. A terminal error (validation,
// not-found, unique-violation, auth, conflict, capacity, terminal-remote)
// short-circuits immediately without consuming further attempts — this is
// what lets the Provisioner run compensators right after a terminal
// failure instead of after every mid-step I/O hiccup.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := 0
	wrapped := func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !lnvpserr.RetryableErr(err) {
			return v, backoff.Permanent(err)
		}
		if attempts >= policy.MaxAttempts {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(policy.backoffFor()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
	)
}
