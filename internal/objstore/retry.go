package objstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retry helper. Zero values fall back to defaults.
type RetryPolicy struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
}

// DefaultRetryPolicy returns the policy used for store operations when the
// configuration does not override it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       4,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          5 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.BackoffMultiplier <= 1 {
		p.BackoffMultiplier = d.BackoffMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Retry runs op with exponential backoff until it succeeds or the attempt
// budget is spent. Only wrap operations that are safe to re-run: gets,
// overwrite puts, deletes. The transaction log's conditional append has its
// own retry loop and must never go through here.
func Retry(ctx context.Context, p RetryPolicy, op func() error) error {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.BackoffMultiplier
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0 // bounded by attempts, not wall clock
	b.RandomizationFactor = 0

	bounded := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(p.MaxAttempts-1))
	return backoff.Retry(op, bounded)
}

// Permanent marks an error as non-retryable: Retry stops immediately and
// returns it. Used for failures more attempts cannot fix, like a missing
// object.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
