// Package retry drives transient-failure recovery for network storage
// adapters. It centralizes the backoff schedule and retry-eligibility
// classification in one collaborator so adapters never reimplement backoff
// math themselves, per the hexagonal "retry as a collaborator, not a mixin"
// design.
package retry

import (
	"context"
	"time"

	cenkaltibackoff "github.com/cenkalti/backoff/v5"

	"github.com/agentsnap/persist-core/pkg/persisterr"
)

// Defaults for the backoff schedule: base 100ms, multiplier 2.0, cap 5s,
// full jitter, 30s elapsed budget, unbounded attempts within that budget.
const (
	DefaultBaseInterval = 100 * time.Millisecond
	DefaultMultiplier   = 2.0
	DefaultMaxInterval  = 5 * time.Second
	DefaultMaxElapsed   = 30 * time.Second
)

// Options configures one Coordinator. The zero value is not usable; use
// NewCoordinator to fill in the defaults.
type Options struct {
	BaseInterval time.Duration
	Multiplier   float64
	MaxInterval  time.Duration
	// MaxElapsed bounds the total wall time spent retrying one operation.
	// Zero means DefaultMaxElapsed.
	MaxElapsed time.Duration
	// MaxAttempts bounds the attempt count within the elapsed budget. Zero
	// means unbounded (budget-limited only), per spec.
	MaxAttempts uint
	// OnRetry is invoked after each failed, retry-eligible attempt with the
	// label passed to Do, the 1-based attempt index, and the error that
	// triggered the retry. Adapters wire this to their observability hooks
	// to emit retries_total and the last error classification.
	OnRetry func(ctx context.Context, label string, attempt int, err error)
}

func (o Options) withDefaults() Options {
	if o.BaseInterval == 0 {
		o.BaseInterval = DefaultBaseInterval
	}
	if o.Multiplier == 0 {
		o.Multiplier = DefaultMultiplier
	}
	if o.MaxInterval == 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	if o.MaxElapsed == 0 {
		o.MaxElapsed = DefaultMaxElapsed
	}
	return o
}

// Coordinator runs an operation until it succeeds, fails with a
// non-Transient error, or exhausts its elapsed budget. It is stateless
// across calls and safe for concurrent use.
type Coordinator struct {
	opts Options
}

// NewCoordinator builds a Coordinator, filling in defaults for any zero
// field in opts.
func NewCoordinator(opts Options) *Coordinator {
	o := opts.withDefaults()
	return &Coordinator{opts: o}
}

// Do invokes fn repeatedly under label until it returns a non-Transient
// error, succeeds, or the elapsed budget is exhausted. Non-Transient errors
// (including validation, integrity, and not-found) short-circuit
// immediately and are never retried.
func Do[T any](ctx context.Context, c *Coordinator, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	eb := cenkaltibackoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.BaseInterval
	eb.Multiplier = c.opts.Multiplier
	eb.MaxInterval = c.opts.MaxInterval
	// RandomizationFactor of 1.0 spreads the next interval uniformly over
	// [0, 2*interval), which is the library's equivalent of full jitter.
	eb.RandomizationFactor = 1.0

	opts := []cenkaltibackoff.RetryOption{
		cenkaltibackoff.WithBackOff(eb),
		cenkaltibackoff.WithMaxElapsedTime(c.opts.MaxElapsed),
	}
	if c.opts.MaxAttempts > 0 {
		opts = append(opts, cenkaltibackoff.WithMaxTries(c.opts.MaxAttempts))
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !persisterr.IsTransient(err) {
			// Non-Transient errors (Validation, IntegrityCheckFailed,
			// NotFound, PermissionDenied, ...) short-circuit immediately.
			return result, cenkaltibackoff.Permanent(err)
		}
		if c.opts.OnRetry != nil {
			c.opts.OnRetry(ctx, label, attempt, err)
		}
		return result, err
	}

	return cenkaltibackoff.Retry(ctx, operation, opts...)
}

// Label is a small convenience wrapper so adapters can describe an
// operation ("s3:save", "gcs:load", ...) when constructing observability
// attributes around a Do call. It carries no behavior of its own.
type Label string
