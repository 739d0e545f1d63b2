package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryOptions is a bounded exponential backoff policy for one activity call
type RetryOptions struct {
	FirstRetryInterval  time.Duration
	BackoffCoefficient  float64
	MaxRetryInterval    time.Duration
	MaxNumberOfAttempts int
	// RetryTimeout bounds the whole call including waits. Zero means no limit.
	RetryTimeout time.Duration
}

// DefaultRetryOptions is the policy used by the bonus workflows
func DefaultRetryOptions() *RetryOptions {
	return &RetryOptions{
		FirstRetryInterval:  5 * time.Second,
		BackoffCoefficient:  1.5,
		MaxRetryInterval:    time.Minute,
		MaxNumberOfAttempts: 5,
		RetryTimeout:        10 * time.Minute,
	}
}

func (o RetryOptions) normalized() RetryOptions {
	if o.BackoffCoefficient < 1 {
		o.BackoffCoefficient = 1
	}
	if o.FirstRetryInterval < 0 {
		o.FirstRetryInterval = 0
	}
	if o.MaxRetryInterval <= 0 {
		o.MaxRetryInterval = time.Minute
	}
	if o.MaxRetryInterval < o.FirstRetryInterval {
		o.MaxRetryInterval = o.FirstRetryInterval
	}
	if o.MaxNumberOfAttempts <= 0 {
		o.MaxNumberOfAttempts = 1
	}
	return o
}

// Permanent marks an activity error as not retryable
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// attemptOutcome is what the retry loop reports back to the recorder
type attemptOutcome struct {
	output    any
	attempts  int
	exhausted bool
	err       error
}

// runActivity invokes fn once (retry == nil) or under the retry policy.
// onRetry is called before every wait.
func runActivity(ctx context.Context, fn ActivityFunc, input []byte, retry *RetryOptions, onRetry func(attempt int, err error, next time.Duration)) attemptOutcome {
	var (
		res       attemptOutcome
		permanent bool
		lastErr   error
	)

	if retry == nil {
		res.attempts = 1
		res.output, res.err = fn(ctx, input)
		var perm *backoff.PermanentError
		if errors.As(res.err, &perm) {
			res.err = perm.Unwrap()
		}
		return res
	}

	opts := retry.normalized()
	rctx := ctx
	if opts.RetryTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, opts.RetryTimeout)
		defer cancel()
	}

	op := func() (any, error) {
		res.attempts++
		out, err := fn(rctx, input)
		if err != nil {
			lastErr = err
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				permanent = true
				lastErr = perm.Unwrap()
			}
		}
		return out, err
	}

	expo := &backoff.ExponentialBackOff{
		InitialInterval:     opts.FirstRetryInterval,
		RandomizationFactor: 0,
		Multiplier:          opts.BackoffCoefficient,
		MaxInterval:         opts.MaxRetryInterval,
	}

	res.output, res.err = backoff.Retry(rctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(opts.MaxNumberOfAttempts)),
		backoff.WithMaxElapsedTime(opts.RetryTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			if onRetry != nil {
				onRetry(res.attempts, err, next)
			}
		}),
	)
	if res.err != nil {
		res.exhausted = !permanent
		// A timeout interrupting a wait reports the context error; the last
		// activity error is more useful.
		if lastErr != nil && ctx.Err() == nil {
			res.err = lastErr
		}
	}
	return res
}
