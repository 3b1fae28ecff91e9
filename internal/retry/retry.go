// Package retry wraps remote calls that can be rate-limited.
//
// Only errors classified as retryable (by default, anything wrapping
// ErrRateLimited) are retried. The delay doubles after every retry, starting
// at Policy.InitialDelay, with no jitter and no cap. Every other error is
// returned unchanged on the attempt that produced it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited marks a failure that is expected to clear after waiting.
var ErrRateLimited = errors.New("rate limited")

// ErrInvalidPolicy is returned when a Policy cannot produce a schedule.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// IsRetryable reports whether err is a rate-limit failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Policy configures a retry chain.
type Policy struct {
	// MaxAttempts is the number of retries after the first attempt.
	// Zero means a single attempt.
	MaxAttempts int

	// InitialDelay is the wait before the first retry. Doubles after each retry.
	InitialDelay time.Duration
}

// DefaultPolicy retries five times, waiting 1s, 2s, 4s, 8s and 16s.
var DefaultPolicy = Policy{MaxAttempts: 5, InitialDelay: time.Second}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts %d < 0", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("%w: initial delay %s <= 0", ErrInvalidPolicy, p.InitialDelay)
	}
	return nil
}

// Schedule returns the delays a chain under p waits through when every
// attempt is rate-limited. Long chains overflow time.Duration, so callers
// in long-running processes must keep MaxAttempts small.
func Schedule(p Policy) []time.Duration {
	if p.Validate() != nil {
		return nil
	}
	out := make([]time.Duration, p.MaxAttempts)
	delay := p.InitialDelay
	for i := range out {
		out[i] = delay
		delay *= 2
	}
	return out
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number int           // 1-based number of the attempt that failed
	Left   int           // retries left after this one
	Delay  time.Duration // wait before the next attempt
	Err    error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customises a Retrier.
type Option func(*Retrier)

// WithSleep replaces the timer used between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) { r.sleep = fn }
}

// WithClassifier replaces IsRetryable as the retry predicate.
func WithClassifier(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryable = fn }
}

// WithOnRetry registers a hook called before every backoff wait.
func WithOnRetry(fn func(Attempt)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// Retrier holds an immutable policy. It keeps no per-call state, so one
// Retrier can serve any number of concurrent chains.
type Retrier struct {
	policy    Policy
	sleep     SleepFunc
	retryable func(error) bool
	onRetry   func(Attempt)
}

// New creates a Retrier, rejecting invalid policies.
func New(p Policy, opts ...Option) (*Retrier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r := &Retrier{
		policy:    p,
		sleep:     Sleep,
		retryable: IsRetryable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Policy returns the retrier's policy.
func (r *Retrier) Policy() Policy { return r.policy }

// Do runs op, retrying retryable failures per the retrier's policy.
// After the last retry the final retryable error is returned as is.
// A cancelled ctx aborts a pending wait; the returned error then wraps both
// the last failure and ctx.Err().
func Do[T any](ctx context.Context, r *Retrier, op func(context.Context) (T, error)) (T, error) {
	left := r.policy.MaxAttempts
	delay := r.policy.InitialDelay

	for n := 1; ; n++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !r.retryable(err) || left == 0 {
			return v, err
		}

		left--
		if r.onRetry != nil {
			r.onRetry(Attempt{Number: n, Left: left, Delay: delay, Err: err})
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			var zero T
			return zero, fmt.Errorf("retry wait after attempt %d: %w", n, errors.Join(err, serr))
		}
		delay *= 2
	}
}

// Sleep is the default SleepFunc, backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
