package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures the delays a chain would have waited through.
type recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestRetrier(t *testing.T, p Policy, rec *recorder, opts ...Option) *Retrier {
	t.Helper()
	r, err := New(p, append([]Option{WithSleep(rec.sleep)}, opts...)...)
	require.NoError(t, err)
	return r
}

// failing returns an op that fails with errs in order, then succeeds with v.
func failing[T any](v T, errs ...error) (func(context.Context) (T, error), *int) {
	calls := 0
	return func(context.Context) (T, error) {
		calls++
		if calls <= len(errs) {
			var zero T
			return zero, errs[calls-1]
		}
		return v, nil
	}, &calls
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	rec := &recorder{}
	r := newTestRetrier(t, DefaultPolicy, rec)

	op, calls := failing("ok")
	got, err := Do(context.Background(), r, op)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, rec.delays)
}

func TestDo_RetriesRateLimitThenSucceeds(t *testing.T) {
	rec := &recorder{}
	r := newTestRetrier(t, DefaultPolicy, rec)

	op, calls := failing(42, ErrRateLimited, ErrRateLimited)
	got, err := Do(context.Background(), r, op)

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestDo_FatalFailsImmediately(t *testing.T) {
	rec := &recorder{}
	r := newTestRetrier(t, DefaultPolicy, rec)

	fatal := errors.New("invalid symbol")
	op, calls := failing(0, fatal, ErrRateLimited)
	_, err := Do(context.Background(), r, op)

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, rec.delays)
}

func TestDo_FatalAfterRetriesStops(t *testing.T) {
	rec := &recorder{}
	r := newTestRetrier(t, DefaultPolicy, rec)

	fatal := errors.New("boom")
	op, calls := failing(0, ErrRateLimited, fatal)
	_, err := Do(context.Background(), r, op)

	assert.Same(t, fatal, err)
	assert.Equal(t, 2, *calls)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	rec := &recorder{}
	r := newTestRetrier(t, Policy{MaxAttempts: 5, InitialDelay: 1000 * time.Millisecond}, rec)

	limited := fmt.Errorf("status 429: %w", ErrRateLimited)
	calls := 0
	_, err := Do(context.Background(), r, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, limited
	})

	assert.Same(t, limited, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 6, calls)
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}, rec.delays)
}

func TestDo_ZeroAttemptsIsSingleTry(t *testing.T) {
	rec := &recorder{}
	r := newTestRetrier(t, Policy{MaxAttempts: 0, InitialDelay: time.Second}, rec)

	op, calls := failing(1, ErrRateLimited)
	_, err := Do(context.Background(), r, op)

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, rec.delays)
}

func TestDo_ChainsAreIndependent(t *testing.T) {
	rec := &recorder{}
	r := newTestRetrier(t, Policy{MaxAttempts: 1, InitialDelay: time.Millisecond}, rec)

	for i := 0; i < 3; i++ {
		op, calls := failing(i, ErrRateLimited)
		got, err := Do(context.Background(), r, op)
		require.NoError(t, err)
		assert.Equal(t, i, got)
		assert.Equal(t, 2, *calls)
	}
	// Each chain starts over from the initial delay.
	assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, rec.delays)
}

func TestDo_OnRetryHook(t *testing.T) {
	rec := &recorder{}
	var attempts []Attempt
	r := newTestRetrier(t, Policy{MaxAttempts: 2, InitialDelay: 10 * time.Millisecond}, rec,
		WithOnRetry(func(a Attempt) { attempts = append(attempts, a) }))

	op, _ := failing("x", ErrRateLimited, ErrRateLimited)
	_, err := Do(context.Background(), r, op)
	require.NoError(t, err)

	require.Len(t, attempts, 2)
	assert.Equal(t, Attempt{Number: 1, Left: 1, Delay: 10 * time.Millisecond, Err: ErrRateLimited}, attempts[0])
	assert.Equal(t, Attempt{Number: 2, Left: 0, Delay: 20 * time.Millisecond, Err: ErrRateLimited}, attempts[1])
}

func TestDo_CustomClassifier(t *testing.T) {
	rec := &recorder{}
	flaky := errors.New("flaky")
	r := newTestRetrier(t, DefaultPolicy, rec,
		WithClassifier(func(err error) bool { return errors.Is(err, flaky) }))

	op, calls := failing("ok", flaky)
	got, err := Do(context.Background(), r, op)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, *calls)

	// ErrRateLimited is no longer retryable under this classifier.
	op, calls = failing("ok", ErrRateLimited)
	_, err = Do(context.Background(), r, op)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, *calls)
}

func TestDo_CancelledDuringWait(t *testing.T) {
	r, err := New(Policy{MaxAttempts: 3, InitialDelay: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, r, func(context.Context) (int, error) {
			calls++
			return 0, ErrRateLimited
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	_, err := New(Policy{MaxAttempts: -1, InitialDelay: time.Second})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = New(Policy{MaxAttempts: 1, InitialDelay: 0})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestSchedule(t *testing.T) {
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, Schedule(DefaultPolicy))

	assert.Empty(t, Schedule(Policy{MaxAttempts: 0, InitialDelay: time.Second}))
	assert.Nil(t, Schedule(Policy{MaxAttempts: 2}))
}

func TestSleep_HonoursContext(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
