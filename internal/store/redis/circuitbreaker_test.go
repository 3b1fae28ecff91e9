package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

func fail(context.Context) error { return errFail }
func ok(context.Context) error   { return nil }

// fakeClock lets tests move past the reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(maxFailures, 10*time.Second)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Same(t, errFail, cb.Execute(ctx, fail))
	}
	assert.Equal(t, StateOpen, cb.CurrentState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(2)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.CurrentState())

	clock.advance(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(2)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)

	clock.advance(11 * time.Second)
	cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.CurrentState())

	// Reopening restarts the timeout.
	clock.advance(5 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()
	cb.Execute(ctx, fail)
	clock.advance(11 * time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		// A concurrent caller arriving mid-probe is rejected.
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	cb.Execute(ctx, ok)
	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_CancellationDoesNotCount(t *testing.T) {
	cb, _ := newTestBreaker(1)
	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()
	var transitions []State
	cb.OnStateChange = func(from, to State) { transitions = append(transitions, to) }

	cb.Execute(ctx, fail)
	assert.Equal(t, []State{StateOpen}, transitions)

	clock.advance(11 * time.Second)
	cb.Execute(ctx, ok)
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}
