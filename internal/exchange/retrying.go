package exchange

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/retry"
)

const (
	opTicker  = "ticker"
	opCandles = "candles"
)

// RetryingClient wraps a MarketData and retries rate-limited calls with
// exponential backoff. Other failures pass through on the first attempt.
type RetryingClient struct {
	inner  model.MarketData
	policy retry.Policy
	sleep  retry.SleepFunc
	prom   *metrics.Metrics
	log    zerolog.Logger
}

// Ensure the RetryingClient implements the MarketData interface.
var _ model.MarketData = (*RetryingClient)(nil)

// RetryingOption customises a RetryingClient.
type RetryingOption func(*RetryingClient)

// WithMetrics records attempts, retries and latency on m.
func WithMetrics(m *metrics.Metrics) RetryingOption {
	return func(c *RetryingClient) { c.prom = m }
}

// WithSleep replaces the backoff timer, for tests.
func WithSleep(fn retry.SleepFunc) RetryingOption {
	return func(c *RetryingClient) { c.sleep = fn }
}

// NewRetryingClient wraps inner with policy.
func NewRetryingClient(inner model.MarketData, policy retry.Policy, log zerolog.Logger, opts ...RetryingOption) (*RetryingClient, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	c := &RetryingClient{
		inner:  inner,
		policy: policy,
		sleep:  retry.Sleep,
		log:    log.With().Str("component", "retry").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchTicker implements model.MarketData.
func (c *RetryingClient) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	r, err := c.retrier(opTicker, symbol)
	if err != nil {
		return model.Ticker{}, err
	}
	return observe(c, opTicker, func() (model.Ticker, error) {
		return retry.Do(ctx, r, func(ctx context.Context) (model.Ticker, error) {
			t, err := c.inner.FetchTicker(ctx, symbol)
			c.countAttempt(opTicker, err)
			return t, err
		})
	})
}

// FetchCandles implements model.MarketData.
func (c *RetryingClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	r, err := c.retrier(opCandles, symbol)
	if err != nil {
		return nil, err
	}
	return observe(c, opCandles, func() ([]model.Candle, error) {
		return retry.Do(ctx, r, func(ctx context.Context) ([]model.Candle, error) {
			candles, err := c.inner.FetchCandles(ctx, symbol, interval, limit)
			c.countAttempt(opCandles, err)
			return candles, err
		})
	})
}

// retrier builds a Retrier whose hook logs and counts retries for op.
func (c *RetryingClient) retrier(op, symbol string) (*retry.Retrier, error) {
	return retry.New(c.policy,
		retry.WithSleep(c.sleep),
		retry.WithOnRetry(func(a retry.Attempt) {
			c.log.Warn().Err(a.Err).
				Str("op", op).
				Str("symbol", symbol).
				Int("attempt", a.Number).
				Int("retries_left", a.Left).
				Dur("backoff", a.Delay).
				Msg("rate limited, backing off")
			if c.prom != nil {
				c.prom.FetchRetries.WithLabelValues(op).Inc()
				c.prom.BackoffSeconds.Add(a.Delay.Seconds())
			}
		}),
	)
}

func (c *RetryingClient) countAttempt(op string, err error) {
	if c.prom == nil {
		return
	}
	c.prom.FetchAttempts.WithLabelValues(op).Inc()
	if retry.IsRetryable(err) {
		c.prom.RateLimitHits.WithLabelValues(op).Inc()
	}
}

// observe times a full call chain and counts chains that end in an error.
func observe[T any](c *RetryingClient, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	if c.prom != nil {
		c.prom.FetchDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			c.prom.FetchFailures.WithLabelValues(op).Inc()
		}
	}
	return v, err
}
