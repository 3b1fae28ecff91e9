// Package redis publishes signal reports to Redis pub/sub and keeps the
// latest report per symbol and interval under a TTL'd key.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	defaultMaxFailures  = 5
	defaultResetTimeout = 10 * time.Second
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// LatestTTL is the expiry of sig:latest:* keys. Defaults to 30 minutes.
	LatestTTL time.Duration

	// Breaker settings. Default to 5 failures and a 10s reset timeout.
	MaxFailures  int
	ResetTimeout time.Duration
}

func (c *Config) defaults() {
	if c.LatestTTL == 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = defaultMaxFailures
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = defaultResetTimeout
	}
}

// commander is the subset of the go-redis client the publisher uses.
type commander interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// Publisher writes reports to Redis through a circuit breaker.
type Publisher struct {
	client *goredis.Client
	cmd    commander
	ttl    time.Duration
	cb     *CircuitBreaker
	log    zerolog.Logger
	prom   *metrics.Metrics
}

// Ensure the Publisher implements the ReportPublisher interface.
var _ model.ReportPublisher = (*Publisher)(nil)

// New connects to Redis and pings the server. m may be nil.
func New(cfg Config, log zerolog.Logger, m *metrics.Metrics) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := newPublisher(client, cfg, log, m)
	p.client = client
	p.log.Info().Str("addr", cfg.Addr).Msg("connected")
	return p, nil
}

func newPublisher(cmd commander, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Publisher {
	cfg.defaults()
	p := &Publisher{
		cmd:  cmd,
		ttl:  cfg.LatestTTL,
		cb:   NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		log:  log.With().Str("component", "redis").Logger(),
		prom: m,
	}
	p.cb.OnStateChange = func(from, to State) {
		p.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		if p.prom == nil {
			return
		}
		p.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == StateOpen {
			p.prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	return p
}

// Client returns the underlying Redis client for health checks. It is nil
// for publishers not created through New.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the publisher's circuit breaker.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// LatestKey returns the key holding the newest report for r's symbol and interval.
func LatestKey(r model.Report) string {
	return "sig:latest:" + r.Symbol + ":" + r.Interval
}

// PublishReport publishes r on its channel and stores it as the latest
// report. Returns ErrCircuitOpen without touching Redis while the breaker is open.
func (p *Publisher) PublishReport(ctx context.Context, r model.Report) error {
	payload := r.JSON()

	err := p.cb.Execute(ctx, func(ctx context.Context) error {
		if err := p.cmd.Publish(ctx, r.ChannelKey(), payload).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", r.ChannelKey(), err)
		}
		if err := p.cmd.Set(ctx, LatestKey(r), payload, p.ttl).Err(); err != nil {
			return fmt.Errorf("redis set %s: %w", LatestKey(r), err)
		}
		return nil
	})
	if err != nil && p.prom != nil {
		p.prom.PublishFailures.Inc()
	}
	return err
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
