package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Remote calls (labels: op=ticker|candles)
	FetchAttempts   *prometheus.CounterVec
	FetchRetries    *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec
	FetchFailures   *prometheus.CounterVec
	FetchDur        *prometheus.HistogramVec
	BackoffSeconds  prometheus.Counter
	StreamReconnect prometheus.Counter

	// Indicator engine
	IndicatorComputeDur prometheus.Histogram
	EvaluationsTotal    *prometheus.CounterVec // labels: symbol
	SignalsTotal        *prometheus.CounterVec // labels: symbol, signal

	// Sinks
	CandlesStored   prometheus.Counter
	PublishFailures prometheus.Counter

	// Circuit breaker on the Redis publisher
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_fetch_attempts_total",
			Help: "Remote market-data calls issued, including retries",
		}, []string{"op"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_fetch_retries_total",
			Help: "Remote calls retried after a rate-limit failure",
		}, []string{"op"}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_rate_limit_hits_total",
			Help: "Remote calls rejected with a rate-limit failure",
		}, []string{"op"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_fetch_failures_total",
			Help: "Remote call chains that ended in an error",
		}, []string{"op"}),
		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signald_fetch_duration_seconds",
			Help:    "Latency of a full remote call chain including backoff",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60},
		}, []string{"op"}),
		BackoffSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_backoff_seconds_total",
			Help: "Total time scheduled for rate-limit backoff",
		}),
		StreamReconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_stream_reconnects_total",
			Help: "Kline websocket reconnection attempts",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signald_indicator_compute_duration_seconds",
			Help:    "EMA + G-Channel compute latency per evaluation",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_evaluations_total",
			Help: "Indicator evaluations completed",
		}, []string{"symbol"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_signals_total",
			Help: "Signals of the newest bar per evaluation",
		}, []string{"symbol", "signal"}),

		CandlesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_candles_stored_total",
			Help: "Candles written to the sqlite cache",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_publish_failures_total",
			Help: "Reports that could not be published",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signald_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.FetchAttempts,
		m.FetchRetries,
		m.RateLimitHits,
		m.FetchFailures,
		m.FetchDur,
		m.BackoffSeconds,
		m.StreamReconnect,
		m.IndicatorComputeDur,
		m.EvaluationsTotal,
		m.SignalsTotal,
		m.CandlesStored,
		m.PublishFailures,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastEvalAt      time.Time `json:"last_eval_at"`
	LastEvalOK      bool      `json:"last_eval_ok"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	redisRequired  bool
	sqliteRequired bool
}

// NewHealthStatus returns a default health status. Redis and SQLite only
// count against health when their flags are set.
func NewHealthStatus(redisRequired, sqliteRequired bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:      time.Now(),
		redisRequired:  redisRequired,
		sqliteRequired: sqliteRequired,
	}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

// RecordEvaluation stores the outcome of the latest evaluation round.
func (h *HealthStatus) RecordEvaluation(at time.Time, ok bool) {
	h.mu.Lock()
	h.LastEvalAt = at
	h.LastEvalOK = ok
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either dependency may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(checkCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(checkCtx, sqlDB)
		}
	}

	go func() {
		// Check once up front so /healthz is accurate before the first tick.
		check()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if (h.redisRequired && !h.RedisConnected) || (h.sqliteRequired && !h.SQLiteOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.LastEvalAt.IsZero() && !h.LastEvalOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	evalAge := ""
	if !h.LastEvalAt.IsZero() {
		evalAge = time.Since(h.LastEvalAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		LastEvalAt      string  `json:"last_eval_at"`
		LastEvalOK      bool    `json:"last_eval_ok"`
		EvalAge         string  `json:"eval_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		LastEvalAt:      h.LastEvalAt.Format(time.RFC3339),
		LastEvalOK:      h.LastEvalOK,
		EvalAge:         evalAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  zerolog.Logger
}

// NewServer creates a metrics and health server gathering from g.
func NewServer(addr string, g prometheus.Gatherer, health *HealthStatus, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
