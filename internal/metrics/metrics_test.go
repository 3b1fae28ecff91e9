package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func TestNewMetrics_RegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SignalsTotal.WithLabelValues("BTCUSDT", "buy").Inc()
	m.RateLimitHits.WithLabelValues("candles").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("BTCUSDT", "buy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues("candles")))

	// A second registry accepts a fresh set without collisions.
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}

func TestServer_ExposesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CandlesStored.Add(3)

	health := NewHealthStatus(false, false)
	srv := NewServer(":0", reg, health, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "signald_candles_stored_total 3"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthStatus_DegradedAfterFailedEvaluation(t *testing.T) {
	health := NewHealthStatus(false, false)
	health.RecordEvaluation(time.Now(), false)

	rec := httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestHealthStatus_RequiredDependencies(t *testing.T) {
	health := NewHealthStatus(true, false)

	rec := httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLivenessChecker_ChecksBeforeFirstTick(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewHealthStatus(false, true)
	h.StartLivenessChecker(ctx, nil, db, time.Hour)

	assert.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.SQLiteOK && !h.LastCheckAt.IsZero()
	}, time.Second, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
