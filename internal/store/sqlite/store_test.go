package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "candles.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func series(symbol string, n int, start time.Time) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		px := float64(100 + i)
		out[i] = model.Candle{
			Symbol: symbol, Interval: "1m",
			TS:   start.Add(time.Duration(i) * time.Minute),
			Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 10,
		}
	}
	return out
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	in := series("BTCUSDT", 5, start)
	require.NoError(t, s.SaveCandles(ctx, in))

	got, err := s.ReadCandles(ctx, "BTCUSDT", "1m", 0)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestStore_ReadNewestOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	in := series("BTCUSDT", 10, start)
	// Insert out of order; reads are still time-ordered.
	require.NoError(t, s.SaveCandles(ctx, in[5:]))
	require.NoError(t, s.SaveCandles(ctx, in[:5]))

	got, err := s.ReadCandles(ctx, "BTCUSDT", "1m", 3)
	require.NoError(t, err)
	assert.Equal(t, in[7:], got)
}

func TestStore_UpsertReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	in := series("BTCUSDT", 2, start)
	require.NoError(t, s.SaveCandles(ctx, in))

	updated := in[1]
	updated.Close = 999
	require.NoError(t, s.SaveCandles(ctx, []model.Candle{updated}))

	got, err := s.ReadCandles(ctx, "BTCUSDT", "1m", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 999.0, got[1].Close)
}

func TestStore_KeysAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveCandles(ctx, series("BTCUSDT", 3, start)))
	require.NoError(t, s.SaveCandles(ctx, series("ETHUSDT", 2, start)))

	got, err := s.ReadCandles(ctx, "ETHUSDT", "1m", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ReadCandles(ctx, "BTCUSDT", "5m", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SaveEmptyIsNoop(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.SaveCandles(context.Background(), nil))
}
