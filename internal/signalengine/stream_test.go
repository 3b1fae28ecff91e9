package signalengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/internal/model"
)

func TestRunStream_EvaluatesClosedCandles(t *testing.T) {
	history := bars("BTCUSDT", 10, 10, 1)
	market := &fakeMarket{candles: map[string][]model.Candle{"BTCUSDT": history[:2]}}
	store := &fakeStore{}
	pub := &fakePublisher{}

	stale := history[0]
	stale.Close = 99
	other := history[2]
	other.Symbol = "XRPUSDT"

	stream := &scriptedStream{candles: []model.Candle{
		stale,      // older than the window head: ignored
		other,      // unconfigured symbol: ignored
		history[2], // completes 10,10,1
	}}

	svc, err := New(testConfig("BTCUSDT"), Deps{
		Market: market, Store: store, Publisher: pub, Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunStream(ctx, stream) }()

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunStream did not return after cancel")
	}

	r := pub.published()[0]
	assert.Equal(t, "BTCUSDT", r.Symbol)
	assert.Equal(t, 3, r.Bars)
	assert.Equal(t, model.Buy, r.Signal)
	assert.Equal(t, history[2].TS, r.TS)

	// Backfill plus the one accepted stream candle.
	assert.Len(t, store.saved, 3)
}

func TestRunStream_StreamFailure(t *testing.T) {
	market := &fakeMarket{candles: map[string][]model.Candle{"BTCUSDT": bars("BTCUSDT", 1, 2)}}
	svc, err := New(testConfig("BTCUSDT"), Deps{Market: market, Logger: zerolog.Nop()})
	require.NoError(t, err)

	boom := errors.New("handshake refused")
	err = svc.RunStream(context.Background(), &scriptedStream{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestRunStream_BackfillFailsForAllSymbols(t *testing.T) {
	fatal := errors.New("down")
	market := &fakeMarket{errs: map[string]error{"BTCUSDT": fatal}}
	svc, err := New(testConfig("BTCUSDT"), Deps{Market: market, Logger: zerolog.Nop()})
	require.NoError(t, err)

	err = svc.RunStream(context.Background(), &scriptedStream{})
	assert.ErrorIs(t, err, fatal)
}

func TestRunStream_BackfillsFromCacheWhenExchangeDown(t *testing.T) {
	history := bars("BTCUSDT", 10, 10, 1)
	market := &fakeMarket{errs: map[string]error{"BTCUSDT": errors.New("down")}}
	store := &fakeStore{saved: history[:2]}
	pub := &fakePublisher{}

	svc, err := New(testConfig("BTCUSDT"), Deps{
		Market: market, Store: store, Publisher: pub, Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunStream(ctx, &scriptedStream{candles: history[2:]}) }()

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	r := pub.published()[0]
	assert.Equal(t, 3, r.Bars)
	assert.Equal(t, model.Buy, r.Signal)
}
