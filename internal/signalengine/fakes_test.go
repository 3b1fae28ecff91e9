package signalengine

import (
	"context"
	"sync"
	"time"

	"signal-engine/internal/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bars(symbol string, closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			Symbol: symbol, Interval: "1m",
			TS:   t0.Add(time.Duration(i) * time.Minute),
			Open: c, High: c, Low: c, Close: c,
		}
	}
	return out
}

type fakeMarket struct {
	mu        sync.Mutex
	candles   map[string][]model.Candle
	errs      map[string]error
	tickerErr error
	calls     int
}

func (f *fakeMarket) FetchTicker(_ context.Context, symbol string) (model.Ticker, error) {
	if f.tickerErr != nil {
		return model.Ticker{}, f.tickerErr
	}
	return model.Ticker{Symbol: symbol, LastPrice: 123.45}, nil
}

func (f *fakeMarket) FetchCandles(_ context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	c := f.candles[symbol]
	if len(c) > limit {
		c = c[len(c)-limit:]
	}
	return c, nil
}

func (f *fakeMarket) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu    sync.Mutex
	saved []model.Candle
	err   error
}

func (f *fakeStore) SaveCandles(_ context.Context, candles []model.Candle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, candles...)
	return nil
}

func (f *fakeStore) ReadCandles(_ context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Candle
	for _, c := range f.saved {
		if c.Symbol == symbol && c.Interval == interval {
			out = append(out, c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

type fakePublisher struct {
	mu      sync.Mutex
	reports []model.Report
	err     error
}

func (f *fakePublisher) PublishReport(_ context.Context, r model.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []model.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Report(nil), f.reports...)
}

// scriptedStream emits candles, then either fails with err or waits for cancellation.
type scriptedStream struct {
	candles []model.Candle
	err     error
}

func (s *scriptedStream) Start(ctx context.Context, out chan<- model.Candle) error {
	for _, c := range s.candles {
		select {
		case out <- c:
		case <-ctx.Done():
			return nil
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}
