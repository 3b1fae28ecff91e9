package model

import "context"

// ── Ports ──
// These interfaces decouple the signal service from concrete exchange and
// storage implementations.

// MarketData is the remote market-data capability. Implementations must return
// errors wrapping retry.ErrRateLimited for rate-limit conditions so the
// retrying decorator can tell them apart from fatal failures.
type MarketData interface {
	// FetchTicker returns the 24h ticker for symbol.
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)

	// FetchCandles returns up to limit of the most recent candles, oldest first.
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// CandleStore caches candles for replay and backtesting.
type CandleStore interface {
	// SaveCandles upserts candles keyed by (symbol, interval, ts).
	SaveCandles(ctx context.Context, candles []Candle) error

	// ReadCandles returns the newest limit candles, oldest first.
	// limit <= 0 returns all.
	ReadCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// ReportPublisher delivers evaluation reports to downstream consumers.
type ReportPublisher interface {
	// PublishReport delivers one report.
	PublishReport(ctx context.Context, report Report) error

	// Close releases underlying resources.
	Close() error
}
