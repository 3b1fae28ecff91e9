// Package portfolio paper-trades filtered signals with a single all-in,
// all-out position and tracks the resulting equity curve.
package portfolio

import (
	"fmt"
	"time"

	"signal-engine/internal/model"
)

// Trade is one simulated fill.
type Trade struct {
	Bar   time.Time    `json:"bar"`
	Side  model.Signal `json:"side"`
	Price float64      `json:"price"`
	Qty   float64      `json:"qty"`
}

// Paper holds quote currency until a buy, then the whole balance in base
// currency until a sell. It is not safe for concurrent use.
type Paper struct {
	initial float64
	quote   float64
	base    float64
	trades  []Trade
	values  []float64 // marked equity, one per Mark call
}

// NewPaper starts a paper portfolio with balance units of quote currency.
func NewPaper(balance float64) (*Paper, error) {
	if balance <= 0 {
		return nil, fmt.Errorf("starting balance %v must be positive", balance)
	}
	return &Paper{initial: balance, quote: balance}, nil
}

// Apply executes action at price for bar and marks the portfolio there.
// Buys only fire while flat and sells only while long; anything else holds.
// It reports whether a trade was made.
func (p *Paper) Apply(bar time.Time, action model.Signal, price float64) bool {
	traded := false
	if price > 0 {
		switch {
		case action == model.Buy && p.base == 0:
			qty := p.quote / price
			p.trades = append(p.trades, Trade{Bar: bar, Side: model.Buy, Price: price, Qty: qty})
			p.base, p.quote = qty, 0
			traded = true
		case action == model.Sell && p.base > 0:
			p.trades = append(p.trades, Trade{Bar: bar, Side: model.Sell, Price: price, Qty: p.base})
			p.quote, p.base = p.base*price, 0
			traded = true
		}
	}
	p.Mark(price)
	return traded
}

// Mark records the portfolio value at price and returns it.
func (p *Paper) Mark(price float64) float64 {
	v := p.Value(price)
	p.values = append(p.values, v)
	return v
}

// Value is quote plus base marked at price.
func (p *Paper) Value(price float64) float64 {
	return p.quote + p.base*price
}

// Trades returns a copy of the fills so far.
func (p *Paper) Trades() []Trade {
	return append([]Trade(nil), p.trades...)
}

// Summary describes a finished run.
type Summary struct {
	Initial        float64 `json:"initial"`
	Final          float64 `json:"final"`
	PnLPct         float64 `json:"pnl_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Trades         int     `json:"trades"`
	Open           bool    `json:"open"` // still holding base currency
}

// Summary values the portfolio at the last price.
func (p *Paper) Summary(last float64) Summary {
	final := p.Value(last)
	return Summary{
		Initial:        p.initial,
		Final:          final,
		PnLPct:         (final - p.initial) / p.initial * 100,
		MaxDrawdownPct: MaxDrawdown(p.values),
		Trades:         len(p.trades),
		Open:           p.base > 0,
	}
}

// MaxDrawdown returns the largest peak-to-trough fall of values, in percent
// of the running peak.
func MaxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak, worst := values[0], 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}
