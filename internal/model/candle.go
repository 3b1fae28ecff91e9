package model

import (
	"encoding/json"
	"time"
)

// Candle represents one closed OHLCV bar for a single symbol and interval.
// Candles are treated as immutable once produced by a data source.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"` // exchange interval code, e.g. "1m", "1h"
	TS       time.Time `json:"ts"`       // bar open time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Key returns "symbol:interval".
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Interval
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts the close price of every candle, preserving order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}
