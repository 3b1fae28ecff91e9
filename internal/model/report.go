package model

import (
	"encoding/json"
	"time"
)

// Report summarises one evaluation of the indicator stack over a candle sequence.
// The scalar fields describe the newest bar; the series fields carry the full
// derived history for callers that need it (backtests, charts).
type Report struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	TS        time.Time `json:"ts"` // open time of the newest bar
	Close     float64   `json:"close"`
	LastPrice float64   `json:"last_price,omitempty"` // from the ticker, 0 if unavailable
	EMA       float64   `json:"ema"`
	Upper     float64   `json:"upper"`
	Lower     float64   `json:"lower"`
	Avg       float64   `json:"avg"`
	Signal    Signal    `json:"signal"`
	Action    Signal    `json:"action"` // Signal confirmed by price against the EMA
	Bars      int       `json:"bars"`

	EMASeries []float64 `json:"-"`
	AvgSeries []float64 `json:"-"`
	Signals   []Signal  `json:"-"` // Signals[i] belongs to bar i+1
	Actions   []Signal  `json:"-"` // Actions[i] belongs to bar i+1
}

// JSON returns the JSON-encoded report.
func (r *Report) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// ChannelKey returns the pub/sub channel for reports of this symbol and interval.
func (r *Report) ChannelKey() string {
	return "sig:" + r.Symbol + ":" + r.Interval
}
