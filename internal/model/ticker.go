package model

import "time"

// Ticker is a 24h rolling market summary for a symbol.
type Ticker struct {
	Symbol             string    `json:"symbol"`
	LastPrice          float64   `json:"last_price"`
	BidPrice           float64   `json:"bid_price"`
	AskPrice           float64   `json:"ask_price"`
	High               float64   `json:"high"`
	Low                float64   `json:"low"`
	Volume             float64   `json:"volume"`
	QuoteVolume        float64   `json:"quote_volume"`
	PriceChangePercent float64   `json:"price_change_percent"`
	CloseTime          time.Time `json:"close_time"`
}
