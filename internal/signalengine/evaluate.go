// Package signalengine runs the indicator stack over market data and
// delivers the resulting reports. It owns no exchange or storage details:
// everything is reached through the ports in package model.
package signalengine

import (
	"fmt"

	"signal-engine/internal/indicator"
	"signal-engine/internal/model"
)

// Evaluate computes the EMA and the G-Channel over one candle sequence and
// summarises the newest bar. EMA and G-Channel are computed independently
// over the same closes.
func Evaluate(symbol, interval string, candles []model.Candle, emaPeriod, gLength int) (model.Report, error) {
	ema, err := indicator.EMA(model.Closes(candles), emaPeriod)
	if err != nil {
		return model.Report{}, fmt.Errorf("ema(%d): %w", emaPeriod, err)
	}
	g, err := indicator.GChannel(candles, gLength)
	if err != nil {
		return model.Report{}, fmt.Errorf("gchannel(%d): %w", gLength, err)
	}

	actions := make([]model.Signal, len(g.Signals))
	for i, sig := range g.Signals {
		actions[i] = Decide(sig, candles[i+1].Close, ema[i+1])
	}

	last := len(candles) - 1
	return model.Report{
		Symbol:    symbol,
		Interval:  interval,
		TS:        candles[last].TS,
		Close:     candles[last].Close,
		EMA:       ema[last],
		Upper:     g.Upper[last],
		Lower:     g.Lower[last],
		Avg:       g.Avg[last],
		Signal:    g.Last(),
		Action:    Decide(g.Last(), candles[last].Close, ema[last]),
		Bars:      len(candles),
		EMASeries: ema,
		AvgSeries: g.Avg,
		Signals:   g.Signals,
		Actions:   actions,
	}, nil
}

// Decide filters a G-Channel signal through the EMA: a buy only stands while
// price trades below the EMA and a sell only while it trades above. Any
// other combination holds.
func Decide(sig model.Signal, price, ema float64) model.Signal {
	switch {
	case sig == model.Buy && price < ema:
		return model.Buy
	case sig == model.Sell && price > ema:
		return model.Sell
	default:
		return model.Hold
	}
}
