package indicator

import (
	"fmt"
	"math"

	"signal-engine/internal/model"
)

// GChannelResult holds the bands and signals of a G-Channel run over n candles.
//
// Upper, Lower and Avg have length n and align with the input candles.
// Signals has length n-1: Signals[i] classifies the move from bar i to bar
// i+1 and therefore belongs to bar i+1. Use SignalAt to index by bar.
type GChannelResult struct {
	Upper   []float64
	Lower   []float64
	Avg     []float64
	Signals []model.Signal
}

// SignalAt returns the signal of bar. Bar 0 has no prior bar and is always Hold.
func (r *GChannelResult) SignalAt(bar int) model.Signal {
	if bar <= 0 || bar > len(r.Signals) {
		return model.Hold
	}
	return r.Signals[bar-1]
}

// Last returns the signal of the newest bar.
func (r *GChannelResult) Last() model.Signal {
	return r.SignalAt(len(r.Signals))
}

// GChannel computes the adaptive two-band channel over the candle closes.
//
// Both bands start at zero rather than at the first close, so the first bars
// show a transient while the bands climb to price scale. Each later bar pulls
// the upper band toward the lower (and vice versa) by spread/length:
//
//	a[i] = max(src[i], a[i-1]) - (a[i-1]-b[i-1])/length
//	b[i] = min(src[i], b[i-1]) + (a[i-1]-b[i-1])/length
//
// A bar is Buy when the lower band crosses from below the close to above it,
// otherwise Sell when the upper band does the same, otherwise Hold.
func GChannel(candles []model.Candle, length int) (GChannelResult, error) {
	if len(candles) == 0 {
		return GChannelResult{}, fmt.Errorf("%w: no candles", ErrInvalidInput)
	}
	if length < 1 {
		return GChannelResult{}, fmt.Errorf("%w: G-Channel length %d < 1", ErrInvalidInput, length)
	}

	n := len(candles)
	l := float64(length)
	a := make([]float64, n)
	b := make([]float64, n)
	avg := make([]float64, n)
	signals := make([]model.Signal, 0, n-1)

	for i := 1; i < n; i++ {
		src, prev := candles[i].Close, candles[i-1].Close
		spread := (a[i-1] - b[i-1]) / l
		a[i] = math.Max(src, a[i-1]) - spread
		b[i] = math.Min(src, b[i-1]) + spread

		switch {
		case b[i-1] < prev && b[i] > src:
			signals = append(signals, model.Buy)
		case a[i-1] < prev && a[i] > src:
			signals = append(signals, model.Sell)
		default:
			signals = append(signals, model.Hold)
		}
	}
	for i := range avg {
		avg[i] = (a[i] + b[i]) / 2
	}

	return GChannelResult{Upper: a, Lower: b, Avg: avg, Signals: signals}, nil
}
