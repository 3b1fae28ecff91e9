package indicator

import "fmt"

// EMA calculates the Exponential Moving Average of series.
//
// The first output equals the first input; every later output blends the new
// input with the previous output using multiplier 2/(period+1). The result has
// the same length as series.
func EMA(series []float64, period int) ([]float64, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: empty series", ErrInvalidInput)
	}
	if period < 1 {
		return nil, fmt.Errorf("%w: EMA period %d < 1", ErrInvalidInput, period)
	}

	multiplier := 2.0 / float64(period+1)
	out := make([]float64, len(series))
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
		out[i] = series[i]*multiplier + out[i-1]*(1-multiplier)
	}
	return out, nil
}
