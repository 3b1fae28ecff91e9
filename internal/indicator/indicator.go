// Package indicator provides technical indicator calculations over candle data.
//
// The calculators are pure functions over ordered sequences: they hold no
// state between calls and never block. Invalid input is rejected with
// ErrInvalidInput before any arithmetic runs, so callers never see NaN or Inf
// produced by a degenerate period.
package indicator

import "errors"

// ErrInvalidInput is returned for empty input or a non-positive period/length.
var ErrInvalidInput = errors.New("invalid indicator input")
