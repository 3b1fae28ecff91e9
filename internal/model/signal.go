package model

import "fmt"

// Signal is the per-bar classification produced by the G-Channel engine.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Hold:
		return "hold"
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// MarshalText encodes the signal by name.
func (s Signal) MarshalText() ([]byte, error) {
	switch s {
	case Hold, Buy, Sell:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown signal %d", int(s))
	}
}

// UnmarshalText decodes a signal name.
func (s *Signal) UnmarshalText(text []byte) error {
	switch string(text) {
	case "hold":
		*s = Hold
	case "buy":
		*s = Buy
	case "sell":
		*s = Sell
	default:
		return fmt.Errorf("unknown signal %q", text)
	}
	return nil
}
