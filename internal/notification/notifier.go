// Package notification delivers buy/sell alerts to external channels
// (webhooks, Telegram).
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert is one notification about a signal transition.
type Alert struct {
	Level    AlertLevel   `json:"level"`
	Title    string       `json:"title"`
	Message  string       `json:"message"`
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Signal   model.Signal `json:"signal"`
	Bar      time.Time    `json:"bar"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// AlertFor describes r as an alert. Sell alerts are raised at warning level.
func AlertFor(r model.Report) Alert {
	level := AlertInfo
	if r.Signal == model.Sell {
		level = AlertWarning
	}
	return Alert{
		Level:    level,
		Title:    fmt.Sprintf("%s %s %s", r.Symbol, r.Interval, r.Signal),
		Message:  fmt.Sprintf("close %.8g, ema %.8g, channel %.8g / %.8g, action %s", r.Close, r.EMA, r.Lower, r.Upper, r.Action),
		Symbol:   r.Symbol,
		Interval: r.Interval,
		Signal:   r.Signal,
		Bar:      r.TS,
	}
}

// SignalAlerts adapts a Notifier into a report publisher that only speaks up
// for buy and sell bars, once per bar and signal.
type SignalAlerts struct {
	n   Notifier
	log zerolog.Logger

	mu   sync.Mutex
	sent map[string]alerted // symbol:interval -> last alert
}

// alerted is the bar and signal of the last alert sent for a series.
type alerted struct {
	bar    time.Time
	signal model.Signal
}

// Ensure SignalAlerts implements the ReportPublisher interface.
var _ model.ReportPublisher = (*SignalAlerts)(nil)

// NewSignalAlerts wraps n.
func NewSignalAlerts(n Notifier, log zerolog.Logger) *SignalAlerts {
	return &SignalAlerts{
		n:    n,
		log:  log.With().Str("component", "notify").Logger(),
		sent: make(map[string]alerted),
	}
}

// PublishReport sends an alert for a non-hold report unless the same signal
// was already alerted for its bar. A forming bar that flips from buy to sell
// alerts again; older bars and hold reports are dropped silently.
func (a *SignalAlerts) PublishReport(ctx context.Context, r model.Report) error {
	if r.Signal == model.Hold {
		return nil
	}
	key := r.Symbol + ":" + r.Interval

	a.mu.Lock()
	last, ok := a.sent[key]
	if ok && (r.TS.Before(last.bar) || (r.TS.Equal(last.bar) && r.Signal == last.signal)) {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	alert := AlertFor(r)
	if err := a.n.Send(ctx, alert); err != nil {
		return err
	}

	a.mu.Lock()
	a.sent[key] = alerted{bar: r.TS, signal: r.Signal}
	a.mu.Unlock()

	a.log.Info().Str("symbol", r.Symbol).Str("signal", r.Signal.String()).Msg(alert.Title)
	return nil
}

// Close is a no-op.
func (a *SignalAlerts) Close() error { return nil }
