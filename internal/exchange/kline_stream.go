package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"signal-engine/internal/model"
)

// StreamConfig holds configuration for the kline websocket stream.
type StreamConfig struct {
	// URL is the websocket root, e.g. "wss://stream.binance.com:9443".
	URL string

	Symbols  []string
	Interval string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 1 second if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// ReadTimeout is extended on every message or pong. Defaults to 60s.
	ReadTimeout time.Duration
}

func (c *StreamConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
}

// KlineStream follows Binance kline streams and emits closed candles.
type KlineStream struct {
	cfg StreamConfig
	url string
	log zerolog.Logger

	// Optional hooks.
	OnReconnect func()
	OnConnState func(connected bool)
}

// NewKlineStream creates a stream for cfg's symbols.
func NewKlineStream(cfg StreamConfig, log zerolog.Logger) (*KlineStream, error) {
	cfg.defaults()
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("kline stream requires at least one symbol")
	}
	if cfg.Interval == "" {
		return nil, errors.New("kline stream requires an interval")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parsing stream url: %w", err)
	}

	streams := make([]string, len(cfg.Symbols))
	for i, sym := range cfg.Symbols {
		streams[i] = strings.ToLower(sym) + "@kline_" + cfg.Interval
	}

	return &KlineStream{
		cfg: cfg,
		url: strings.TrimRight(cfg.URL, "/") + "/stream?streams=" + strings.Join(streams, "/"),
		log: log.With().Str("component", "kline_stream").Logger(),
	}, nil
}

// URL returns the combined-stream URL the client dials.
func (s *KlineStream) URL() string { return s.url }

// Start streams closed candles into out until ctx is cancelled, reconnecting
// on disconnect. Returns nil on cancellation.
func (s *KlineStream) Start(ctx context.Context, out chan<- model.Candle) error {
	delay := s.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := s.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if connected {
			// A session that got through the handshake resets the backoff.
			delay = s.cfg.ReconnectDelay
		}

		s.log.Warn().Err(err).Dur("delay", delay).Msg("disconnected, reconnecting")
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect or ctx cancel.
// connected reports whether the handshake succeeded.
func (s *KlineStream) runOnce(ctx context.Context, out chan<- model.Candle) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.log.Info().Strs("symbols", s.cfg.Symbols).Str("interval", s.cfg.Interval).Msg("connected")
	s.setConnState(true)
	defer s.setConnState(false)

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	// Closes the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		candle, closed, err := ParseKlineEvent(raw)
		if err != nil {
			s.log.Warn().Err(err).Bytes("raw", raw).Msg("parse error")
			continue
		}
		if !closed {
			continue
		}

		select {
		case out <- candle:
		case <-ctx.Done():
			return true, nil
		}
	}
}

func (s *KlineStream) setConnState(v bool) {
	if s.OnConnState != nil {
		s.OnConnState(v)
	}
}

// ParseKlineEvent decodes a kline event, either bare or wrapped in a
// combined-stream envelope ({"stream":...,"data":{...}}). closed reports
// whether the kline is final.
func ParseKlineEvent(raw []byte) (candle model.Candle, closed bool, err error) {
	res := gjson.ParseBytes(raw)
	if res.Get("data").Exists() {
		res = res.Get("data")
	}
	if res.Get("e").String() != "kline" {
		return model.Candle{}, false, fmt.Errorf("unexpected event %q", res.Get("e").String())
	}

	k := res.Get("k")
	if !k.IsObject() {
		return model.Candle{}, false, errors.New("kline event without k payload")
	}

	candle = model.Candle{
		Symbol:   k.Get("s").String(),
		Interval: k.Get("i").String(),
		TS:       time.UnixMilli(k.Get("t").Int()).UTC(),
		Open:     k.Get("o").Float(),
		High:     k.Get("h").Float(),
		Low:      k.Get("l").Float(),
		Close:    k.Get("c").Float(),
		Volume:   k.Get("v").Float(),
	}
	if candle.Symbol == "" {
		return model.Candle{}, false, errors.New("kline event without symbol")
	}
	return candle, k.Get("x").Bool(), nil
}
