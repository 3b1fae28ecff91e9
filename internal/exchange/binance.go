// Package exchange provides market-data clients for remote exchanges.
//
// BinanceClient talks to the Binance spot REST API; RetryingClient decorates
// any model.MarketData with rate-limit backoff; KlineStream follows closed
// klines over websocket.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"signal-engine/internal/model"
	"signal-engine/internal/retry"
)

const (
	tickerPath = "/api/v3/ticker/24hr"
	klinesPath = "/api/v3/klines"

	// codeTooManyRequests is Binance's error code for request-weight violations.
	codeTooManyRequests = -1003

	// MaxKlineLimit is the largest page Binance serves for /klines.
	MaxKlineLimit = 1000
)

// BinanceConfig configures the Binance REST client.
type BinanceConfig struct {
	// BaseURL is the API root, e.g. "https://api.binance.com".
	BaseURL string

	// APIKey is sent as X-MBX-APIKEY when set. Public market data works without it.
	APIKey string

	// Timeout bounds each HTTP request. Defaults to 10 seconds if zero.
	Timeout time.Duration
}

// APIError is a non-2xx response from the exchange.
type APIError struct {
	Status int    // HTTP status code
	Code   int    // exchange error code, 0 if the body carried none
	Msg    string // exchange error message or raw body
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance: status %d: code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance: status %d: %s", e.Status, e.Msg)
}

// RateLimited reports whether the exchange rejected the call for request weight.
// 429 is a rate-limit warning; 418 is the IP ban that follows ignored 429s.
func (e *APIError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusTeapot || e.Code == codeTooManyRequests
}

// Unwrap exposes retry.ErrRateLimited for rate-limit responses.
func (e *APIError) Unwrap() error {
	if e.RateLimited() {
		return retry.ErrRateLimited
	}
	return nil
}

// BinanceClient is a Binance spot market-data client.
type BinanceClient struct {
	cfg   BinanceConfig
	httpc *http.Client
	log   zerolog.Logger
}

// Ensure the BinanceClient implements the MarketData interface.
var _ model.MarketData = (*BinanceClient)(nil)

// NewBinanceClient creates a client. The base URL must be absolute.
func NewBinanceClient(cfg BinanceConfig, log zerolog.Logger) (*BinanceClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing binance base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("binance base url %q is not absolute", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &BinanceClient{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
		log:   log.With().Str("component", "binance").Logger(),
	}, nil
}

// FetchTicker returns the 24h rolling ticker for symbol.
func (c *BinanceClient) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.get(ctx, tickerPath, params)
	if err != nil {
		return model.Ticker{}, fmt.Errorf("fetching ticker for %s: %w", symbol, err)
	}

	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return model.Ticker{}, fmt.Errorf("fetching ticker for %s: unexpected payload", symbol)
	}
	return parseTicker(res), nil
}

// FetchCandles returns up to limit of the most recent candles, oldest first.
func (c *BinanceClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if limit <= 0 || limit > MaxKlineLimit {
		return nil, fmt.Errorf("kline limit %d out of range [1, %d]", limit, MaxKlineLimit)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, klinesPath, params)
	if err != nil {
		return nil, fmt.Errorf("fetching %s klines for %s: %w", interval, symbol, err)
	}

	candles, err := ParseKlines(body, symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("parsing %s klines for %s: %w", interval, symbol, err)
	}
	return candles, nil
}

// get issues a GET and returns the body of a 2xx response.
func (c *BinanceClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseAPIError(resp.StatusCode, body)
		ev := c.log.Warn()
		if !apiErr.RateLimited() {
			ev = c.log.Error()
		}
		ev.Str("path", path).Int("status", apiErr.Status).Int("code", apiErr.Code).
			Str("retry_after", resp.Header.Get("Retry-After")).Msg(apiErr.Msg)
		return nil, apiErr
	}

	return body, nil
}

// parseAPIError decodes Binance's {"code":-1121,"msg":"..."} error envelope.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	res := gjson.ParseBytes(body)
	if res.IsObject() && res.Get("msg").Exists() {
		apiErr.Code = int(res.Get("code").Int())
		apiErr.Msg = res.Get("msg").String()
		return apiErr
	}

	apiErr.Msg = strings.TrimSpace(string(body))
	if apiErr.Msg == "" {
		apiErr.Msg = http.StatusText(status)
	}
	return apiErr
}

func parseTicker(res gjson.Result) model.Ticker {
	return model.Ticker{
		Symbol:             res.Get("symbol").String(),
		LastPrice:          res.Get("lastPrice").Float(),
		BidPrice:           res.Get("bidPrice").Float(),
		AskPrice:           res.Get("askPrice").Float(),
		High:               res.Get("highPrice").Float(),
		Low:                res.Get("lowPrice").Float(),
		Volume:             res.Get("volume").Float(),
		QuoteVolume:        res.Get("quoteVolume").Float(),
		PriceChangePercent: res.Get("priceChangePercent").Float(),
		CloseTime:          time.UnixMilli(res.Get("closeTime").Int()).UTC(),
	}
}

// ParseKlines decodes a Binance klines payload:
//
//	[[openTime, "open", "high", "low", "close", "volume", closeTime, ...], ...]
//
// Rows are returned in payload order, which Binance serves oldest first.
func ParseKlines(data []byte, symbol, interval string) ([]model.Candle, error) {
	res := gjson.ParseBytes(data)
	if !res.IsArray() {
		return nil, errors.New("klines payload is not an array")
	}

	rows := res.Array()
	candles := make([]model.Candle, 0, len(rows))
	for idx, row := range rows {
		fields := row.Array()
		if len(fields) < 6 {
			return nil, fmt.Errorf("kline %d: expected at least 6 fields, got %d", idx, len(fields))
		}
		candles = append(candles, model.Candle{
			Symbol:   symbol,
			Interval: interval,
			TS:       time.UnixMilli(fields[0].Int()).UTC(),
			Open:     fields[1].Float(),
			High:     fields[2].Float(),
			Low:      fields[3].Float(),
			Close:    fields[4].Float(),
			Volume:   fields[5].Float(),
		})
	}
	return candles, nil
}
