package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"signal-engine/internal/exchange"
	"signal-engine/internal/retry"
)

// Run modes.
const (
	ModePoll   = "poll"
	ModeStream = "stream"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Exchange
	BinanceBaseURL string
	BinanceWSURL   string
	BinanceAPIKey  string

	// Markets
	Symbols  []string
	Interval string
	Lookback int // candles fetched and kept per symbol

	// Indicators
	EMAPeriod      int
	GChannelLength int

	// Retry policy for remote calls
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration

	// Service
	Mode         string
	PollInterval time.Duration

	// Infrastructure (empty disables)
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Signal alerts (empty disables)
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
// If envFile exists it is loaded first; variables already set in the process
// environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	var errs error
	intEnv := func(key string, fallback int) int {
		n, err := getEnvInt(key, fallback)
		errs = errors.Join(errs, err)
		return n
	}

	cfg := &Config{
		BinanceBaseURL: getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		BinanceWSURL:   getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443"),
		BinanceAPIKey:  getEnv("BINANCE_API_KEY", ""),

		Symbols:  parseList(getEnv("SYMBOLS", "BTCUSDT")),
		Interval: getEnv("INTERVAL", "1m"),
		Lookback: intEnv("LOOKBACK", 200),

		EMAPeriod:      intEnv("EMA_PERIOD", 9),
		GChannelLength: intEnv("GCHANNEL_LENGTH", 100),

		RetryMaxAttempts:  intEnv("RETRY_MAX_ATTEMPTS", retry.DefaultPolicy.MaxAttempts),
		RetryInitialDelay: time.Duration(intEnv("RETRY_INITIAL_DELAY_MS", int(retry.DefaultPolicy.InitialDelay/time.Millisecond))) * time.Millisecond,

		Mode:         strings.ToLower(getEnv("MODE", ModePoll)),
		PollInterval: time.Duration(intEnv("POLL_INTERVAL_SEC", 60)) * time.Second,

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
	if errs != nil {
		return nil, errs
	}

	return cfg, cfg.Validate()
}

// RetryPolicy returns the retry policy for remote calls.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.RetryMaxAttempts, InitialDelay: c.RetryInitialDelay}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error

	if len(c.Symbols) == 0 {
		errs = errors.Join(errs, errors.New("no symbols configured"))
	}
	if c.Interval == "" {
		errs = errors.Join(errs, errors.New("interval cannot be empty"))
	}
	if c.Lookback < 2 || c.Lookback > exchange.MaxKlineLimit {
		errs = errors.Join(errs, fmt.Errorf("lookback %d must be in [2, %d]", c.Lookback, exchange.MaxKlineLimit))
	}
	if c.EMAPeriod < 1 {
		errs = errors.Join(errs, fmt.Errorf("ema period %d must be positive", c.EMAPeriod))
	}
	if c.GChannelLength < 1 {
		errs = errors.Join(errs, fmt.Errorf("g-channel length %d must be positive", c.GChannelLength))
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	switch c.Mode {
	case ModePoll:
		if c.PollInterval <= 0 {
			errs = errors.Join(errs, fmt.Errorf("poll interval %s must be positive", c.PollInterval))
		}
	case ModeStream:
		if c.BinanceWSURL == "" {
			errs = errors.Join(errs, errors.New("stream mode requires a websocket url"))
		}
		// Backfill and the live stream must read the same order book.
		if isTestnet(c.BinanceBaseURL) != isTestnet(c.BinanceWSURL) {
			errs = errors.Join(errs, fmt.Errorf("rest url %q and stream url %q point at different venues", c.BinanceBaseURL, c.BinanceWSURL))
		}
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = errors.Join(errs, errors.New("telegram alerts need both a bot token and a chat id"))
	}
	if c.BinanceBaseURL == "" {
		errs = errors.Join(errs, errors.New("binance base url cannot be empty"))
	}

	return errs
}

// isTestnet reports whether u points at the Binance spot testnet.
func isTestnet(u string) bool {
	return strings.Contains(strings.ToLower(u), "testnet")
}

// parseList splits a comma-separated list, dropping blanks and upper-casing symbols.
func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}
