// cmd/signald polls or streams Binance candles, evaluates the EMA and
// G-Channel indicators per symbol and publishes buy/sell/hold reports.
//
// Usage:
//
//	go run ./cmd/signald --env=.env
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/exchange"
	"signal-engine/internal/logger"
	"signal-engine/internal/metrics"
	"signal-engine/internal/notification"
	"signal-engine/internal/signalengine"
	redisstore "signal-engine/internal/store/redis"
	sqlitestore "signal-engine/internal/store/sqlite"
)

func main() {
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	envFile := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		// Logger level is not known yet.
		boot := logger.Init("signald", "info")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.Init("signald", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(cfg.RedisAddr != "", cfg.SQLitePath != "")

	// ---- Exchange ----
	binance, err := exchange.NewBinanceClient(exchange.BinanceConfig{
		BaseURL: cfg.BinanceBaseURL,
		APIKey:  cfg.BinanceAPIKey,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("binance client init failed")
	}
	market, err := exchange.NewRetryingClient(binance, cfg.RetryPolicy(), log, exchange.WithMetrics(prom))
	if err != nil {
		log.Fatal().Err(err).Msg("retrying client init failed")
	}

	deps := signalengine.Deps{
		Market:  market,
		Metrics: prom,
		Health:  health,
		Logger:  log,
	}

	// ---- Optional sinks ----
	var sqlDB *sql.DB
	if cfg.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			log.Fatal().Err(err).Msg("creating sqlite directory")
		}
		store, err := sqlitestore.New(cfg.SQLitePath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("sqlite init failed")
		}
		defer store.Close()
		deps.Store = store
		sqlDB = store.DB()
	}

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		pub, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, log, prom)
		if err != nil {
			log.Fatal().Err(err).Msg("redis init failed")
		}
		defer pub.Close()
		deps.Publisher = pub
		rdb = pub.Client()
	}

	var sinks signalengine.Publishers
	if deps.Publisher != nil {
		sinks = append(sinks, deps.Publisher)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notification.NewSignalAlerts(notification.NewWebhookNotifier(cfg.WebhookURL), log))
	}
	if cfg.TelegramBotToken != "" {
		sinks = append(sinks, notification.NewSignalAlerts(notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID), log))
	}
	if len(sinks) > 0 {
		deps.Publisher = sinks
	}

	health.StartLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)

	// ---- Metrics server ----
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, reg, health, log)
		srv.Start()
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutCancel()
			srv.Stop(shutCtx)
		}()
	}

	// ---- Service ----
	svc, err := signalengine.New(signalengine.Config{
		Symbols:        cfg.Symbols,
		Interval:       cfg.Interval,
		Lookback:       cfg.Lookback,
		EMAPeriod:      cfg.EMAPeriod,
		GChannelLength: cfg.GChannelLength,
		PollInterval:   cfg.PollInterval,
	}, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("service init failed")
	}

	log.Info().
		Str("mode", cfg.Mode).
		Strs("symbols", cfg.Symbols).
		Str("interval", cfg.Interval).
		Int("ema_period", cfg.EMAPeriod).
		Int("gchannel_length", cfg.GChannelLength).
		Int("retry_max_attempts", cfg.RetryMaxAttempts).
		Dur("retry_initial_delay", cfg.RetryInitialDelay).
		Msg("signald starting")

	switch cfg.Mode {
	case config.ModeStream:
		err = svc.RunStream(ctx, newStream(cfg, prom, health, log))
	default:
		err = svc.Run(ctx)
	}
	if err != nil {
		log.Error().Err(err).Msg("service stopped with error")
		exitCode = 1
		return
	}
	log.Info().Msg("shutdown complete")
}

func newStream(cfg *config.Config, prom *metrics.Metrics, health *metrics.HealthStatus, log zerolog.Logger) signalengine.CandleStream {
	stream, err := exchange.NewKlineStream(exchange.StreamConfig{
		URL:      cfg.BinanceWSURL,
		Symbols:  cfg.Symbols,
		Interval: cfg.Interval,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("kline stream init failed")
	}
	stream.OnReconnect = prom.StreamReconnect.Inc
	stream.OnConnState = health.SetStreamConnected
	return stream
}
