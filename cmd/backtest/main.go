// cmd/backtest replays historical candles through the EMA and G-Channel
// indicators, prints every buy/sell transition and paper-trades the
// EMA-confirmed ones, without touching the live exchange.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/candles.db --symbol=BTCUSDT --interval=1m
//	go run ./cmd/backtest --file=klines.json --symbol=BTCUSDT --length=100 --balance=10000
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"signal-engine/internal/exchange"
	"signal-engine/internal/logger"
	"signal-engine/internal/model"
	"signal-engine/internal/portfolio"
	"signal-engine/internal/signalengine"
	sqlitestore "signal-engine/internal/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/candles.db", "Path to the SQLite candle cache")
	file := flag.String("file", "", "Binance klines JSON file to replay instead of the cache")
	symbol := flag.String("symbol", "BTCUSDT", "Symbol to replay")
	interval := flag.String("interval", "1m", "Kline interval")
	limit := flag.Int("limit", 0, "Replay only the newest N candles (0=all)")
	emaPeriod := flag.Int("ema", 9, "EMA period")
	length := flag.Int("length", 100, "G-Channel length")
	balance := flag.Float64("balance", 10000, "Starting quote balance for the paper portfolio")
	flag.Parse()

	log := logger.Init("backtest", os.Getenv("LOG_LEVEL"))
	sym := strings.ToUpper(*symbol)

	candles, err := loadCandles(*file, *dbPath, sym, *interval, *limit, log)
	if err != nil {
		log.Fatal().Err(err).Msg("loading candles")
	}
	if len(candles) == 0 {
		log.Fatal().Str("symbol", sym).Str("interval", *interval).Msg("no candles to replay")
	}

	report, err := signalengine.Evaluate(sym, *interval, candles, *emaPeriod, *length)
	if err != nil {
		log.Fatal().Err(err).Msg("evaluation failed")
	}

	paper, err := portfolio.NewPaper(*balance)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid balance")
	}

	buys, sells := printTransitions(os.Stdout, candles, report, paper)
	summary := paper.Summary(report.Close)

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Symbol:            %-16s ║\n", sym+" "+*interval)
	fmt.Printf("║  Candles replayed:  %-16d ║\n", len(candles))
	fmt.Printf("║  Buy signals:       %-16d ║\n", buys)
	fmt.Printf("║  Sell signals:      %-16d ║\n", sells)
	fmt.Printf("║  Last signal:       %-16s ║\n", report.Signal)
	fmt.Printf("║  Last action:       %-16s ║\n", report.Action)
	fmt.Printf("║  Last close:        %-16.4f ║\n", report.Close)
	fmt.Printf("║  Last EMA:          %-16.4f ║\n", report.EMA)
	fmt.Printf("║  Trades:            %-16d ║\n", summary.Trades)
	fmt.Printf("║  Final value:       %-16.2f ║\n", summary.Final)
	fmt.Printf("║  PnL:               %-16s ║\n", fmt.Sprintf("%.2f%%", summary.PnLPct))
	fmt.Printf("║  Max drawdown:      %-16s ║\n", fmt.Sprintf("%.2f%%", summary.MaxDrawdownPct))
	fmt.Println("╚══════════════════════════════════════╝")
}

func loadCandles(file, dbPath, symbol, interval string, limit int, log zerolog.Logger) ([]model.Candle, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		candles, err := exchange.ParseKlines(data, symbol, interval)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		if limit > 0 && len(candles) > limit {
			candles = candles[len(candles)-limit:]
		}
		return candles, nil
	}

	store, err := sqlitestore.New(dbPath, log)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.ReadCandles(context.Background(), symbol, interval, limit)
}

// printTransitions writes one line per non-hold bar, paper-trades the
// EMA-filtered action of every bar and returns the raw signal counts.
func printTransitions(w io.Writer, candles []model.Candle, r model.Report, p *portfolio.Paper) (buys, sells int) {
	p.Mark(candles[0].Close)
	for i, sig := range r.Signals {
		bar := i + 1
		c := candles[bar]
		action := r.Actions[i]
		traded := p.Apply(c.TS, action, c.Close)

		switch sig {
		case model.Buy:
			buys++
		case model.Sell:
			sells++
		default:
			continue
		}
		note := "filtered"
		switch {
		case traded:
			note = "filled"
		case action != model.Hold:
			note = "no position change"
		}
		fmt.Fprintf(w, "  [%s] %-4s close=%.4f ema=%.4f avg=%.4f %s\n",
			c.TS.Format("2006-01-02 15:04"), strings.ToUpper(sig.String()), c.Close, r.EMASeries[bar], r.AvgSeries[bar], note)
	}
	return buys, sells
}
