package signalengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signal-engine/internal/indicator"
	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

// CandleStream delivers closed candles until ctx is cancelled.
type CandleStream interface {
	Start(ctx context.Context, out chan<- model.Candle) error
}

// RunStream backfills a window per symbol from the market, then re-evaluates
// a symbol on every closed candle the stream delivers. It returns when ctx is
// cancelled or the stream fails.
func (s *Service) RunStream(ctx context.Context, stream CandleStream) error {
	windows, err := s.backfill(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan model.Candle, 64)
	errc := make(chan error, 1)
	go func() { errc <- stream.Start(ctx, out) }()

	s.log.Info().Strs("symbols", s.cfg.Symbols).Str("interval", s.cfg.Interval).Msg("streaming started")

	for {
		select {
		case <-ctx.Done():
			<-errc
			s.log.Info().Msg("streaming stopped")
			return nil

		case err := <-errc:
			if err == nil && ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("stream ended")
			}
			return fmt.Errorf("kline stream: %w", err)

		case c := <-out:
			s.onCandle(ctx, windows, c)
		}
	}
}

// backfill seeds one window per symbol with the most recent candles.
func (s *Service) backfill(ctx context.Context) (map[string]*indicator.Window, error) {
	windows := make(map[string]*indicator.Window, len(s.cfg.Symbols))
	var errs []error

	for _, sym := range s.cfg.Symbols {
		w := indicator.NewWindow(s.cfg.Lookback)
		windows[sym] = w

		candles, cached, err := s.loadCandles(ctx, s.log, sym)
		if err != nil {
			errs = append(errs, fmt.Errorf("backfill %s: %w", sym, err))
			continue
		}
		for _, c := range candles {
			w.Push(c)
		}
		if !cached {
			s.cache(ctx, s.log, candles)
		}
		s.log.Info().Str("symbol", sym).Int("candles", w.Len()).Bool("cached", cached).Msg("backfilled")
	}

	// A symbol that failed to backfill still streams; it just warms up slower.
	if len(errs) == len(s.cfg.Symbols) {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		s.log.Warn().Err(err).Msg("partial backfill")
	}
	return windows, nil
}

func (s *Service) onCandle(ctx context.Context, windows map[string]*indicator.Window, c model.Candle) {
	w, ok := windows[c.Symbol]
	if !ok || c.Interval != s.cfg.Interval {
		s.log.Debug().Str("key", c.Key()).Msg("ignoring candle for unconfigured stream")
		return
	}
	if !w.Push(c) {
		s.log.Debug().Str("symbol", c.Symbol).Time("bar", c.TS).Msg("ignoring out-of-order candle")
		return
	}

	ctx = logger.WithTraceID(ctx, logger.NewTraceID())
	log := logger.Ctx(ctx, s.log)

	s.cache(ctx, log, []model.Candle{c})

	report, err := s.evaluate(c.Symbol, w.Candles())
	if s.deps.Health != nil {
		s.deps.Health.RecordEvaluation(time.Now(), err == nil)
	}
	if err != nil {
		log.Error().Err(err).Str("symbol", c.Symbol).Msg("evaluation failed")
		return
	}
	s.deliver(ctx, log, report)
}
