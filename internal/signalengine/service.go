package signalengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"signal-engine/internal/logger"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
)

// Config controls what the service evaluates and how often.
type Config struct {
	Symbols        []string
	Interval       string
	Lookback       int // candles fetched per symbol and kept per window
	EMAPeriod      int
	GChannelLength int
	PollInterval   time.Duration
}

// Deps are the collaborators of a Service. Market is required; the rest
// may be left nil.
type Deps struct {
	Market    model.MarketData
	Store     model.CandleStore
	Publisher model.ReportPublisher
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Logger    zerolog.Logger
}

// Service fetches candles, evaluates them and publishes reports.
type Service struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu     sync.RWMutex
	latest map[string]model.Report // keyed by symbol
}

// New validates cfg and creates a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	var errs []error
	if deps.Market == nil {
		errs = append(errs, errors.New("market data source is required"))
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, errors.New("at least one symbol is required"))
	}
	if cfg.Interval == "" {
		errs = append(errs, errors.New("interval is required"))
	}
	if cfg.Lookback < 1 {
		errs = append(errs, fmt.Errorf("lookback must be positive, got %d", cfg.Lookback))
	}
	if cfg.EMAPeriod < 1 {
		errs = append(errs, fmt.Errorf("ema period must be positive, got %d", cfg.EMAPeriod))
	}
	if cfg.GChannelLength < 1 {
		errs = append(errs, fmt.Errorf("gchannel length must be positive, got %d", cfg.GChannelLength))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("signal service: %w", err)
	}

	return &Service{
		cfg:    cfg,
		deps:   deps,
		log:    logger.Component(deps.Logger, "signalengine"),
		latest: make(map[string]model.Report, len(cfg.Symbols)),
	}, nil
}

// Latest returns the newest report produced for symbol.
func (s *Service) Latest(symbol string) (model.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[symbol]
	return r, ok
}

// RunOnce evaluates every configured symbol once. A failing symbol does not
// stop the others; all failures are joined into the returned error.
func (s *Service) RunOnce(ctx context.Context) error {
	ctx = logger.WithTraceID(ctx, logger.NewTraceID())
	log := logger.Ctx(ctx, s.log)

	var errs []error
	for _, sym := range s.cfg.Symbols {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.pollSymbol(ctx, log, sym); err != nil {
			log.Error().Err(err).Str("symbol", sym).Msg("evaluation failed")
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
		}
	}

	if s.deps.Health != nil {
		s.deps.Health.RecordEvaluation(time.Now(), len(errs) == 0)
	}
	return errors.Join(errs...)
}

func (s *Service) pollSymbol(ctx context.Context, log zerolog.Logger, symbol string) error {
	candles, cached, err := s.loadCandles(ctx, log, symbol)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no %s candles returned", s.cfg.Interval)
	}

	// The ticker is informational; a failure only costs the live price.
	ticker, err := s.deps.Market.FetchTicker(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("ticker fetch failed")
	}

	if !cached {
		s.cache(ctx, log, candles)
	}

	report, err := s.evaluate(symbol, candles)
	if err != nil {
		return err
	}
	if ticker.LastPrice > 0 {
		// Filter against the live price rather than the bar close.
		report.LastPrice = ticker.LastPrice
		report.Action = Decide(report.Signal, report.LastPrice, report.EMA)
	}
	s.deliver(ctx, log, report)
	return nil
}

// loadCandles fetches the newest Lookback candles for symbol. When the
// exchange is unreachable it serves them from the candle cache instead and
// reports cached=true; the fetch error is returned only if the cache has
// nothing either.
func (s *Service) loadCandles(ctx context.Context, log zerolog.Logger, symbol string) (candles []model.Candle, cached bool, err error) {
	candles, err = s.deps.Market.FetchCandles(ctx, symbol, s.cfg.Interval, s.cfg.Lookback)
	if err == nil || s.deps.Store == nil || ctx.Err() != nil {
		return candles, false, err
	}

	stored, readErr := s.deps.Store.ReadCandles(ctx, symbol, s.cfg.Interval, s.cfg.Lookback)
	if readErr != nil {
		return nil, false, errors.Join(err, fmt.Errorf("candle cache: %w", readErr))
	}
	if len(stored) == 0 {
		return nil, false, err
	}

	log.Warn().Err(err).
		Str("symbol", symbol).
		Int("candles", len(stored)).
		Time("newest", stored[len(stored)-1].TS).
		Msg("candle fetch failed, using cache")
	return stored, true, nil
}

// evaluate runs the indicators and records timing.
func (s *Service) evaluate(symbol string, candles []model.Candle) (model.Report, error) {
	start := time.Now()
	report, err := Evaluate(symbol, s.cfg.Interval, candles, s.cfg.EMAPeriod, s.cfg.GChannelLength)
	if m := s.deps.Metrics; m != nil {
		m.IndicatorComputeDur.Observe(time.Since(start).Seconds())
		if err == nil {
			m.EvaluationsTotal.WithLabelValues(symbol).Inc()
			m.SignalsTotal.WithLabelValues(symbol, report.Signal.String()).Inc()
		}
	}
	return report, err
}

// cache persists candles. Cache failures never fail an evaluation.
func (s *Service) cache(ctx context.Context, log zerolog.Logger, candles []model.Candle) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.SaveCandles(ctx, candles); err != nil {
		log.Warn().Err(err).Int("count", len(candles)).Msg("candle cache write failed")
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.CandlesStored.Add(float64(len(candles)))
	}
}

// deliver records, logs and publishes a report.
func (s *Service) deliver(ctx context.Context, log zerolog.Logger, r model.Report) {
	s.mu.Lock()
	prev, seen := s.latest[r.Symbol]
	s.latest[r.Symbol] = r
	s.mu.Unlock()

	ev := log.Debug()
	if r.Signal != model.Hold && (!seen || !prev.TS.Equal(r.TS) || prev.Signal != r.Signal) {
		ev = log.Info()
	}
	ev.Str("symbol", r.Symbol).
		Str("interval", r.Interval).
		Time("bar", r.TS).
		Float64("close", r.Close).
		Float64("ema", r.EMA).
		Float64("upper", r.Upper).
		Float64("lower", r.Lower).
		Str("signal", r.Signal.String()).
		Str("action", r.Action.String()).
		Msg("evaluated")

	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.PublishReport(ctx, r); err != nil {
		log.Warn().Err(err).Str("symbol", r.Symbol).Msg("publish failed")
	}
}

// Run evaluates every PollInterval until ctx is cancelled. Rounds run in
// singleton mode: a slow round delays the next instead of overlapping it.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", s.cfg.PollInterval)
	}

	sched := gocron.NewScheduler(time.UTC)
	sched.SingletonModeAll()
	_, err := sched.Every(s.cfg.PollInterval).Do(func() {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("poll round finished with errors")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling poll job: %w", err)
	}

	s.log.Info().
		Strs("symbols", s.cfg.Symbols).
		Str("interval", s.cfg.Interval).
		Dur("every", s.cfg.PollInterval).
		Msg("polling started")

	sched.StartAsync()
	<-ctx.Done()
	sched.Stop()

	s.log.Info().Msg("polling stopped")
	return nil
}
