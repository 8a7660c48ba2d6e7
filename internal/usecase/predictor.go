package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"klinecast/internal/domain/models"
	drepo "klinecast/internal/domain/repository"
	"klinecast/internal/service/forecast"
	"klinecast/pkg/logger"
	"klinecast/pkg/util"
)

// Predictor fills in hour blocks of minute forecasts. Each validation
// tick walks the symbols sequentially, finds the next unpredicted UTC
// hour that real data already covers, acquires the day's model set and
// persists the 60 predicted minutes. Hours missed during downtime are
// caught up one per tick, in order.
type Predictor struct {
	store     drepo.Store
	metrics   drepo.Metrics
	clock     drepo.Clock
	logger    *logger.Logger
	artifacts *forecast.Manager

	symbols  []string
	interval time.Duration

	// Daily model sets cached in memory, keyed by symbol.
	mu   sync.Mutex
	sets map[string]*forecast.ModelSet

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PredictorParams bundles construction inputs.
type PredictorParams struct {
	Store     drepo.Store
	Metrics   drepo.Metrics
	Clock     drepo.Clock
	Logger    *logger.Logger
	Artifacts *forecast.Manager
	Symbols   []string
	Interval  time.Duration
}

func NewPredictor(p PredictorParams) *Predictor {
	if p.Interval <= 0 {
		p.Interval = 5 * time.Second
	}
	symbols := make([]string, 0, len(p.Symbols))
	for _, s := range p.Symbols {
		symbols = append(symbols, strings.ToUpper(s))
	}
	return &Predictor{
		store:     p.Store,
		metrics:   p.Metrics,
		clock:     p.Clock,
		logger:    p.Logger,
		artifacts: p.Artifacts,
		symbols:   symbols,
		interval:  p.Interval,
		sets:      make(map[string]*forecast.ModelSet),
	}
}

// Start launches the validation loop.
func (p *Predictor) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Tick(ctx)
			}
		}
	}()

	return nil
}

// Stop cancels the loop and waits for the current tick to finish.
func (p *Predictor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Tick runs one validation pass over every symbol. Exported so tests
// drive the state machine without the timer.
func (p *Predictor) Tick(ctx context.Context) {
	for _, symbol := range p.symbols {
		if ctx.Err() != nil {
			return
		}
		if err := p.processSymbol(ctx, symbol); err != nil {
			if errors.Is(err, models.ErrInsufficientData) {
				p.logger.Debug("predictor waiting for data",
					logger.String("symbol", symbol))
				continue
			}
			p.metrics.RecordError("predict")
			p.logger.Error("predictor pass failed",
				logger.String("symbol", symbol),
				logger.Error(err))
		}
	}
}

// processSymbol advances one symbol by at most one hour block.
func (p *Predictor) processSymbol(ctx context.Context, symbol string) error {
	now := p.clock.Now().UTC()
	dayStart := models.DayStartMs(now)
	currentHour := now.Hour()

	lastHour, err := p.store.LastPredictedHourToday(ctx, symbol, dayStart)
	if err != nil {
		return err
	}
	nextHour := lastHour + 1
	if nextHour > currentHour {
		return nil // nothing to predict yet
	}

	done, err := p.store.HourHasPrediction(ctx, symbol, dayStart, nextHour)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	hourStart := dayStart + int64(nextHour)*models.HourMs

	// The hour's first prediction chains from the close of the minute
	// just before it; until that candle lands there is nothing to anchor
	// the block on.
	anchor, err := p.store.CandleAt(ctx, symbol, hourStart-models.MinuteMs)
	if err != nil {
		return err
	}
	if anchor == nil {
		p.logger.Debug("anchor minute not ingested yet",
			logger.String("symbol", symbol),
			logger.Int("hour", nextHour))
		return nil
	}

	covered, err := p.store.RealDataCovers(ctx, symbol, dayStart, nextHour)
	if err != nil {
		return err
	}
	if !covered {
		p.logger.Debug("hour not yet covered by real data",
			logger.String("symbol", symbol),
			logger.Int("hour", nextHour))
		return nil
	}

	set, err := p.acquireSet(ctx, symbol, util.DateTag(now))
	if err != nil {
		return err
	}

	history, err := p.store.CandlesRange(ctx, symbol,
		hourStart-60*models.MinuteMs, hourStart-1, 0)
	if err != nil {
		return err
	}
	if len(history) < 60 {
		return models.ErrInsufficientData
	}

	started := time.Now()
	preds, err := forecast.PredictHour(set, history, hourStart, now)
	if err != nil {
		return err
	}
	if err := p.store.UpsertPredictions(ctx, symbol, preds); err != nil {
		return err
	}

	p.metrics.RecordPredictionsPersisted(symbol, len(preds))
	p.metrics.RecordLatency("predict_hour", time.Since(started).Seconds())
	p.logger.Info("hour block predicted",
		logger.String("symbol", symbol),
		logger.Int("hour", nextHour),
		logger.String("model_version", set.DateTag))
	return nil
}

// acquireSet returns the model set tagged with today. Order: in-memory
// cache, then disk, then a fresh training run. Training deletes stale
// sets first and persists the result before use.
func (p *Predictor) acquireSet(ctx context.Context, symbol, dateTag string) (*forecast.ModelSet, error) {
	p.mu.Lock()
	cached := p.sets[symbol]
	p.mu.Unlock()
	if cached != nil && cached.DateTag == dateTag {
		return cached, nil
	}

	set, err := p.artifacts.Load(symbol, dateTag)
	if err != nil {
		p.logger.Warn("model set on disk unreadable, retraining",
			logger.String("symbol", symbol),
			logger.Error(err))
	}
	if set == nil {
		set, err = p.trainSet(ctx, symbol, dateTag)
		if err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	p.sets[symbol] = set
	p.mu.Unlock()
	return set, nil
}

func (p *Predictor) trainSet(ctx context.Context, symbol, dateTag string) (*forecast.ModelSet, error) {
	if err := p.artifacts.DeleteStale(symbol, dateTag); err != nil {
		return nil, err
	}

	// Trailing history, newest rows: enough for the widest window plus
	// slack for the partial hour past the boundary.
	candles, err := p.store.CandlesRange(ctx, symbol, 0, 0, forecast.MaxWindow+120)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	set, err := forecast.TrainSet(symbol, dateTag, candles)
	if err != nil {
		return nil, err
	}
	if err := p.artifacts.Save(set); err != nil {
		return nil, err
	}

	p.metrics.RecordModelTrained(symbol)
	p.logger.Info("model set trained",
		logger.String("symbol", symbol),
		logger.String("date_tag", dateTag),
		logger.Duration("took", time.Since(started)))
	return set, nil
}
