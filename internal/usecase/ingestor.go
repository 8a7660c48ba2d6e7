package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"klinecast/internal/domain/models"
	drepo "klinecast/internal/domain/repository"
	"klinecast/pkg/logger"
)

// Ingestor keeps per-symbol minute candles current. Every tick it walks
// the configured symbols with a bounded worker pool, fetches whatever
// the store is missing up to the last complete minute, upserts it and
// publishes a sync-complete event when new rows landed.
type Ingestor struct {
	source  drepo.Source
	store   drepo.Store
	bus     drepo.Bus
	metrics drepo.Metrics
	clock   drepo.Clock
	logger  *logger.Logger

	symbols     []string
	interval    time.Duration
	bootstrapMs int64
	workers     int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// IngestorParams bundles construction inputs.
type IngestorParams struct {
	Source      drepo.Source
	Store       drepo.Store
	Bus         drepo.Bus
	Metrics     drepo.Metrics
	Clock       drepo.Clock
	Logger      *logger.Logger
	Symbols     []string
	Interval    time.Duration
	BootstrapMs int64
	Workers     int
}

func NewIngestor(p IngestorParams) *Ingestor {
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.Interval <= 0 {
		p.Interval = time.Minute
	}
	symbols := make([]string, 0, len(p.Symbols))
	for _, s := range p.Symbols {
		symbols = append(symbols, strings.ToUpper(s))
	}
	return &Ingestor{
		source:      p.Source,
		store:       p.Store,
		bus:         p.Bus,
		metrics:     p.Metrics,
		clock:       p.Clock,
		logger:      p.Logger,
		symbols:     symbols,
		interval:    p.Interval,
		bootstrapMs: p.BootstrapMs,
		workers:     p.Workers,
	}
}

// Start launches the periodic sync loop. The first pass runs
// immediately so a fresh deployment backfills without waiting a tick.
// With no configured symbols the set is discovered from storage.
func (i *Ingestor) Start(ctx context.Context) error {
	ctx, i.cancel = context.WithCancel(ctx)

	if len(i.symbols) == 0 {
		stats, err := i.store.ListSymbols(ctx)
		if err != nil {
			return fmt.Errorf("discover symbols: %w", err)
		}
		for _, st := range stats {
			i.symbols = append(i.symbols, st.Symbol)
		}
		i.logger.Info("symbols discovered from storage",
			logger.Strings("symbols", i.symbols))
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()

		i.syncAll(ctx)

		ticker := time.NewTicker(i.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				i.syncAll(ctx)
			}
		}
	}()

	return nil
}

// Stop cancels the loop and waits for in-flight syncs to finish.
func (i *Ingestor) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
	i.wg.Wait()
}

// Symbols returns the configured symbol set.
func (i *Ingestor) Symbols() []string {
	out := make([]string, len(i.symbols))
	copy(out, i.symbols)
	return out
}

// syncAll fans symbols out over the worker pool. A failure on one
// symbol never blocks the others.
func (i *Ingestor) syncAll(ctx context.Context) {
	sem := make(chan struct{}, i.workers)
	var wg sync.WaitGroup

loop:
	for _, symbol := range i.symbols {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := i.SyncSymbol(ctx, symbol); err != nil && ctx.Err() == nil {
				i.metrics.RecordError("ingest")
				i.logger.Error("sync failed",
					logger.String("symbol", symbol),
					logger.Error(err))
			}
		}(symbol)
	}

	wg.Wait()
}

// SyncSymbol brings one symbol up to the last complete minute and
// returns the number of newly inserted candles. Candles already present
// are replaced in place and not counted. Used by both the tick loop and
// the manual sync endpoint.
func (i *Ingestor) SyncSymbol(ctx context.Context, symbol string) (int64, error) {
	symbol = strings.ToUpper(symbol)
	started := i.clock.Now()

	endMs := lastCompleteMinute(started)
	startMs, err := i.syncStart(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if startMs > endMs {
		return 0, nil // already current
	}

	candles, err := i.source.Klines(ctx, symbol, startMs, endMs+models.MinuteMs-1)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}

	inserted, err := i.store.UpsertCandles(ctx, symbol, candles)
	if err != nil {
		return inserted, err
	}

	i.metrics.RecordCandlesIngested(symbol, inserted)
	i.metrics.RecordLatency("sync", time.Since(started).Seconds())

	last := candles[len(candles)-1]
	i.metrics.RecordLastPrice(symbol, last.Close)

	if inserted > 0 {
		stats, err := i.store.Stats(ctx, symbol)
		if err != nil {
			i.logger.Warn("stats after sync failed",
				logger.String("symbol", symbol),
				logger.Error(err))
			stats = &models.SymbolStats{Symbol: symbol, LastRecord: last.OpenTime, LastPrice: last.Close}
		}

		ev := models.SyncComplete{
			Symbol:       symbol,
			NewRecords:   inserted,
			TotalRecords: stats.TotalRecords,
			LastPrice:    stats.LastPrice,
			LastRecord:   stats.LastRecord,
		}
		if err := i.bus.Publish(ctx, ev); err != nil {
			i.logger.Warn("publish sync event failed",
				logger.String("symbol", symbol),
				logger.Error(err))
		}

		i.logger.Info("sync complete",
			logger.String("symbol", symbol),
			logger.Int64("new_records", inserted),
			logger.Int64("total_records", stats.TotalRecords))
	}

	return inserted, nil
}

// syncStart resolves where fetching resumes: one minute after the last
// stored candle, or the bootstrap date on an empty collection.
func (i *Ingestor) syncStart(ctx context.Context, symbol string) (int64, error) {
	last, err := i.store.LastCandle(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return i.bootstrapMs, nil
	}
	return last.OpenTime + models.MinuteMs, nil
}

// lastCompleteMinute returns the open time of the newest minute whose
// close time has already passed.
func lastCompleteMinute(now time.Time) int64 {
	return models.TruncateToMinute(now) - models.MinuteMs
}
