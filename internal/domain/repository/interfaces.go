package repository

import (
	"context"
	"time"

	"klinecast/internal/domain/models"
)

// Store is the document-store contract shared by the ingestor, the
// predictor and the API service. One real and one prediction collection
// per symbol, both keyed uniquely by open_time.
//
// Range queries treat a zero bound as unbounded and a zero limit as
// unlimited. When only a limit is given the newest rows win, returned in
// ascending order.
type Store interface {
	UpsertCandles(ctx context.Context, symbol string, candles []models.Candle) (int64, error)
	LastCandle(ctx context.Context, symbol string) (*models.Candle, error)
	CandleAt(ctx context.Context, symbol string, openTime int64) (*models.Candle, error)
	CandlesRange(ctx context.Context, symbol string, startMs, endMs int64, limit int64) ([]models.Candle, error)

	UpsertPredictions(ctx context.Context, symbol string, preds []models.Prediction) error
	PredictionsRange(ctx context.Context, symbol string, startMs, endMs int64, limit int64) ([]models.Prediction, error)

	// HourHasPrediction reports whether any prediction exists whose
	// open_time falls inside hour h of the UTC day starting at dayStartMs.
	HourHasPrediction(ctx context.Context, symbol string, dayStartMs int64, hour int) (bool, error)

	// LastPredictedHourToday returns the max hour-of-day with at least one
	// prediction on the given UTC day, or -1 when none exist.
	LastPredictedHourToday(ctx context.Context, symbol string, dayStartMs int64) (int, error)

	// RealDataCovers reports whether real candles exist for every minute
	// of hour h on the given UTC day.
	RealDataCovers(ctx context.Context, symbol string, dayStartMs int64, hour int) (bool, error)

	Stats(ctx context.Context, symbol string) (*models.SymbolStats, error)
	ListSymbols(ctx context.Context) ([]models.SymbolStats, error)
	Ping(ctx context.Context) error
}

// Source fetches minute candles from the upstream exchange REST API.
// Implementations handle the per-request cap and transient-failure retry
// internally; the returned slice is contiguous and ascending.
type Source interface {
	Klines(ctx context.Context, symbol string, startMs, endMs int64) ([]models.Candle, error)
}

// Bus carries sync-complete events from the ingestor to the push layer.
type Bus interface {
	Publish(ctx context.Context, ev models.SyncComplete) error
	Subscribe() <-chan models.SyncComplete
	Close() error
}

// Metrics records operational measurements. Implemented by pkg/metrics.
type Metrics interface {
	RecordCandlesIngested(symbol string, n int64)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordPredictionsPersisted(symbol string, n int)
	RecordModelTrained(symbol string)
	AddWSConnections(delta int)
	RecordWSDropped(symbol string)
}

// Clock supplies the current instant. Production code uses the system
// clock; tests substitute a fixed one. All scheduling derives "today" and
// "current hour" from this clock in UTC, never from local time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
