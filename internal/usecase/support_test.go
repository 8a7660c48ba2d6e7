package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"klinecast/internal/domain/models"
	"klinecast/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lgr
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now.UTC() }

// memStore is an in-memory Store for tests.
type memStore struct {
	mu      sync.Mutex
	candles map[string]map[int64]models.Candle
	preds   map[string]map[int64]models.Prediction
}

func newMemStore() *memStore {
	return &memStore{
		candles: make(map[string]map[int64]models.Candle),
		preds:   make(map[string]map[int64]models.Prediction),
	}
}

func (s *memStore) seed(symbol string, candles ...models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	if s.candles[symbol] == nil {
		s.candles[symbol] = make(map[int64]models.Candle)
	}
	for _, c := range candles {
		s.candles[symbol][c.OpenTime] = c
	}
}

func (s *memStore) UpsertCandles(_ context.Context, symbol string, candles []models.Candle) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	if s.candles[symbol] == nil {
		s.candles[symbol] = make(map[int64]models.Candle)
	}
	var inserted int64
	for _, c := range candles {
		if _, ok := s.candles[symbol][c.OpenTime]; !ok {
			inserted++
		}
		s.candles[symbol][c.OpenTime] = c
	}
	return inserted, nil
}

func (s *memStore) LastCandle(_ context.Context, symbol string) (*models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *models.Candle
	for _, c := range s.candles[strings.ToUpper(symbol)] {
		c := c
		if last == nil || c.OpenTime > last.OpenTime {
			last = &c
		}
	}
	return last, nil
}

func (s *memStore) CandleAt(_ context.Context, symbol string, openTime int64) (*models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.candles[strings.ToUpper(symbol)][openTime]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *memStore) CandlesRange(_ context.Context, symbol string, startMs, endMs int64, limit int64) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Candle
	for _, c := range s.candles[strings.ToUpper(symbol)] {
		if (startMs == 0 || c.OpenTime >= startMs) && (endMs == 0 || c.OpenTime <= endMs) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	if limit > 0 && startMs == 0 && endMs == 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	} else if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpsertPredictions(_ context.Context, symbol string, preds []models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	if s.preds[symbol] == nil {
		s.preds[symbol] = make(map[int64]models.Prediction)
	}
	for _, p := range preds {
		s.preds[symbol][p.OpenTime] = p
	}
	return nil
}

func (s *memStore) PredictionsRange(_ context.Context, symbol string, startMs, endMs int64, limit int64) ([]models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Prediction
	for _, p := range s.preds[strings.ToUpper(symbol)] {
		if (startMs == 0 || p.OpenTime >= startMs) && (endMs == 0 || p.OpenTime <= endMs) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	if limit > 0 && startMs == 0 && endMs == 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	} else if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) HourHasPrediction(_ context.Context, symbol string, dayStartMs int64, hour int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := dayStartMs + int64(hour)*models.HourMs
	for ot := range s.preds[strings.ToUpper(symbol)] {
		if ot >= start && ot < start+models.HourMs {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) LastPredictedHourToday(_ context.Context, symbol string, dayStartMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := int64(-1)
	for ot := range s.preds[strings.ToUpper(symbol)] {
		if ot >= dayStartMs && ot < dayStartMs+24*models.HourMs && ot > last {
			last = ot
		}
	}
	if last < 0 {
		return -1, nil
	}
	return int((last - dayStartMs) / models.HourMs), nil
}

func (s *memStore) RealDataCovers(_ context.Context, symbol string, dayStartMs int64, hour int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := dayStartMs + int64(hour)*models.HourMs
	var n int
	for ot := range s.candles[strings.ToUpper(symbol)] {
		if ot >= start && ot < start+models.HourMs {
			n++
		}
	}
	return n == 60, nil
}

func (s *memStore) Stats(_ context.Context, symbol string) (*models.SymbolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	coll, ok := s.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, models.ErrUnknownSymbol)
	}
	st := &models.SymbolStats{Symbol: symbol, TotalRecords: int64(len(coll))}
	first, last := int64(-1), int64(-1)
	for ot, c := range coll {
		if first < 0 || ot < first {
			first = ot
		}
		if ot > last {
			last = ot
			st.LastPrice = c.Close
		}
	}
	if first >= 0 {
		st.FirstRecord, st.LastRecord = first, last
	}
	return st, nil
}

func (s *memStore) ListSymbols(_ context.Context) ([]models.SymbolStats, error) {
	s.mu.Lock()
	symbols := make([]string, 0, len(s.candles))
	for sym := range s.candles {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()
	sort.Strings(symbols)

	out := make([]models.SymbolStats, 0, len(symbols))
	for _, sym := range symbols {
		st, err := s.Stats(context.Background(), sym)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (s *memStore) Ping(context.Context) error { return nil }

// fakeSource replays a fixed contiguous candle series clipped to the
// requested range.
type fakeSource struct {
	mu      sync.Mutex
	series  map[string][]models.Candle
	calls   []sourceCall
	failErr error
}

type sourceCall struct {
	symbol  string
	startMs int64
	endMs   int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{series: make(map[string][]models.Candle)}
}

func (f *fakeSource) add(symbol string, candles ...models.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	f.series[symbol] = append(f.series[symbol], candles...)
}

func (f *fakeSource) Klines(_ context.Context, symbol string, startMs, endMs int64) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sourceCall{symbol: symbol, startMs: startMs, endMs: endMs})
	if f.failErr != nil {
		return nil, f.failErr
	}
	var out []models.Candle
	for _, c := range f.series[strings.ToUpper(symbol)] {
		if c.OpenTime >= startMs && c.OpenTime <= endMs {
			out = append(out, c)
		}
	}
	return out, nil
}

// captureBus records published events.
type captureBus struct {
	mu     sync.Mutex
	events []models.SyncComplete
}

func (b *captureBus) Publish(_ context.Context, ev models.SyncComplete) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *captureBus) Subscribe() <-chan models.SyncComplete {
	ch := make(chan models.SyncComplete)
	close(ch)
	return ch
}

func (b *captureBus) Close() error { return nil }

func (b *captureBus) published() []models.SyncComplete {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.SyncComplete, len(b.events))
	copy(out, b.events)
	return out
}

type noopMetrics struct{}

func (noopMetrics) RecordCandlesIngested(string, int64)    {}
func (noopMetrics) RecordError(string)                     {}
func (noopMetrics) RecordLastPrice(string, float64)        {}
func (noopMetrics) RecordLatency(string, float64)          {}
func (noopMetrics) RecordPredictionsPersisted(string, int) {}
func (noopMetrics) RecordModelTrained(string)              {}
func (noopMetrics) AddWSConnections(int)                   {}
func (noopMetrics) RecordWSDropped(string)                 {}

// minuteCandles builds n contiguous minute candles starting at startMs.
func minuteCandles(startMs int64, n int, base float64) []models.Candle {
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		ot := startMs + int64(i)*models.MinuteMs
		price := base + float64(i)*0.5
		out = append(out, models.Candle{
			OpenTime:  ot,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.25,
			Volume:    10 + float64(i%7),
			CloseTime: ot + models.MinuteMs - 1,
		})
	}
	return out
}
