package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"klinecast/internal/domain/models"
	"klinecast/internal/usecase"
	"klinecast/pkg/logger"
)

type fakeStore struct {
	candles map[string][]models.Candle
	preds   map[string][]models.Prediction
	pingErr error
	readErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		candles: make(map[string][]models.Candle),
		preds:   make(map[string][]models.Prediction),
	}
}

func (s *fakeStore) UpsertCandles(_ context.Context, symbol string, candles []models.Candle) (int64, error) {
	symbol = strings.ToUpper(symbol)
	have := make(map[int64]bool, len(s.candles[symbol]))
	for _, c := range s.candles[symbol] {
		have[c.OpenTime] = true
	}
	var inserted int64
	for _, c := range candles {
		if !have[c.OpenTime] {
			s.candles[symbol] = append(s.candles[symbol], c)
			inserted++
		}
	}
	sort.Slice(s.candles[symbol], func(i, j int) bool {
		return s.candles[symbol][i].OpenTime < s.candles[symbol][j].OpenTime
	})
	return inserted, nil
}

func (s *fakeStore) LastCandle(_ context.Context, symbol string) (*models.Candle, error) {
	cs := s.candles[strings.ToUpper(symbol)]
	if len(cs) == 0 {
		return nil, nil
	}
	c := cs[len(cs)-1]
	return &c, nil
}

func (s *fakeStore) CandleAt(_ context.Context, symbol string, openTime int64) (*models.Candle, error) {
	for _, c := range s.candles[strings.ToUpper(symbol)] {
		if c.OpenTime == openTime {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CandlesRange(_ context.Context, symbol string, startMs, endMs int64, limit int64) ([]models.Candle, error) {
	var out []models.Candle
	for _, c := range s.candles[strings.ToUpper(symbol)] {
		if (startMs == 0 || c.OpenTime >= startMs) && (endMs == 0 || c.OpenTime <= endMs) {
			out = append(out, c)
		}
	}
	if limit > 0 && startMs == 0 && endMs == 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	} else if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) UpsertPredictions(_ context.Context, symbol string, preds []models.Prediction) error {
	symbol = strings.ToUpper(symbol)
	s.preds[symbol] = append(s.preds[symbol], preds...)
	return nil
}

func (s *fakeStore) PredictionsRange(_ context.Context, symbol string, startMs, endMs int64, limit int64) ([]models.Prediction, error) {
	var out []models.Prediction
	for _, p := range s.preds[strings.ToUpper(symbol)] {
		if (startMs == 0 || p.OpenTime >= startMs) && (endMs == 0 || p.OpenTime <= endMs) {
			out = append(out, p)
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) HourHasPrediction(context.Context, string, int64, int) (bool, error) {
	return false, nil
}

func (s *fakeStore) LastPredictedHourToday(context.Context, string, int64) (int, error) {
	return -1, nil
}

func (s *fakeStore) RealDataCovers(context.Context, string, int64, int) (bool, error) {
	return false, nil
}

func (s *fakeStore) Stats(_ context.Context, symbol string) (*models.SymbolStats, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	symbol = strings.ToUpper(symbol)
	cs, ok := s.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, models.ErrUnknownSymbol)
	}
	st := &models.SymbolStats{Symbol: symbol, TotalRecords: int64(len(cs))}
	if len(cs) > 0 {
		st.FirstRecord = cs[0].OpenTime
		st.LastRecord = cs[len(cs)-1].OpenTime
		st.LastPrice = cs[len(cs)-1].Close
	}
	return st, nil
}

func (s *fakeStore) ListSymbols(_ context.Context) ([]models.SymbolStats, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make([]models.SymbolStats, 0, len(s.candles))
	for symbol := range s.candles {
		st, _ := s.Stats(context.Background(), symbol)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

type fakeSource struct{ candles []models.Candle }

func (f *fakeSource) Klines(_ context.Context, _ string, startMs, endMs int64) ([]models.Candle, error) {
	var out []models.Candle
	for _, c := range f.candles {
		if c.OpenTime >= startMs && c.OpenTime <= endMs {
			out = append(out, c)
		}
	}
	return out, nil
}

type noopBus struct{}

func (noopBus) Publish(context.Context, models.SyncComplete) error { return nil }
func (noopBus) Subscribe() <-chan models.SyncComplete {
	ch := make(chan models.SyncComplete)
	close(ch)
	return ch
}
func (noopBus) Close() error { return nil }

type noopMetrics struct{}

func (noopMetrics) RecordCandlesIngested(string, int64)    {}
func (noopMetrics) RecordError(string)                     {}
func (noopMetrics) RecordLastPrice(string, float64)        {}
func (noopMetrics) RecordLatency(string, float64)          {}
func (noopMetrics) RecordPredictionsPersisted(string, int) {}
func (noopMetrics) RecordModelTrained(string)              {}
func (noopMetrics) AddWSConnections(int)                   {}
func (noopMetrics) RecordWSDropped(string)                 {}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now.UTC() }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lgr
}

func candlesFrom(startMs int64, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		ot := startMs + int64(i)*models.MinuteMs
		out[i] = models.Candle{OpenTime: ot, Open: 100, High: 102, Low: 99, Close: 101, Volume: 5, CloseTime: ot + models.MinuteMs - 1}
	}
	return out
}

func newTestEnv(t *testing.T) (*echo.Echo, *fakeStore, *fakeSource) {
	t.Helper()
	store := newFakeStore()
	source := &fakeSource{}

	now := time.Date(2025, 7, 10, 12, 30, 30, 0, time.UTC)
	ing := usecase.NewIngestor(usecase.IngestorParams{
		Source:      source,
		Store:       store,
		Bus:         noopBus{},
		Metrics:     noopMetrics{},
		Clock:       fixedClock{now: now},
		Logger:      testLogger(t),
		Symbols:     []string{"BTCUSDT"},
		Interval:    time.Minute,
		BootstrapMs: time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC).UnixMilli(),
		Workers:     1,
	})

	e := echo.New()
	NewHandler(testLogger(t), store, ing).RegisterRoutes(e)
	return e, store, source
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, store, _ := newTestEnv(t)

	rec := doRequest(e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["database"] != "connected" || body["service"] != "klinecast" {
		t.Errorf("body = %v", body)
	}

	store.pingErr = fmt.Errorf("down")
	rec = doRequest(e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status with dead store = %d", rec.Code)
	}
}

func TestSymbols(t *testing.T) {
	e, store, _ := newTestEnv(t)
	start := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC).UnixMilli()
	_, _ = store.UpsertCandles(context.Background(), "BTCUSDT", candlesFrom(start, 5))
	_, _ = store.UpsertCandles(context.Background(), "ETHUSDT", candlesFrom(start, 3))

	rec := doRequest(e, http.MethodGet, "/api/symbols", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []models.SymbolStats
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 2 || list[0].Symbol != "BTCUSDT" || list[1].Symbol != "ETHUSDT" {
		t.Errorf("list = %+v", list)
	}
	if list[0].TotalRecords != 5 {
		t.Errorf("btc total = %d", list[0].TotalRecords)
	}
}

func TestSyncEndpoint(t *testing.T) {
	e, store, source := newTestEnv(t)
	start := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC).UnixMilli()
	source.candles = candlesFrom(start, 40)
	store.candles["BTCUSDT"] = nil // known symbol, empty

	rec := doRequest(e, http.MethodPost, "/api/sync", `{"symbol":"btcusdt"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp SyncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Symbol != "BTCUSDT" {
		t.Errorf("resp = %+v", resp)
	}
	// Clock fixed at 12:30:30, so candles through 12:29 are complete.
	if resp.NewRecords != 30 {
		t.Errorf("new_records = %d, want 30", resp.NewRecords)
	}
	if resp.Statistics == nil || resp.Statistics.LastRecord != start+29*models.MinuteMs {
		t.Errorf("statistics = %+v", resp.Statistics)
	}
}

func TestSyncValidatesBody(t *testing.T) {
	e, _, _ := newTestEnv(t)
	rec := doRequest(e, http.MethodPost, "/api/sync", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestSyncRateLimited(t *testing.T) {
	e, store, _ := newTestEnv(t)
	store.candles["BTCUSDT"] = nil

	var last int
	for i := 0; i < 4; i++ {
		last = doRequest(e, http.MethodPost, "/api/sync", `{"symbol":"BTCUSDT"}`).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("fourth burst request = %d, want 429", last)
	}
}

func TestDataRangeAndLimit(t *testing.T) {
	e, store, _ := newTestEnv(t)
	start := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC).UnixMilli()
	_, _ = store.UpsertCandles(context.Background(), "BTCUSDT", candlesFrom(start, 30))

	rec := doRequest(e, http.MethodGet,
		fmt.Sprintf("/api/data/BTCUSDT?start_time=%d&end_time=%d", start+5*models.MinuteMs, start+9*models.MinuteMs), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Success bool            `json:"success"`
		Symbol  string          `json:"symbol"`
		Count   int             `json:"count"`
		Data    []models.Candle `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Count != 5 || len(resp.Data) != 5 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Data[0].OpenTime != start+5*models.MinuteMs {
		t.Errorf("first open_time = %d", resp.Data[0].OpenTime)
	}

	// Limit without bounds returns the newest rows.
	rec = doRequest(e, http.MethodGet, "/api/data/BTCUSDT?limit=3", "")
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 3 || resp.Data[2].OpenTime != start+29*models.MinuteMs {
		t.Errorf("limited resp = %+v", resp)
	}
}

func TestDataUnknownSymbol(t *testing.T) {
	e, _, _ := newTestEnv(t)
	rec := doRequest(e, http.MethodGet, "/api/data/NOPE", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["success"] != false || body["error"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestStorageDownReturns503(t *testing.T) {
	e, store, _ := newTestEnv(t)
	store.candles["BTCUSDT"] = nil
	store.readErr = fmt.Errorf("server selection timeout: %w", models.ErrStorageUnavailable)

	for _, target := range []string{
		"/api/data/BTCUSDT",
		"/api/predictions/BTCUSDT",
		"/api/stats/BTCUSDT",
		"/api/symbols",
	} {
		rec := doRequest(e, http.MethodGet, target, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", target, rec.Code)
			continue
		}
		var body map[string]interface{}
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body["success"] != false || body["error"] != "storage unavailable" {
			t.Errorf("%s: body = %v", target, body)
		}
	}
}

func TestDataBadParams(t *testing.T) {
	e, store, _ := newTestEnv(t)
	store.candles["BTCUSDT"] = nil

	for _, target := range []string{
		"/api/data/BTCUSDT?start_time=abc",
		"/api/data/BTCUSDT?end_time=xyz",
		"/api/data/BTCUSDT?start_time=2000&end_time=1000",
	} {
		rec := doRequest(e, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestPredictionsEndpoint(t *testing.T) {
	e, store, _ := newTestEnv(t)
	start := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC).UnixMilli()
	store.candles["BTCUSDT"] = nil
	_ = store.UpsertPredictions(context.Background(), "BTCUSDT", []models.Prediction{
		{OpenTime: start, Close: 101, MinutesAhead: 1, ModelVersion: "20250710"},
		{OpenTime: start + models.MinuteMs, Close: 102, MinutesAhead: 2, ModelVersion: "20250710"},
	})

	rec := doRequest(e, http.MethodGet, "/api/predictions/BTCUSDT", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Success bool                `json:"success"`
		Count   int                 `json:"count"`
		Data    []models.Prediction `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Count != 2 || resp.Data[1].MinutesAhead != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	e, store, _ := newTestEnv(t)
	start := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC).UnixMilli()
	_, _ = store.UpsertCandles(context.Background(), "BTCUSDT", candlesFrom(start, 10))

	rec := doRequest(e, http.MethodGet, "/api/stats/BTCUSDT", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Statistics.TotalRecords != 10 {
		t.Errorf("resp = %+v", resp)
	}

	rec = doRequest(e, http.MethodGet, "/api/stats/MISSING", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown symbol status = %d", rec.Code)
	}
}
