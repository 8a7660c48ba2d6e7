package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"klinecast/internal/domain/models"
	"klinecast/internal/domain/repository"
)

const (
	klinePrefix      = "klines_"
	predictionPrefix = "prediccion_klines_"
)

// MongoStore implements repository.Store on per-symbol MongoDB
// collections. Real candles live in klines_{symbol}, predictions in
// prediccion_klines_{symbol}; both carry a unique index on open_time so
// upserts are idempotent and duplicate keys count as success.
type MongoStore struct {
	db *mongo.Database

	mu      sync.Mutex
	indexed map[string]bool
}

// NewMongoStore creates the store over an established database handle.
func NewMongoStore(db *mongo.Database) repository.Store {
	return &MongoStore{db: db, indexed: make(map[string]bool)}
}

// storageErr tags driver connectivity failures with the sentinel the
// API layer maps to 503. Command errors from a reachable server pass
// through unchanged.
func storageErr(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, models.ErrStorageUnavailable)
	}
	return err
}

func klineCollection(symbol string) string {
	return klinePrefix + strings.ToLower(symbol)
}

func predictionCollection(symbol string) string {
	return predictionPrefix + strings.ToLower(symbol)
}

// ensureIndex creates the unique open_time index once per collection per
// process lifetime. CreateOne is idempotent server-side.
func (s *MongoStore) ensureIndex(ctx context.Context, name string) error {
	s.mu.Lock()
	done := s.indexed[name]
	s.mu.Unlock()
	if done {
		return nil
	}

	_, err := s.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "open_time", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create index on %s: %w", name, storageErr(err))
	}

	s.mu.Lock()
	s.indexed[name] = true
	s.mu.Unlock()
	return nil
}

func (s *MongoStore) UpsertCandles(ctx context.Context, symbol string, candles []models.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	name := klineCollection(symbol)
	if err := s.ensureIndex(ctx, name); err != nil {
		return 0, err
	}

	coll := s.db.Collection(name)
	var inserted int64
	for _, c := range candles {
		res, err := coll.ReplaceOne(ctx,
			bson.M{"open_time": c.OpenTime},
			c,
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue // concurrent writer won the race; idempotent
			}
			return inserted, fmt.Errorf("upsert candle %s@%d: %w", symbol, c.OpenTime, storageErr(err))
		}
		inserted += res.UpsertedCount
	}
	return inserted, nil
}

func (s *MongoStore) LastCandle(ctx context.Context, symbol string) (*models.Candle, error) {
	var c models.Candle
	err := s.db.Collection(klineCollection(symbol)).
		FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "open_time", Value: -1}})).
		Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last candle %s: %w", symbol, storageErr(err))
	}
	return &c, nil
}

func (s *MongoStore) CandleAt(ctx context.Context, symbol string, openTime int64) (*models.Candle, error) {
	var c models.Candle
	err := s.db.Collection(klineCollection(symbol)).
		FindOne(ctx, bson.M{"open_time": openTime}).
		Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("candle at %s@%d: %w", symbol, openTime, storageErr(err))
	}
	return &c, nil
}

func rangeFilter(startMs, endMs int64) bson.M {
	bounds := bson.M{}
	if startMs > 0 {
		bounds["$gte"] = startMs
	}
	if endMs > 0 {
		bounds["$lte"] = endMs
	}
	if len(bounds) == 0 {
		return bson.M{}
	}
	return bson.M{"open_time": bounds}
}

func (s *MongoStore) CandlesRange(ctx context.Context, symbol string, startMs, endMs int64, limit int64) ([]models.Candle, error) {
	var out []models.Candle
	if err := s.findRange(ctx, klineCollection(symbol), startMs, endMs, limit, &out); err != nil {
		return nil, fmt.Errorf("candles range %s: %w", symbol, storageErr(err))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

func (s *MongoStore) UpsertPredictions(ctx context.Context, symbol string, preds []models.Prediction) error {
	if len(preds) == 0 {
		return nil
	}

	name := predictionCollection(symbol)
	if err := s.ensureIndex(ctx, name); err != nil {
		return err
	}

	coll := s.db.Collection(name)
	for _, p := range preds {
		_, err := coll.ReplaceOne(ctx,
			bson.M{"open_time": p.OpenTime},
			p,
			options.Replace().SetUpsert(true),
		)
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("upsert prediction %s@%d: %w", symbol, p.OpenTime, storageErr(err))
		}
	}
	return nil
}

func (s *MongoStore) PredictionsRange(ctx context.Context, symbol string, startMs, endMs int64, limit int64) ([]models.Prediction, error) {
	var out []models.Prediction
	if err := s.findRange(ctx, predictionCollection(symbol), startMs, endMs, limit, &out); err != nil {
		return nil, fmt.Errorf("predictions range %s: %w", symbol, storageErr(err))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

// findRange runs the shared range query. With only a limit set, the
// newest documents are selected; callers re-sort ascending.
func (s *MongoStore) findRange(ctx context.Context, name string, startMs, endMs, limit int64, out interface{}) error {
	opts := options.Find()
	if limit > 0 && startMs == 0 && endMs == 0 {
		opts.SetSort(bson.D{{Key: "open_time", Value: -1}}).SetLimit(limit)
	} else {
		opts.SetSort(bson.D{{Key: "open_time", Value: 1}})
		if limit > 0 {
			opts.SetLimit(limit)
		}
	}

	cur, err := s.db.Collection(name).Find(ctx, rangeFilter(startMs, endMs), opts)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

func (s *MongoStore) HourHasPrediction(ctx context.Context, symbol string, dayStartMs int64, hour int) (bool, error) {
	start := dayStartMs + int64(hour)*models.HourMs
	n, err := s.db.Collection(predictionCollection(symbol)).CountDocuments(ctx, bson.M{
		"open_time": bson.M{"$gte": start, "$lt": start + models.HourMs},
	})
	if err != nil {
		return false, fmt.Errorf("hour has prediction %s h=%d: %w", symbol, hour, storageErr(err))
	}
	return n > 0, nil
}

func (s *MongoStore) LastPredictedHourToday(ctx context.Context, symbol string, dayStartMs int64) (int, error) {
	var p models.Prediction
	err := s.db.Collection(predictionCollection(symbol)).
		FindOne(ctx,
			bson.M{"open_time": bson.M{"$gte": dayStartMs, "$lt": dayStartMs + 24*models.HourMs}},
			options.FindOne().SetSort(bson.D{{Key: "open_time", Value: -1}}),
		).
		Decode(&p)
	if err == mongo.ErrNoDocuments {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("last predicted hour %s: %w", symbol, storageErr(err))
	}
	return int((p.OpenTime - dayStartMs) / models.HourMs), nil
}

func (s *MongoStore) RealDataCovers(ctx context.Context, symbol string, dayStartMs int64, hour int) (bool, error) {
	start := dayStartMs + int64(hour)*models.HourMs
	n, err := s.db.Collection(klineCollection(symbol)).CountDocuments(ctx, bson.M{
		"open_time": bson.M{"$gte": start, "$lt": start + models.HourMs},
	})
	if err != nil {
		return false, fmt.Errorf("real data covers %s h=%d: %w", symbol, hour, storageErr(err))
	}
	// open_time is unique, so 60 documents means every minute is present.
	return n == 60, nil
}

func (s *MongoStore) Stats(ctx context.Context, symbol string) (*models.SymbolStats, error) {
	name := klineCollection(symbol)
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", symbol, models.ErrUnknownSymbol)
	}

	coll := s.db.Collection(name)
	total, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("stats count %s: %w", symbol, storageErr(err))
	}

	stats := &models.SymbolStats{Symbol: strings.ToUpper(symbol), TotalRecords: total}
	if total == 0 {
		return stats, nil
	}

	var first, last models.Candle
	if err := coll.FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "open_time", Value: 1}})).Decode(&first); err != nil {
		return nil, fmt.Errorf("stats first %s: %w", symbol, storageErr(err))
	}
	if err := coll.FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "open_time", Value: -1}})).Decode(&last); err != nil {
		return nil, fmt.Errorf("stats last %s: %w", symbol, storageErr(err))
	}

	stats.FirstRecord = first.OpenTime
	stats.LastRecord = last.OpenTime
	stats.LastPrice = last.Close
	return stats, nil
}

func (s *MongoStore) ListSymbols(ctx context.Context) ([]models.SymbolStats, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{
		"name": bson.M{"$regex": "^" + klinePrefix},
	})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", storageErr(err))
	}

	out := make([]models.SymbolStats, 0, len(names))
	for _, name := range names {
		if !strings.HasPrefix(name, klinePrefix) {
			continue
		}
		symbol := strings.TrimPrefix(name, klinePrefix)
		st, err := s.Stats(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if st.TotalRecords == 0 {
			continue
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MongoStore) collectionExists(ctx context.Context, name string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, fmt.Errorf("list collections: %w", storageErr(err))
	}
	return len(names) > 0, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}
