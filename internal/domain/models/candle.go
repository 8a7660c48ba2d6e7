package models

import "time"

// MinuteMs is the width of one candle in milliseconds.
const MinuteMs int64 = 60_000

// HourMs is the width of one hour block in milliseconds.
const HourMs int64 = 60 * MinuteMs

// Candle is a one-minute OHLCV bar as stored in a per-symbol collection.
// The symbol is implicit in the collection name; open_time is the unique key.
type Candle struct {
	OpenTime  int64   `bson:"open_time" json:"open_time"`
	Open      float64 `bson:"open" json:"open"`
	High      float64 `bson:"high" json:"high"`
	Low       float64 `bson:"low" json:"low"`
	Close     float64 `bson:"close" json:"close"`
	Volume    float64 `bson:"volume" json:"volume"`
	CloseTime int64   `bson:"close_time" json:"close_time"`

	// Auxiliary exchange fields, carried opaquely.
	QuoteAssetVolume         float64 `bson:"quote_asset_volume" json:"quote_asset_volume"`
	NumberOfTrades           int64   `bson:"number_of_trades" json:"number_of_trades"`
	TakerBuyBaseAssetVolume  float64 `bson:"taker_buy_base_asset_volume" json:"taker_buy_base_asset_volume"`
	TakerBuyQuoteAssetVolume float64 `bson:"taker_buy_quote_asset_volume" json:"taker_buy_quote_asset_volume"`
}

// Prediction is a forecast minute bar. Shape matches Candle plus
// provenance fields.
type Prediction struct {
	OpenTime     int64     `bson:"open_time" json:"open_time"`
	Open         float64   `bson:"open" json:"open"`
	High         float64   `bson:"high" json:"high"`
	Low          float64   `bson:"low" json:"low"`
	Close        float64   `bson:"close" json:"close"`
	Volume       float64   `bson:"volume" json:"volume"`
	CloseTime    int64     `bson:"close_time" json:"close_time"`
	PredictedAt  time.Time `bson:"predicted_at" json:"predicted_at"`
	ModelVersion string    `bson:"model_version" json:"model_version"`
	MinutesAhead int       `bson:"minutes_ahead" json:"minutes_ahead"`
}

// SymbolStats summarizes one symbol's real collection.
type SymbolStats struct {
	Symbol       string  `json:"symbol"`
	TotalRecords int64   `json:"total_records"`
	FirstRecord  int64   `json:"first_record"`
	LastRecord   int64   `json:"last_record"`
	LastPrice    float64 `json:"last_price"`
}

// SyncComplete is the event emitted after a per-symbol ingest tick that
// observed at least one new minute.
type SyncComplete struct {
	Symbol       string  `json:"symbol"`
	NewRecords   int64   `json:"new_records"`
	TotalRecords int64   `json:"total_records"`
	LastPrice    float64 `json:"last_price"`
	LastRecord   int64   `json:"last_record"`
}

// TruncateToMinute rounds a wall-clock instant down to its minute boundary
// and returns milliseconds since epoch.
func TruncateToMinute(t time.Time) int64 {
	return t.UTC().Truncate(time.Minute).UnixMilli()
}

// TruncateToHour rounds a wall-clock instant down to its UTC hour boundary
// and returns milliseconds since epoch.
func TruncateToHour(t time.Time) int64 {
	return t.UTC().Truncate(time.Hour).UnixMilli()
}

// DayStartMs returns the UTC midnight preceding t in milliseconds.
func DayStartMs(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).UnixMilli()
}
