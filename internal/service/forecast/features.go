package forecast

import "klinecast/internal/domain/models"

// ohlcv is one aggregated bar used during feature construction.
type ohlcv struct {
	open, high, low, close, volume float64
}

func rawBar(c models.Candle) ohlcv {
	return ohlcv{open: c.Open, high: c.High, low: c.Low, close: c.Close, volume: c.Volume}
}

// BuildFeatures turns a contiguous minute series into one feature row
// per minute. Each row is the raw OHLCV of that minute followed by an
// OHLCV block per bucket size, where the block holds the most recent
// complete bucket ending at or before that minute, forward-filled. Until
// the first bucket of a size completes, the partial aggregate so far
// stands in.
func BuildFeatures(candles []models.Candle) [][]float64 {
	n := len(candles)
	rows := make([][]float64, n)

	// Per bucket size, the forward-filled aggregate visible at each t.
	filled := make([][]ohlcv, len(BucketSizes))
	for bi, size := range BucketSizes {
		filled[bi] = resampleFilled(candles, size)
	}

	for t := 0; t < n; t++ {
		row := make([]float64, 0, FeatureDim)
		row = appendBar(row, rawBar(candles[t]))
		for bi := range BucketSizes {
			row = appendBar(row, filled[bi][t])
		}
		rows[t] = row
	}
	return rows
}

// resampleFilled aggregates tumbling buckets of the given size and
// forward-fills: position t carries the last bucket that completed at or
// before t, or the running partial aggregate before any completes.
func resampleFilled(candles []models.Candle, size int) []ohlcv {
	out := make([]ohlcv, len(candles))
	var last ohlcv
	var haveComplete bool
	var cur ohlcv

	for t, c := range candles {
		pos := t % size
		if pos == 0 {
			cur = rawBar(c)
		} else {
			if c.High > cur.high {
				cur.high = c.High
			}
			if c.Low < cur.low {
				cur.low = c.Low
			}
			cur.close = c.Close
			cur.volume += c.Volume
		}

		if pos == size-1 {
			last = cur
			haveComplete = true
		}

		if haveComplete {
			out[t] = last
		} else {
			out[t] = cur
		}
	}
	return out
}

func appendBar(row []float64, b ohlcv) []float64 {
	return append(row, b.open, b.high, b.low, b.close, b.volume)
}

// FeatureVectorAt returns the single feature row for the last minute of
// the series, the shape inference feeds to each horizon model.
func FeatureVectorAt(candles []models.Candle) []float64 {
	rows := BuildFeatures(candles)
	if len(rows) == 0 {
		return nil
	}
	return rows[len(rows)-1]
}
