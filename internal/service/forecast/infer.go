package forecast

import (
	"fmt"
	"time"

	"klinecast/internal/domain/models"
)

// Deltas is one horizon's raw (unscaled) output.
type Deltas struct {
	Close  float64
	High   float64
	Low    float64
	Volume float64
}

// PredictDeltas runs one horizon model over a feature row and undoes
// the target scaling.
func (hm *HorizonModel) PredictDeltas(features []float64) (Deltas, error) {
	scaled, err := hm.Model.Predict(hm.XScaler.Transform(features))
	if err != nil {
		return Deltas{}, err
	}
	y := hm.YScaler.Inverse(scaled)
	return Deltas{Close: y[0], High: y[1], Low: y[2], Volume: y[3]}, nil
}

// PredictHour emits the 60 minute candles of the hour starting at
// hourStartMs. history is the contiguous real series ending at the
// minute before the hour; its last close seeds the chain, and each
// following open is the previous predicted close.
func PredictHour(set *ModelSet, history []models.Candle, hourStartMs int64, now time.Time) ([]models.Prediction, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("predict hour: %w", models.ErrInsufficientData)
	}
	if !set.Complete() {
		return nil, fmt.Errorf("predict hour: model set %s/%s incomplete", set.Symbol, set.DateTag)
	}
	lastReal := history[len(history)-1]
	if lastReal.OpenTime != hourStartMs-models.MinuteMs {
		return nil, fmt.Errorf("predict hour: history ends at %d, want %d",
			lastReal.OpenTime, hourStartMs-models.MinuteMs)
	}

	features := FeatureVectorAt(history)

	// One delta vector per horizon; minutes sharing a horizon reuse it
	// against the advancing chain.
	deltas := make(map[int]Deltas, len(Horizons))
	for _, h := range Horizons {
		d, err := set.Models[h].PredictDeltas(features)
		if err != nil {
			return nil, fmt.Errorf("predict hour horizon %d: %w", h, err)
		}
		deltas[h] = d
	}

	prevClose := lastReal.Close
	out := make([]models.Prediction, 0, 60)
	for k := 0; k < 60; k++ {
		h := HorizonFor(k)
		d := deltas[h]

		open := prevClose
		close := prevClose + d.Close
		high := maxOf(prevClose+d.High, open, close)
		low := minOf(prevClose+d.Low, open, close)
		volume := d.Volume
		if volume < 0 {
			volume = 0
		}

		openTime := hourStartMs + int64(k)*models.MinuteMs
		out = append(out, models.Prediction{
			OpenTime:     openTime,
			Open:         open,
			High:         high,
			Low:          low,
			Close:        close,
			Volume:       volume,
			CloseTime:    openTime + models.MinuteMs - 1,
			PredictedAt:  now.UTC(),
			ModelVersion: set.DateTag,
			MinutesAhead: h,
		})
		prevClose = close
	}
	return out, nil
}

func maxOf(vs ...float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vs ...float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
