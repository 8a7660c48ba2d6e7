package forecast

import (
	"fmt"
	"sort"

	"klinecast/internal/domain/models"
)

// HorizonModel bundles one trained horizon with its scalers and the
// window it was fit on.
type HorizonModel struct {
	Horizon    int           `json:"horizon"`
	Window     int           `json:"window"`
	TrainStart int64         `json:"train_start"`
	TrainEnd   int64         `json:"train_end"`
	Model      *Model        `json:"model"`
	XScaler    *MinMaxScaler `json:"x_scaler"`
	YScaler    *MinMaxScaler `json:"y_scaler"`
}

// ModelSet is one symbol's complete daily set of horizon models.
type ModelSet struct {
	Symbol  string                `json:"symbol"`
	DateTag string                `json:"date_tag"`
	Models  map[int]*HorizonModel `json:"-"`
}

// Complete reports whether every horizon is present.
func (s *ModelSet) Complete() bool {
	for _, h := range Horizons {
		if s.Models[h] == nil {
			return false
		}
	}
	return true
}

// TrainSet fits all 12 horizon models from a contiguous ascending
// minute series. The reference boundary T0 is the most recent UTC hour
// boundary at or before the newest candle; each horizon trains on the
// W(h) minutes ending at T0. Gaps or short history surface as
// ErrInsufficientData.
func TrainSet(symbol, dateTag string, candles []models.Candle) (*ModelSet, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("train %s: %w", symbol, models.ErrInsufficientData)
	}

	latest := candles[len(candles)-1].OpenTime
	t0 := latest - latest%models.HourMs

	set := &ModelSet{Symbol: symbol, DateTag: dateTag, Models: make(map[int]*HorizonModel, len(Horizons))}
	for _, h := range Horizons {
		hm, err := trainHorizon(candles, t0, h)
		if err != nil {
			return nil, fmt.Errorf("train %s horizon %d: %w", symbol, h, err)
		}
		set.Models[h] = hm
	}
	return set, nil
}

func trainHorizon(candles []models.Candle, t0Ms int64, h int) (*HorizonModel, error) {
	w := WindowSize(h)
	startMs := t0Ms - int64(w)*models.MinuteMs

	i0 := sort.Search(len(candles), func(i int) bool { return candles[i].OpenTime >= startMs })
	if i0+w > len(candles) {
		return nil, models.ErrInsufficientData
	}
	// The window must be exactly W(h) contiguous minutes in [T0-W, T0).
	for r := 0; r < w; r++ {
		if candles[i0+r].OpenTime != startMs+int64(r)*models.MinuteMs {
			return nil, models.ErrInsufficientData
		}
	}

	window := candles[i0 : i0+w]
	feats := BuildFeatures(window)

	ivStart, ivEnd := Interval(h)
	var xs, ys [][]float64
	for r := 0; r < w; r++ {
		at := i0 + r
		// Targets aggregate the future minutes this horizon covers,
		// counted from the minute after the feature minute.
		from := at + 1 + ivStart
		to := at + ivEnd // inclusive index of the last covered minute
		if to > len(candles)-1 {
			break // tail rows lack their future window
		}
		if candles[to].OpenTime != candles[at].OpenTime+int64(ivEnd)*models.MinuteMs {
			continue // gap inside the future window
		}

		futureClose := candles[to].Close
		futureHigh := candles[from].High
		futureLow := candles[from].Low
		var futureVol float64
		for i := from; i <= to; i++ {
			if candles[i].High > futureHigh {
				futureHigh = candles[i].High
			}
			if candles[i].Low < futureLow {
				futureLow = candles[i].Low
			}
			futureVol += candles[i].Volume
		}

		base := window[r].Close
		xs = append(xs, feats[r])
		ys = append(ys, []float64{
			futureClose - base,
			futureHigh - base,
			futureLow - base,
			futureVol,
		})
	}

	if len(xs) == 0 {
		return nil, models.ErrInsufficientData
	}

	xScaler, err := FitScaler(xs)
	if err != nil {
		return nil, err
	}
	yScaler, err := FitScaler(ys)
	if err != nil {
		return nil, err
	}

	model, err := TrainModel(xScaler.TransformAll(xs), yScaler.TransformAll(ys))
	if err != nil {
		return nil, err
	}

	return &HorizonModel{
		Horizon:    h,
		Window:     w,
		TrainStart: startMs,
		TrainEnd:   t0Ms,
		Model:      model,
		XScaler:    xScaler,
		YScaler:    yScaler,
	}, nil
}
