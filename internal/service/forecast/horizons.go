package forecast

// Horizons lists the 12 model horizons in minutes.
var Horizons = []int{1, 2, 3, 4, 5, 6, 10, 12, 15, 20, 30, 60}

// BucketSizes are the trailing resample widths feeding the feature
// vector, in minutes.
var BucketSizes = []int{2, 3, 4, 5, 6, 10, 12, 15, 20, 30, 60}

// FeatureDim is raw OHLCV plus one OHLCV block per bucket size:
// 5 + 11*5.
const FeatureDim = 60

// intervals maps each horizon to its half-open minute range [start, end)
// inside the predicted hour. The union covers 0..59 exactly once.
var intervals = map[int][2]int{
	1:  {0, 1},
	2:  {1, 2},
	3:  {2, 3},
	4:  {3, 4},
	5:  {4, 5},
	6:  {5, 6},
	10: {6, 10},
	12: {10, 12},
	15: {12, 15},
	20: {15, 20},
	30: {20, 30},
	60: {30, 60},
}

// Interval returns the minute offsets [start, end) served by horizon h.
func Interval(h int) (start, end int) {
	iv := intervals[h]
	return iv[0], iv[1]
}

// HorizonFor maps a minute offset 0..59 to the horizon whose interval
// contains it.
func HorizonFor(k int) int {
	for _, h := range Horizons {
		iv := intervals[h]
		if k >= iv[0] && k < iv[1] {
			return h
		}
	}
	return 0
}

// WindowSize returns the training window W(h) in minutes.
func WindowSize(h int) int {
	switch {
	case h <= 6:
		return 2880
	case h <= 15:
		return 4320
	case h <= 30:
		return 5760
	default:
		return 8640
	}
}

// MaxWindow is the largest W(h), the amount of history training needs.
const MaxWindow = 8640
