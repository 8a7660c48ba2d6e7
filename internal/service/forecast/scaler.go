package forecast

import "fmt"

// MinMaxScaler maps each feature to [0, 1] using the min/max observed
// at fit time. A constant feature maps to 0.
type MinMaxScaler struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// FitScaler computes per-column bounds over the given rows.
func FitScaler(rows [][]float64) (*MinMaxScaler, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit scaler: no rows")
	}
	dim := len(rows[0])
	s := &MinMaxScaler{Min: make([]float64, dim), Max: make([]float64, dim)}
	copy(s.Min, rows[0])
	copy(s.Max, rows[0])
	for _, row := range rows[1:] {
		if len(row) != dim {
			return nil, fmt.Errorf("fit scaler: ragged row, %d != %d", len(row), dim)
		}
		for j, v := range row {
			if v < s.Min[j] {
				s.Min[j] = v
			}
			if v > s.Max[j] {
				s.Max[j] = v
			}
		}
	}
	return s, nil
}

// Transform scales one row in place-safe fashion and returns a new slice.
func (s *MinMaxScaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		span := s.Max[j] - s.Min[j]
		if span == 0 {
			out[j] = 0
			continue
		}
		out[j] = (v - s.Min[j]) / span
	}
	return out
}

// TransformAll scales every row.
func (s *MinMaxScaler) TransformAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = s.Transform(row)
	}
	return out
}

// Inverse undoes Transform for one row.
func (s *MinMaxScaler) Inverse(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = v*(s.Max[j]-s.Min[j]) + s.Min[j]
	}
	return out
}
