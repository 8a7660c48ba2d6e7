package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// targetDim is (close_delta, high_delta, low_delta, volume).
const targetDim = 4

// ridgeLambda is the regularization strength. Small, just enough to
// keep the normal equations well conditioned on near-collinear
// features.
const ridgeLambda = 1e-3

// Model is a linear map from one scaled feature row to the four scaled
// targets, fit by ridge regression. Weights has FeatureDim+1 rows; the
// last row is the bias.
type Model struct {
	Weights [][]float64 `json:"weights"`
}

// TrainModel fits targets Y from features X via the regularized normal
// equations (XᵀX + λI)W = XᵀY, with a bias column appended to X.
func TrainModel(x, y [][]float64) (*Model, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("train: %d feature rows vs %d target rows", n, len(y))
	}
	dim := len(x[0])

	a := mat.NewDense(n, dim+1, nil)
	b := mat.NewDense(n, targetDim, nil)
	for i := 0; i < n; i++ {
		if len(x[i]) != dim || len(y[i]) != targetDim {
			return nil, fmt.Errorf("train: ragged row %d", i)
		}
		for j, v := range x[i] {
			a.Set(i, j, v)
		}
		a.Set(i, dim, 1) // bias
		for j, v := range y[i] {
			b.Set(i, j, v)
		}
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	for j := 0; j < dim+1; j++ {
		ata.Set(j, j, ata.At(j, j)+ridgeLambda)
	}

	var atb mat.Dense
	atb.Mul(a.T(), b)

	var w mat.Dense
	if err := w.Solve(&ata, &atb); err != nil {
		return nil, fmt.Errorf("train: solve normal equations: %w", err)
	}

	out := &Model{Weights: make([][]float64, dim+1)}
	for i := 0; i <= dim; i++ {
		row := make([]float64, targetDim)
		for j := 0; j < targetDim; j++ {
			row[j] = w.At(i, j)
		}
		out.Weights[i] = row
	}
	return out, nil
}

// Predict maps one scaled feature row to the four scaled targets.
func (m *Model) Predict(x []float64) ([]float64, error) {
	if len(x)+1 != len(m.Weights) {
		return nil, fmt.Errorf("predict: %d features, model expects %d", len(x), len(m.Weights)-1)
	}
	out := make([]float64, targetDim)
	for j := 0; j < targetDim; j++ {
		acc := m.Weights[len(x)][j] // bias
		for i, v := range x {
			acc += v * m.Weights[i][j]
		}
		out[j] = acc
	}
	return out, nil
}
