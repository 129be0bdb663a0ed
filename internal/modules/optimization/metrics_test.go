package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestRisk(t *testing.T) {
	identity := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	risk, err := Risk([]float64{0.5, 0.5}, identity)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, risk, 1e-15)

	// Round-off can push an indefinite estimate below zero.
	indefinite := mat.NewSymDense(2, []float64{1, -2, -2, 1})
	risk, err = Risk([]float64{0.5, 0.5}, indefinite)
	require.NoError(t, err)
	assert.Zero(t, risk)

	_, err = Risk([]float64{1}, identity)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestAnnualReturnAndScore(t *testing.T) {
	w := []float64{0.25, 0.75}

	ret, err := AnnualReturn(w, []float64{0.2, 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.125, ret, 1e-15)

	score, err := Score(w, []float64{80, 60})
	require.NoError(t, err)
	assert.InDelta(t, 65.0, score, 1e-12)

	_, err = AnnualReturn(w, []float64{0.1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = Score(w, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEvaluate(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.04, 0, 0, 0.09})
	w := []float64{0.5, 0.5}

	m, err := Evaluate(w, cov, []float64{0.1, 0.3}, []float64{80, 90}, []float64{100, 0})
	require.NoError(t, err)

	assert.InDelta(t, 0.0325, m.Risk, 1e-15)
	assert.InDelta(t, math.Sqrt(0.0325), m.Volatility, 1e-15)
	assert.InDelta(t, 0.2, m.Return, 1e-15)
	assert.InDelta(t, 85.0, m.ESG, 1e-12)
	assert.InDelta(t, 50.0, m.ImpactESG, 1e-12)

	_, err = Evaluate(w, cov, []float64{0.1, 0.3}, []float64{80}, []float64{100, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
