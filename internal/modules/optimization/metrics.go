package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Metrics are the aggregate figures reported for a weight vector. The same
// computation is applied to every strategy so results are comparable.
type Metrics struct {
	Risk       float64 `json:"risk" msgpack:"risk"`             // wᵗCw
	Volatility float64 `json:"volatility" msgpack:"volatility"` // sqrt(Risk)
	Return     float64 `json:"return" msgpack:"return"`         // w·Σ_t r_t
	ESG        float64 `json:"esg" msgpack:"esg"`
	ImpactESG  float64 `json:"impact_esg" msgpack:"impact_esg"`
}

// Risk returns the portfolio variance wᵗCw, clamped at 0 against round-off.
func Risk(w []float64, cov mat.Symmetric) (float64, error) {
	if cov == nil || cov.SymmetricDim() != len(w) || len(w) == 0 {
		return 0, fmt.Errorf("%w: %d weights for covariance of size %d", ErrDimensionMismatch, len(w), symDim(cov))
	}
	x := mat.NewVecDense(len(w), w)
	return math.Max(0, mat.Inner(x, cov, x)), nil
}

// AnnualReturn returns w·totalReturn, where totalReturn is the per-instrument
// sum of period returns.
func AnnualReturn(w, totalReturn []float64) (float64, error) {
	return dot("total return", w, totalReturn)
}

// Score returns w·score.
func Score(w, score []float64) (float64, error) {
	return dot("score", w, score)
}

// Evaluate computes all metrics of w.
func Evaluate(w []float64, cov mat.Symmetric, totalReturn, esg, impactESG []float64) (Metrics, error) {
	risk, err := Risk(w, cov)
	if err != nil {
		return Metrics{}, err
	}
	ret, err := AnnualReturn(w, totalReturn)
	if err != nil {
		return Metrics{}, err
	}
	esgScore, err := Score(w, esg)
	if err != nil {
		return Metrics{}, err
	}
	impact, err := Score(w, impactESG)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		Risk:       risk,
		Volatility: math.Sqrt(risk),
		Return:     ret,
		ESG:        esgScore,
		ImpactESG:  impact,
	}, nil
}

func dot(name string, w, v []float64) (float64, error) {
	if len(w) != len(v) {
		return 0, fmt.Errorf("%w: %d weights for %d %s entries", ErrDimensionMismatch, len(w), len(v), name)
	}
	return floats.Dot(w, v), nil
}

func symDim(s mat.Symmetric) int {
	if s == nil {
		return 0
	}
	return s.SymmetricDim()
}
