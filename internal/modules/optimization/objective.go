package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// ScoreKind selects which per-instrument score the objective rewards.
type ScoreKind string

const (
	ScoreNone      ScoreKind = "none"
	ScoreESG       ScoreKind = "esg"
	ScoreImpactESG ScoreKind = "impact_esg"
)

// Blend holds the coefficients of the three objective terms.
type Blend struct {
	RiskWeight float64 `json:"risk_weight" msgpack:"risk_weight"`
	ReturnCoef float64 `json:"return_coef" msgpack:"return_coef"`
	ScoreCoef  float64 `json:"score_coef" msgpack:"score_coef"`
}

// MinVarianceBlend is the pure minimum-variance blend.
func MinVarianceBlend() Blend {
	return Blend{RiskWeight: 1}
}

// Objective is a scalar function over weight vectors with a gradient.
type Objective interface {
	Value(w []float64) float64
	Gradient(grad, w []float64)
}

// BlendedObjective evaluates
//
//	riskWeight·wᵗCw − returnCoef·(w·totalReturn) − scoreCoef·(w·score)
//
// It owns copies of its inputs and never mutates them, so one value may be
// evaluated from several goroutines.
type BlendedObjective struct {
	cov         *mat.SymDense
	totalReturn []float64
	score       []float64
	blend       Blend
}

// BuildObjective composes a blended objective. A nil totalReturn or score is
// treated as a zero vector.
func BuildObjective(cov mat.Symmetric, totalReturn, score []float64, blend Blend) (*BlendedObjective, error) {
	if cov == nil {
		return nil, ErrNoInstruments
	}
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, ErrNoInstruments
	}

	tr, err := copyVector("total return", totalReturn, n)
	if err != nil {
		return nil, err
	}
	sc, err := copyVector("score", score, n)
	if err != nil {
		return nil, err
	}

	for _, c := range []float64{blend.RiskWeight, blend.ReturnCoef, blend.ScoreCoef} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: blend %+v", ErrNonFinite, blend)
		}
	}

	c := mat.NewSymDense(n, nil)
	c.CopySym(cov)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if v := c.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: covariance entry (%d,%d)", ErrNonFinite, i, j)
			}
		}
	}

	return &BlendedObjective{
		cov:         c,
		totalReturn: tr,
		score:       sc,
		blend:       blend,
	}, nil
}

func copyVector(name string, v []float64, n int) ([]float64, error) {
	out := make([]float64, n)
	if v == nil {
		return out, nil
	}
	if len(v) != n {
		return nil, fmt.Errorf("%w: %s has %d entries, covariance is %dx%d", ErrDimensionMismatch, name, len(v), n, n)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: %s[%d]", ErrNonFinite, name, i)
		}
	}
	copy(out, v)
	return out, nil
}

// Dim returns the number of decision variables.
func (o *BlendedObjective) Dim() int {
	return len(o.totalReturn)
}

// Blend returns the coefficients the objective was built with.
func (o *BlendedObjective) Blend() Blend {
	return o.blend
}

// Value evaluates the objective at w. len(w) must equal Dim.
func (o *BlendedObjective) Value(w []float64) float64 {
	x := mat.NewVecDense(len(w), w)
	risk := mat.Inner(x, o.cov, x)
	return o.blend.RiskWeight*risk -
		o.blend.ReturnCoef*floats.Dot(w, o.totalReturn) -
		o.blend.ScoreCoef*floats.Dot(w, o.score)
}

// Gradient stores 2·riskWeight·Cw − returnCoef·totalReturn − scoreCoef·score
// in grad. grad and w must not overlap.
func (o *BlendedObjective) Gradient(grad, w []float64) {
	g := mat.NewVecDense(len(grad), grad)
	g.MulVec(o.cov, mat.NewVecDense(len(w), w))
	floats.Scale(2*o.blend.RiskWeight, grad)
	floats.AddScaled(grad, -o.blend.ReturnCoef, o.totalReturn)
	floats.AddScaled(grad, -o.blend.ScoreCoef, o.score)
}

// Problem exposes the objective as an unconstrained gonum problem.
func (o *BlendedObjective) Problem() optimize.Problem {
	return optimize.Problem{
		Func: o.Value,
		Grad: o.Gradient,
	}
}

// NumericObjective adapts an arbitrary scalar function, approximating its
// gradient with finite differences.
type NumericObjective struct {
	F        func(w []float64) float64
	Settings *fd.Settings // nil uses forward differences
}

// Value evaluates F at w.
func (o NumericObjective) Value(w []float64) float64 {
	return o.F(w)
}

// Gradient approximates the gradient of F at w.
func (o NumericObjective) Gradient(grad, w []float64) {
	fd.Gradient(grad, o.F, w, o.Settings)
}
