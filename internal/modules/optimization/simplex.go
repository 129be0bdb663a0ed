package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// WeightTolerance is the tolerance used when checking the simplex invariant.
const WeightTolerance = 1e-6

const (
	projectionIterations      = 200
	projectionRepairTolerance = 1e-12
)

// checkBounds verifies that {w : 0 <= w_i <= maxWeight, Σw_i = 1} is non-empty.
func checkBounds(k int, maxWeight float64) error {
	if math.IsNaN(maxWeight) || maxWeight <= 0 || maxWeight > 1 {
		return fmt.Errorf("%w: max weight %v outside (0,1]", ErrInfeasibleBounds, maxWeight)
	}
	if maxWeight*float64(k) < 1-1e-12 {
		return fmt.Errorf("%w: %d instruments capped at %v cannot sum to 1", ErrInfeasibleBounds, k, maxWeight)
	}
	return nil
}

// ProjectSimplex stores in dst the Euclidean projection of v onto the capped
// simplex {w : 0 <= w_i <= maxWeight, Σw_i = 1} and returns dst. A nil dst is
// allocated. dst and v may be the same slice. The bounds must be feasible.
//
// The projection is w_i = clip(v_i − θ, 0, maxWeight) where θ is found by
// bisection on the monotone map θ ↦ Σw_i(θ). v is shifted by its maximum
// first, since the projection is shift-invariant, and the bracket is taken
// from the m-th largest entry (m = ⌈1/maxWeight⌉) so that it stays on the
// scale of the entries that end up with weight.
func ProjectSimplex(dst, v []float64, maxWeight float64) []float64 {
	n := len(v)
	if dst == nil {
		dst = make([]float64, n)
	}
	if n == 0 {
		return dst
	}

	shift := floats.Max(v)
	u := make([]float64, n)
	for i, x := range v {
		u[i] = x - shift
	}

	// Ascending copy of u with the matching indices.
	sorted := make([]float64, n)
	copy(sorted, u)
	order := make([]int, n)
	floats.Argsort(sorted, order)

	m := int(math.Ceil(1/maxWeight - 1e-12))
	m = max(1, min(n, m))

	clipped := func(x, theta float64) float64 {
		return math.Max(0, math.Min(maxWeight, x-theta))
	}
	sumAt := func(theta float64) float64 {
		var s float64
		for _, x := range u {
			s += clipped(x, theta)
		}
		return s
	}

	// At lo the m largest entries sit at the cap (sum >= 1), at hi = max(u) = 0
	// every weight is 0.
	lo := sorted[n-m] - maxWeight
	hi := 0.0
	for i := 0; i < projectionIterations; i++ {
		mid := lo + (hi-lo)/2
		if mid <= lo || mid >= hi {
			break
		}
		if sumAt(mid) > 1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	theta := lo + (hi-lo)/2

	// u is a private copy, so writing dst at the end is alias-safe.
	out := make([]float64, n)
	free := 0
	var sum float64
	for i, x := range u {
		out[i] = clipped(x, theta)
		sum += out[i]
		if out[i] > 0 && out[i] < maxWeight {
			free++
		}
	}

	// Spread the residual of the bisection over the coordinates strictly
	// inside the box.
	if residual := 1 - sum; residual != 0 && free > 0 {
		share := residual / float64(free)
		for i := range out {
			if out[i] > 0 && out[i] < maxWeight {
				out[i] = math.Max(0, math.Min(maxWeight, out[i]+share))
			}
		}
	}

	repairSum(out, order, maxWeight)

	copy(dst, out)
	return dst
}

// repairSum moves whatever budget is still off after bisection onto the
// largest entries (when short) or off the smallest entries (when over),
// respecting the box. order lists indices by ascending input value.
// Bisection alone cannot resolve θ when the inputs are far apart in
// magnitude.
func repairSum(w []float64, order []int, maxWeight float64) {
	residual := 1 - floats.Sum(w)
	if math.Abs(residual) <= projectionRepairTolerance {
		return
	}
	if residual > 0 {
		for j := len(order) - 1; j >= 0 && residual > 0; j-- {
			i := order[j]
			add := math.Min(maxWeight-w[i], residual)
			w[i] += add
			residual -= add
		}
		return
	}
	for _, i := range order {
		if residual >= 0 {
			break
		}
		take := math.Min(w[i], -residual)
		w[i] -= take
		residual += take
	}
}

// projectedGradientNorm returns ‖P(w − g) − w‖∞, the first-order optimality
// measure over the capped simplex. scratch must have len(w) entries.
func projectedGradientNorm(w, g, scratch []float64, maxWeight float64) float64 {
	for i := range w {
		scratch[i] = w[i] - g[i]
	}
	ProjectSimplex(scratch, scratch, maxWeight)
	var norm float64
	for i := range w {
		norm = math.Max(norm, math.Abs(scratch[i]-w[i]))
	}
	return norm
}

// IsFeasible reports whether w satisfies the simplex invariant within tol.
func IsFeasible(w []float64, maxWeight, tol float64) bool {
	if len(w) == 0 {
		return false
	}
	for _, x := range w {
		if math.IsNaN(x) || x < -tol || x > maxWeight+tol {
			return false
		}
	}
	return math.Abs(floats.Sum(w)-1) <= tol
}

// UniformWeights returns the 1/k allocation.
func UniformWeights(k int) []float64 {
	w := make([]float64, k)
	for i := range w {
		w[i] = 1 / float64(k)
	}
	return w
}
