package optimization

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/esgfolio/internal/utils"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Method names a constrained solver.
type Method string

const (
	// MethodProjectedGradient is a nonmonotone spectral projected gradient
	// method over the capped simplex.
	MethodProjectedGradient Method = "projected_gradient"
	// MethodPenalty runs gonum BFGS on a quadratic-penalty reformulation and
	// projects the final iterate.
	MethodPenalty Method = "penalty"
)

// Solver defaults.
const (
	DefaultMaxIterations = 10000
	DefaultTolerance     = 1e-10
)

const (
	spgMemory        = 10    // nonmonotone line search window
	spgSufficient    = 1e-4  // Armijo constant
	spgStepMin       = 1e-30 // spectral step safeguards
	spgStepMax       = 1e30
	spgMinLineSearch = 1e-16
)

// spgStallTolerance is the largest projected gradient accepted when the line
// search stalls at machine precision, about sqrt(eps).
const spgStallTolerance = 1.5e-8

// Settings bounds a solve.
type Settings struct {
	Method        Method        `json:"method"`
	MaxIterations int           `json:"max_iterations"`
	Tolerance     float64       `json:"tolerance"`
	Runtime       time.Duration `json:"runtime"` // 0 means no limit
	MaxWeight     float64       `json:"max_weight"`
}

// DefaultSettings returns the default solver settings.
func DefaultSettings() Settings {
	return Settings{
		Method:        MethodProjectedGradient,
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
		MaxWeight:     1,
	}
}

// Result is the outcome of one solve. Callers must check Converged before
// trusting Weights as an optimum; non-converged weights are still feasible.
type Result struct {
	Weights         []float64       `json:"weights" msgpack:"weights"`
	Converged       bool            `json:"converged" msgpack:"converged"`
	Status          optimize.Status `json:"-" msgpack:"status"`
	Message         string          `json:"message" msgpack:"message"`
	Method          Method          `json:"method" msgpack:"method"`
	Iterations      int             `json:"iterations" msgpack:"iterations"`
	FuncEvaluations int             `json:"func_evaluations" msgpack:"func_evaluations"`
	Objective       float64         `json:"objective" msgpack:"objective"`
	Runtime         time.Duration   `json:"runtime_ns" msgpack:"runtime"`
}

// Optimizer minimizes objectives over the capped probability simplex. It holds
// no per-solve state and may be shared between goroutines.
type Optimizer struct {
	settings Settings
	log      zerolog.Logger
}

// NewOptimizer creates an optimizer. Zero-valued settings take defaults.
func NewOptimizer(settings Settings, log zerolog.Logger) *Optimizer {
	defaults := DefaultSettings()
	if settings.Method == "" {
		settings.Method = defaults.Method
	}
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = defaults.MaxIterations
	}
	if settings.Tolerance <= 0 {
		settings.Tolerance = defaults.Tolerance
	}
	if settings.MaxWeight == 0 {
		settings.MaxWeight = defaults.MaxWeight
	}
	return &Optimizer{
		settings: settings,
		log:      log.With().Str("component", "optimizer").Logger(),
	}
}

// Settings returns the effective settings.
func (o *Optimizer) Settings() Settings {
	return o.settings
}

// Optimize minimizes obj over {w : 0 <= w_i <= MaxWeight, Σw_i = 1}, starting
// from initial (uniform 1/k when nil, projected otherwise).
func (o *Optimizer) Optimize(ctx context.Context, obj Objective, k int, initial []float64) (*Result, error) {
	if k <= 0 {
		return nil, ErrNoInstruments
	}
	if obj == nil {
		return nil, fmt.Errorf("nil objective")
	}
	if d, ok := obj.(interface{ Dim() int }); ok && d.Dim() != k {
		return nil, fmt.Errorf("%w: objective has %d variables, expected %d", ErrDimensionMismatch, d.Dim(), k)
	}
	if initial != nil && len(initial) != k {
		return nil, fmt.Errorf("%w: initial guess has %d entries, expected %d", ErrDimensionMismatch, len(initial), k)
	}
	if err := checkBounds(k, o.settings.MaxWeight); err != nil {
		return nil, err
	}

	// A single instrument has exactly one feasible point.
	if k == 1 {
		w := []float64{1}
		return &Result{
			Weights:   w,
			Converged: true,
			Status:    optimize.Success,
			Message:   "single instrument",
			Method:    o.settings.Method,
			Objective: obj.Value(w),
		}, nil
	}

	var x0 []float64
	if initial == nil {
		x0 = UniformWeights(k)
	} else {
		for i, x := range initial {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("%w: initial[%d]", ErrNonFinite, i)
			}
		}
		x0 = ProjectSimplex(nil, initial, o.settings.MaxWeight)
	}

	timer := utils.NewTimer(fmt.Sprintf("optimize_%s", o.settings.Method), o.log)

	var (
		result *Result
		err    error
	)
	switch o.settings.Method {
	case MethodProjectedGradient:
		result = o.projectedGradient(ctx, obj, x0)
	case MethodPenalty:
		result, err = o.penalty(ctx, obj, x0)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, o.settings.Method)
	}
	if err != nil {
		return nil, err
	}

	result.Method = o.settings.Method
	result.Runtime = timer.Stop()

	event := o.log.Debug()
	if !result.Converged {
		event = o.log.Warn()
	}
	event.
		Int("k", k).
		Bool("converged", result.Converged).
		Str("status", result.Status.String()).
		Int("iterations", result.Iterations).
		Float64("objective", result.Objective).
		Msg(result.Message)

	return result, nil
}

// projectedGradient runs the nonmonotone spectral projected gradient method
// (Birgin, Martínez and Raydan). Every iterate is a convex combination of
// feasible points, and the returned weights are projected once more.
func (o *Optimizer) projectedGradient(ctx context.Context, obj Objective, x0 []float64) *Result {
	n := len(x0)
	maxW := o.settings.MaxWeight
	tol := o.settings.Tolerance
	start := time.Now()

	x := make([]float64, n)
	copy(x, x0)
	g := make([]float64, n)
	xNew := make([]float64, n)
	gNew := make([]float64, n)
	d := make([]float64, n)
	scratch := make([]float64, n)

	f := obj.Value(x)
	obj.Gradient(g, x)
	evals := 1

	history := make([]float64, spgMemory)
	for i := range history {
		history[i] = f
	}

	pgNorm := projectedGradientNorm(x, g, scratch, maxW)
	lambda := 1.0
	if pgNorm > 0 {
		lambda = math.Max(spgStepMin, math.Min(spgStepMax, 1/pgNorm))
	}

	finish := func(status optimize.Status, converged bool, iterations int, msg string) *Result {
		w := ProjectSimplex(nil, x, maxW)
		return &Result{
			Weights:         w,
			Converged:       converged,
			Status:          status,
			Message:         msg,
			Iterations:      iterations,
			FuncEvaluations: evals,
			Objective:       obj.Value(w),
		}
	}

	for iter := 0; ; iter++ {
		if math.IsNaN(f) || math.IsNaN(pgNorm) {
			return finish(optimize.Failure, false, iter, "objective or gradient is NaN")
		}
		if pgNorm <= tol {
			return finish(optimize.GradientThreshold, true, iter,
				fmt.Sprintf("projected gradient %.3g below tolerance", pgNorm))
		}
		if iter >= o.settings.MaxIterations {
			return finish(optimize.IterationLimit, false, iter,
				fmt.Sprintf("iteration limit %d reached, projected gradient %.3g", o.settings.MaxIterations, pgNorm))
		}
		if o.settings.Runtime > 0 && time.Since(start) > o.settings.Runtime {
			return finish(optimize.RuntimeLimit, false, iter,
				fmt.Sprintf("runtime limit %s reached", o.settings.Runtime))
		}
		if err := ctx.Err(); err != nil {
			return finish(optimize.Failure, false, iter, fmt.Sprintf("cancelled: %v", err))
		}

		// Spectral step onto the feasible set.
		for i := range x {
			d[i] = x[i] - lambda*g[i]
		}
		ProjectSimplex(d, d, maxW)
		floats.Sub(d, x)
		gtd := floats.Dot(g, d)

		fMax := floats.Max(history)
		alpha := 1.0
		accepted := false
		var fNew float64
		for alpha >= spgMinLineSearch {
			floats.AddScaledTo(xNew, x, alpha, d)
			fNew = obj.Value(xNew)
			evals++
			if fNew <= fMax+spgSufficient*alpha*gtd {
				accepted = true
				break
			}
			// Safeguarded quadratic interpolation.
			trial := -0.5 * alpha * alpha * gtd / (fNew - f - alpha*gtd)
			if trial >= 0.1*alpha && trial <= 0.9*alpha {
				alpha = trial
			} else {
				alpha /= 2
			}
		}
		if !accepted {
			// No representable decrease left along a descent direction. This
			// counts as convergence only at a feasible, near-stationary point.
			stalled := math.Abs(gtd) <= 1e-14*math.Max(1, math.Abs(f))
			if stalled && pgNorm <= math.Max(tol, spgStallTolerance) && IsFeasible(x, maxW, WeightTolerance) {
				return finish(optimize.FunctionConvergence, true, iter,
					fmt.Sprintf("no further decrease, projected gradient %.3g", pgNorm))
			}
			return finish(optimize.Failure, false, iter,
				fmt.Sprintf("line search failed, projected gradient %.3g", pgNorm))
		}

		obj.Gradient(gNew, xNew)

		var sts, sty float64
		for i := range x {
			s := xNew[i] - x[i]
			y := gNew[i] - g[i]
			sts += s * s
			sty += s * y
		}
		if sty <= 0 {
			lambda = spgStepMax
		} else {
			lambda = math.Max(spgStepMin, math.Min(spgStepMax, sts/sty))
		}

		copy(x, xNew)
		copy(g, gNew)
		f = fNew
		history[(iter+1)%spgMemory] = f
		pgNorm = projectedGradientNorm(x, g, scratch, maxW)
	}
}
