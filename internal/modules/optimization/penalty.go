package optimization

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// penaltyWeight scales the squared budget violation (Σw − 1)².
const penaltyWeight = 1000.0

// penaltyProblem reformulates the constrained problem as an unconstrained one:
// iterates are clipped into the box and the budget constraint is enforced by
// a quadratic penalty.
func penaltyProblem(obj Objective, n int, maxWeight float64) optimize.Problem {
	clip := func(dst, x []float64) {
		for i := range x {
			dst[i] = math.Max(0, math.Min(maxWeight, x[i]))
		}
	}

	return optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := make([]float64, n)
			clip(xProj, x)
			excess := floats.Sum(xProj) - 1
			return obj.Value(xProj) + penaltyWeight*excess*excess
		},
		Grad: func(grad, x []float64) {
			xProj := make([]float64, n)
			clip(xProj, x)
			obj.Gradient(grad, xProj)
			excess := floats.Sum(xProj) - 1
			for i := range grad {
				if x[i] < 0 || x[i] > maxWeight {
					grad[i] = 0
					continue
				}
				grad[i] += 2 * penaltyWeight * excess
			}
		},
	}
}

// penaltyConverged reports whether a gonum status counts as convergence.
func penaltyConverged(status optimize.Status) bool {
	return status == optimize.Success ||
		status == optimize.GradientThreshold ||
		status == optimize.FunctionConvergence
}

// penalty solves with BFGS, falling back to Nelder-Mead when BFGS errors.
// gonum's solvers do not take a context, so the context deadline is folded
// into the runtime limit and cancellation is checked around the solve.
func (o *Optimizer) penalty(ctx context.Context, obj Objective, x0 []float64) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return &Result{
			Weights:   x0,
			Status:    optimize.Failure,
			Message:   fmt.Sprintf("cancelled: %v", err),
			Objective: obj.Value(x0),
		}, nil
	}

	runtime := o.settings.Runtime
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if runtime == 0 || remaining < runtime {
			runtime = max(remaining, time.Nanosecond)
		}
	}

	settings := &optimize.Settings{
		MajorIterations:   o.settings.MaxIterations,
		GradientThreshold: o.settings.Tolerance,
		Runtime:           runtime,
	}
	problem := penaltyProblem(obj, len(x0), o.settings.MaxWeight)

	res, err := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if err != nil {
		o.log.Debug().Err(err).Msg("BFGS failed, falling back to Nelder-Mead")
		res, err = optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	}
	if res == nil || len(res.X) != len(x0) {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}

	w := ProjectSimplex(nil, res.X, o.settings.MaxWeight)
	result := &Result{
		Weights:         w,
		Converged:       penaltyConverged(res.Status) && err == nil,
		Status:          res.Status,
		Message:         res.Status.String(),
		Iterations:      res.Stats.MajorIterations,
		FuncEvaluations: res.Stats.FuncEvaluations,
		Objective:       obj.Value(w),
	}
	if err != nil {
		result.Message = err.Error()
	}
	return result, nil
}
