package optimization

import "errors"

var (
	// ErrNoInstruments is returned when an operation receives zero instruments.
	ErrNoInstruments = errors.New("no instruments")
	// ErrMissingSeries is returned when an instrument has no price series.
	ErrMissingSeries = errors.New("missing price series")
	// ErrNoOverlap is returned when no period has returns for every instrument.
	ErrNoOverlap = errors.New("no overlapping return periods")
	// ErrInsufficientPeriods is returned when fewer than two periods remain.
	ErrInsufficientPeriods = errors.New("insufficient return periods")
	// ErrRankDeficient is returned when there are not more periods than
	// instruments, so the sample covariance is singular.
	ErrRankDeficient = errors.New("covariance matrix is rank deficient")
	// ErrDimensionMismatch is returned when vector or matrix sizes disagree.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInfeasibleBounds is returned when no weight vector satisfies the bounds.
	ErrInfeasibleBounds = errors.New("infeasible weight bounds")
	// ErrNonFinite is returned when an input contains NaN or Inf.
	ErrNonFinite = errors.New("non-finite input")
	// ErrUnknownMethod is returned for an unrecognised solver method.
	ErrUnknownMethod = errors.New("unknown solver method")
	// ErrUnknownStrategy is returned for an unrecognised strategy name.
	ErrUnknownStrategy = errors.New("unknown strategy")
)
