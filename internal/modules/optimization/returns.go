package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PriceHistory holds closing prices for several instruments on shared,
// ascending dates. NaN marks a missing close.
type PriceHistory struct {
	Dates  []string             `json:"dates"`
	Closes map[string][]float64 `json:"closes"`
}

// ReturnSeries holds aligned simple returns. Every instrument has a value for
// every retained period.
type ReturnSeries struct {
	IDs     []string    // Instrument order
	Dates   []string    // Closing date of each retained period
	Values  [][]float64 // Values[k][t] is the return of IDs[k] over period t
	Dropped int         // Periods discarded because some instrument was missing
}

// Periods returns the number of aligned periods.
func (r ReturnSeries) Periods() int {
	if len(r.Values) == 0 {
		return 0
	}
	return len(r.Values[0])
}

// Matrix returns the returns as a periods x instruments matrix, or nil when
// the series is empty.
func (r ReturnSeries) Matrix() *mat.Dense {
	t, k := r.Periods(), len(r.Values)
	if t == 0 || k == 0 {
		return nil
	}
	m := mat.NewDense(t, k, nil)
	for j, series := range r.Values {
		m.SetCol(j, series)
	}
	return m
}

// ReturnsOptions controls how gaps in the price history are handled.
type ReturnsOptions struct {
	// ForwardFill carries the last known close over missing closes before
	// differencing. Leading gaps stay missing.
	ForwardFill bool
}

// ComputeReturns converts closing prices into simple period returns
// (p_t - p_{t-1}) / p_{t-1} for the given instruments, in that order.
// The first observation has no return and is discarded. Returns that are
// NaN or infinite (a zero previous close) count as missing, and every period
// missing for any instrument is dropped.
func ComputeReturns(prices PriceHistory, ids []string, opts ReturnsOptions) (ReturnSeries, error) {
	if len(ids) == 0 {
		return ReturnSeries{}, ErrNoInstruments
	}

	n := len(prices.Dates)
	raw := make([][]float64, len(ids))
	for k, id := range ids {
		closes, ok := prices.Closes[id]
		if !ok {
			return ReturnSeries{}, fmt.Errorf("%w: %s", ErrMissingSeries, id)
		}
		if len(closes) != n {
			return ReturnSeries{}, fmt.Errorf("%w: %s has %d closes for %d dates", ErrDimensionMismatch, id, len(closes), n)
		}
		if opts.ForwardFill {
			closes = forwardFill(closes)
		}
		raw[k] = simpleReturns(closes)
	}

	periods := n - 1
	if periods < 0 {
		periods = 0
	}

	keep := make([]int, 0, periods)
	for t := 0; t < periods; t++ {
		complete := true
		for k := range raw {
			if math.IsNaN(raw[k][t]) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, t)
		}
	}

	if len(keep) == 0 {
		return ReturnSeries{}, fmt.Errorf("%w: %d instruments over %d dates", ErrNoOverlap, len(ids), n)
	}

	series := ReturnSeries{
		IDs:     append([]string(nil), ids...),
		Dates:   make([]string, len(keep)),
		Values:  make([][]float64, len(ids)),
		Dropped: periods - len(keep),
	}
	for i, t := range keep {
		series.Dates[i] = prices.Dates[t+1]
	}
	for k := range raw {
		values := make([]float64, len(keep))
		for i, t := range keep {
			values[i] = raw[k][t]
		}
		series.Values[k] = values
	}

	return series, nil
}

// simpleReturns differences a close series, marking undefined returns NaN.
func simpleReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		r := (closes[i] - closes[i-1]) / closes[i-1]
		if math.IsInf(r, 0) {
			r = math.NaN()
		}
		out[i-1] = r
	}
	return out
}

// forwardFill replaces NaN closes with the previous valid close.
func forwardFill(closes []float64) []float64 {
	filled := make([]float64, len(closes))
	copy(filled, closes)

	lastValid := math.NaN()
	for i, c := range filled {
		if math.IsNaN(c) {
			filled[i] = lastValid
		} else {
			lastValid = c
		}
	}
	return filled
}

// TotalReturns sums each instrument's period returns. It is the return proxy
// used by the objective and by AnnualReturn.
func TotalReturns(r ReturnSeries) []float64 {
	totals := make([]float64, len(r.Values))
	for k, series := range r.Values {
		totals[k] = floats.Sum(series)
	}
	return totals
}
