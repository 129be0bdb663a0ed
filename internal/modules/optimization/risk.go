package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// HighCorrelationThreshold is the absolute correlation above which a pair is
// reported as highly correlated.
const HighCorrelationThreshold = 0.80

// CorrelationPair is a pair of instruments with their return correlation.
type CorrelationPair struct {
	ID1         string  `json:"id1" msgpack:"id1"`
	ID2         string  `json:"id2" msgpack:"id2"`
	Correlation float64 `json:"correlation" msgpack:"correlation"`
}

// CovarianceMatrix returns the sample covariance of the return series
// (N-1 denominator), ordered like r.IDs.
func CovarianceMatrix(r ReturnSeries) (*mat.SymDense, error) {
	k := len(r.Values)
	if k == 0 {
		return nil, ErrNoInstruments
	}
	if len(r.IDs) != k {
		return nil, fmt.Errorf("%w: %d IDs for %d series", ErrDimensionMismatch, len(r.IDs), k)
	}

	t := r.Periods()
	for i, series := range r.Values {
		if len(series) != t {
			return nil, fmt.Errorf("%w: series %s has %d periods, expected %d", ErrDimensionMismatch, r.IDs[i], len(series), t)
		}
	}
	if t < 2 {
		return nil, fmt.Errorf("%w: need at least 2, got %d", ErrInsufficientPeriods, t)
	}

	cov := mat.NewSymDense(k, nil)
	stat.CovarianceMatrix(cov, r.Matrix(), nil)
	return cov, nil
}

// CheckRank reports ErrRankDeficient when the series has no more periods than
// instruments. The sample covariance then has rank at most periods-1 < K.
func CheckRank(r ReturnSeries) error {
	t, k := r.Periods(), len(r.Values)
	if t <= k {
		return fmt.Errorf("%w: %d periods for %d instruments", ErrRankDeficient, t, k)
	}
	return nil
}

// constantCorrelationTarget builds the shrinkage target: sample variances on
// the diagonal and the average sample correlation off it.
func constantCorrelationTarget(cov mat.Symmetric) *mat.SymDense {
	n := cov.SymmetricDim()
	sd := make([]float64, n)
	for i := range sd {
		sd[i] = math.Sqrt(math.Max(cov.At(i, i), 0))
	}

	var sum float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sd[i] > 0 && sd[j] > 0 {
				sum += cov.At(i, j) / (sd[i] * sd[j])
				pairs++
			}
		}
	}
	avgCorr := 0.0
	if pairs > 0 {
		avgCorr = sum / float64(pairs)
	}

	target := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		target.SetSym(i, i, cov.At(i, i))
		for j := i + 1; j < n; j++ {
			target.SetSym(i, j, avgCorr*sd[i]*sd[j])
		}
	}
	return target
}

// ShrinkCovariance returns (1-intensity)*cov + intensity*target, where target
// is the constant-correlation model. Intensity is clamped to [0,1].
func ShrinkCovariance(cov mat.Symmetric, intensity float64) *mat.SymDense {
	intensity = math.Max(0, math.Min(1, intensity))
	n := cov.SymmetricDim()
	target := constantCorrelationTarget(cov)

	shrunk := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			shrunk.SetSym(i, j, (1-intensity)*cov.At(i, j)+intensity*target.At(i, j))
		}
	}
	return shrunk
}

// LedoitWolfIntensity estimates the optimal shrinkage intensity towards the
// constant-correlation target.
//
// Reference: Ledoit, O., & Wolf, M. (2004). "Honey, I shrunk the sample
// covariance matrix". Returns 0 when the estimate is undefined (fewer than two
// instruments or periods, or a zero-variance instrument).
func LedoitWolfIntensity(r ReturnSeries) float64 {
	t, k := r.Periods(), len(r.Values)
	if k < 2 || t < 2 {
		return 0
	}
	tf := float64(t)

	x := make([][]float64, k)
	for i, series := range r.Values {
		mean := stat.Mean(series, nil)
		x[i] = make([]float64, t)
		for n, v := range series {
			x[i][n] = v - mean
		}
	}

	s := make([][]float64, k)
	sd := make([]float64, k)
	for i := 0; i < k; i++ {
		s[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			s[i][j] = floats.Dot(x[i], x[j]) / tf
		}
		sd[i] = math.Sqrt(s[i][i])
		if sd[i] == 0 {
			return 0
		}
	}

	var corrSum float64
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			corrSum += s[i][j] / (sd[i] * sd[j])
		}
	}
	avgCorr := 2 * corrSum / float64(k*(k-1))

	// pi: asymptotic variance of the sample covariance entries
	var pi, piDiag float64
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			var p float64
			for n := 0; n < t; n++ {
				d := x[i][n]*x[j][n] - s[i][j]
				p += d * d
			}
			p /= tf
			pi += p
			if i == j {
				piDiag += p
			}
		}
	}

	// rho: asymptotic covariance between target and sample entries
	rho := piDiag
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i == j {
				continue
			}
			var thetaII, thetaJJ float64
			for n := 0; n < t; n++ {
				cross := x[i][n]*x[j][n] - s[i][j]
				thetaII += (x[i][n]*x[i][n] - s[i][i]) * cross
				thetaJJ += (x[j][n]*x[j][n] - s[j][j]) * cross
			}
			thetaII /= tf
			thetaJJ /= tf
			rho += avgCorr / 2 * (sd[j]/sd[i]*thetaII + sd[i]/sd[j]*thetaJJ)
		}
	}

	// gamma: misspecification of the target
	var gamma float64
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			f := s[i][i]
			if i != j {
				f = avgCorr * sd[i] * sd[j]
			}
			gamma += (f - s[i][j]) * (f - s[i][j])
		}
	}
	if gamma <= 0 {
		return 0
	}

	kappa := (pi - rho) / gamma
	return math.Max(0, math.Min(1, kappa/tf))
}

// HighCorrelations lists instrument pairs whose absolute return correlation
// is at least threshold.
func HighCorrelations(cov mat.Symmetric, ids []string, threshold float64) []CorrelationPair {
	n := cov.SymmetricDim()
	if n == 0 || len(ids) != n {
		return []CorrelationPair{}
	}

	correlations := make([]CorrelationPair, 0)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			vi, vj := cov.At(i, i), cov.At(j, j)
			if vi <= 0 || vj <= 0 {
				continue
			}
			correlation := cov.At(i, j) / math.Sqrt(vi*vj)
			if math.Abs(correlation) >= threshold {
				correlations = append(correlations, CorrelationPair{
					ID1:         ids[i],
					ID2:         ids[j],
					Correlation: correlation,
				})
			}
		}
	}
	return correlations
}

// StatisticsOptions configures the Statistics Builder.
type StatisticsOptions struct {
	ForwardFill        bool
	AllowRankDeficient bool
	// Shrinkage: 0 disables shrinkage, (0,1] is a fixed intensity and a
	// negative value requests the Ledoit-Wolf estimate.
	Shrinkage float64
	// ScreenPrices treats abnormal closes as missing before returns are
	// computed.
	ScreenPrices bool
}

// Statistics bundles the estimates the objective is built from.
type Statistics struct {
	Returns       ReturnSeries
	Covariance    *mat.SymDense
	TotalReturns  []float64
	Shrinkage     float64 // Intensity actually applied
	RankDeficient bool
	Anomalies     []PriceAnomaly
}

// StatisticsBuilder turns price histories into returns and a covariance matrix.
type StatisticsBuilder struct {
	opts      StatisticsOptions
	validator *PriceValidator
	log       zerolog.Logger
}

// NewStatisticsBuilder creates a new statistics builder.
func NewStatisticsBuilder(opts StatisticsOptions, log zerolog.Logger) *StatisticsBuilder {
	return &StatisticsBuilder{
		opts:      opts,
		validator: NewPriceValidator(log),
		log:       log.With().Str("component", "statistics").Logger(),
	}
}

// Build computes aligned returns, their covariance and total returns for the
// given instruments, in that order.
func (b *StatisticsBuilder) Build(prices PriceHistory, ids []string) (*Statistics, error) {
	var anomalies []PriceAnomaly
	if b.opts.ScreenPrices {
		prices, anomalies = b.validator.Screen(prices, ids)
	}

	returns, err := ComputeReturns(prices, ids, ReturnsOptions{ForwardFill: b.opts.ForwardFill})
	if err != nil {
		return nil, fmt.Errorf("failed to compute returns: %w", err)
	}

	if returns.Dropped > 0 {
		b.log.Warn().
			Int("dropped_periods", returns.Dropped).
			Int("kept_periods", returns.Periods()).
			Msg("Dropped periods with missing returns")
	}

	rankDeficient := false
	if err := CheckRank(returns); err != nil {
		if !b.opts.AllowRankDeficient {
			return nil, err
		}
		rankDeficient = true
		b.log.Warn().
			Int("periods", returns.Periods()).
			Int("instruments", len(ids)).
			Msg("Covariance matrix is rank deficient, optimum may not be unique")
	}

	cov, err := CovarianceMatrix(returns)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate covariance: %w", err)
	}

	intensity := 0.0
	switch {
	case b.opts.Shrinkage < 0:
		intensity = LedoitWolfIntensity(returns)
	case b.opts.Shrinkage > 0:
		intensity = math.Min(b.opts.Shrinkage, 1)
	}
	if intensity > 0 {
		cov = ShrinkCovariance(cov, intensity)
	}

	b.log.Info().
		Int("instruments", len(ids)).
		Int("periods", returns.Periods()).
		Float64("shrinkage", intensity).
		Msg("Built return statistics")

	return &Statistics{
		Returns:       returns,
		Covariance:    cov,
		TotalReturns:  TotalReturns(returns),
		Shrinkage:     intensity,
		RankDeficient: rankDeficient,
		Anomalies:     anomalies,
	}, nil
}
