package optimization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// randomReturns builds k correlated series of t periods.
func randomReturns(k, t int, seed int64) ReturnSeries {
	rng := rand.New(rand.NewSource(seed))
	r := ReturnSeries{
		IDs:    make([]string, k),
		Values: make([][]float64, k),
	}
	market := make([]float64, t)
	for i := range market {
		market[i] = 0.01 * rng.NormFloat64()
	}
	for j := 0; j < k; j++ {
		r.IDs[j] = string(rune('A' + j))
		r.Values[j] = make([]float64, t)
		beta := 0.5 + 0.2*float64(j)
		for i := 0; i < t; i++ {
			r.Values[j][i] = beta*market[i] + 0.01*rng.NormFloat64()
		}
	}
	return r
}

func TestCovarianceMatrix_ShapeAndSymmetry(t *testing.T) {
	for _, k := range []int{1, 2, 5, 8} {
		r := randomReturns(k, 60, int64(k))

		cov, err := CovarianceMatrix(r)
		require.NoError(t, err)

		rows, cols := cov.Dims()
		assert.Equal(t, k, rows)
		assert.Equal(t, k, cols)
		assert.True(t, mat.EqualApprox(cov, cov.T(), 1e-15), "covariance must equal its transpose")

		for i := 0; i < k; i++ {
			assert.GreaterOrEqual(t, cov.At(i, i), 0.0)
			for j := 0; j < k; j++ {
				assert.InDelta(t, stat.Covariance(r.Values[i], r.Values[j], nil), cov.At(i, j), 1e-15)
			}
		}
	}
}

func TestCovarianceMatrix_Errors(t *testing.T) {
	_, err := CovarianceMatrix(ReturnSeries{})
	assert.ErrorIs(t, err, ErrNoInstruments)

	_, err = CovarianceMatrix(ReturnSeries{IDs: []string{"A"}, Values: [][]float64{{0.1}}})
	assert.ErrorIs(t, err, ErrInsufficientPeriods)

	_, err = CovarianceMatrix(ReturnSeries{
		IDs:    []string{"A", "B"},
		Values: [][]float64{{0.1, 0.2}, {0.1}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCheckRank(t *testing.T) {
	assert.ErrorIs(t, CheckRank(randomReturns(3, 3, 1)), ErrRankDeficient)
	assert.ErrorIs(t, CheckRank(randomReturns(4, 2, 1)), ErrRankDeficient)
	assert.NoError(t, CheckRank(randomReturns(3, 4, 1)))
}

func TestShrinkCovariance(t *testing.T) {
	// Standard deviations 2, 1, 1 and correlations 0.5, 0, 0.2.
	cov := mat.NewSymDense(3, []float64{
		4, 1, 0,
		1, 1, 0.2,
		0, 0.2, 1,
	})
	avgCorr := (0.5 + 0 + 0.2) / 3

	t.Run("zero intensity keeps the sample", func(t *testing.T) {
		assert.True(t, mat.EqualApprox(cov, ShrinkCovariance(cov, 0), 1e-15))
	})

	t.Run("full intensity is the constant-correlation target", func(t *testing.T) {
		target := ShrinkCovariance(cov, 1)
		assert.InDelta(t, 4.0, target.At(0, 0), 1e-15)
		assert.InDelta(t, avgCorr*2, target.At(0, 1), 1e-12)
		assert.InDelta(t, avgCorr*2, target.At(0, 2), 1e-12)
		assert.InDelta(t, avgCorr, target.At(1, 2), 1e-12)
	})

	t.Run("half intensity blends", func(t *testing.T) {
		shrunk := ShrinkCovariance(cov, 0.5)
		assert.InDelta(t, (1+avgCorr*2)/2, shrunk.At(0, 1), 1e-12)
		assert.InDelta(t, 1.0, shrunk.At(1, 1), 1e-15)
	})

	t.Run("intensity is clamped", func(t *testing.T) {
		assert.True(t, mat.EqualApprox(ShrinkCovariance(cov, 1), ShrinkCovariance(cov, 3), 1e-15))
	})
}

func TestLedoitWolfIntensity(t *testing.T) {
	assert.Zero(t, LedoitWolfIntensity(randomReturns(1, 50, 1)))

	for seed := int64(1); seed <= 5; seed++ {
		delta := LedoitWolfIntensity(randomReturns(6, 40, seed))
		assert.GreaterOrEqual(t, delta, 0.0)
		assert.LessOrEqual(t, delta, 1.0)
		assert.False(t, math.IsNaN(delta))
	}

	// A constant series has no variance and no defined correlation.
	r := randomReturns(2, 20, 3)
	r.Values[1] = make([]float64, 20)
	assert.Zero(t, LedoitWolfIntensity(r))
}

func TestHighCorrelations(t *testing.T) {
	cov := mat.NewSymDense(3, []float64{
		1, 0.9, 0.1,
		0.9, 1, -0.85,
		0.1, -0.85, 1,
	})

	pairs := HighCorrelations(cov, []string{"A", "B", "C"}, HighCorrelationThreshold)
	require.Len(t, pairs, 2)
	assert.Equal(t, CorrelationPair{ID1: "A", ID2: "B", Correlation: 0.9}, pairs[0])
	assert.Equal(t, "B", pairs[1].ID1)
	assert.Equal(t, "C", pairs[1].ID2)
	assert.InDelta(t, -0.85, pairs[1].Correlation, 1e-12)

	assert.Empty(t, HighCorrelations(cov, []string{"A"}, 0.5))
}

func TestStatisticsBuilder_Build(t *testing.T) {
	prices := PriceHistory{
		Dates: []string{"d0", "d1", "d2", "d3", "d4"},
		Closes: map[string][]float64{
			"A": {100, 101, 99, 102, 103},
			"B": {50, 52, 51, 50, 53},
		},
	}

	builder := NewStatisticsBuilder(StatisticsOptions{}, zerolog.Nop())
	stats, err := builder.Build(prices, []string{"A", "B"})
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Returns.Periods())
	assert.Equal(t, 2, stats.Covariance.SymmetricDim())
	assert.Len(t, stats.TotalReturns, 2)
	assert.Zero(t, stats.Shrinkage)
	assert.False(t, stats.RankDeficient)
}

func TestStatisticsBuilder_RankDeficiency(t *testing.T) {
	prices := PriceHistory{
		Dates: []string{"d0", "d1", "d2", "d3"},
		Closes: map[string][]float64{
			"A": {100, 101, 99, 102},
			"B": {50, 52, 51, 50},
			"C": {20, 21, 23, 22},
		},
	}
	ids := []string{"A", "B", "C"}

	_, err := NewStatisticsBuilder(StatisticsOptions{}, zerolog.Nop()).Build(prices, ids)
	assert.ErrorIs(t, err, ErrRankDeficient)

	stats, err := NewStatisticsBuilder(StatisticsOptions{AllowRankDeficient: true}, zerolog.Nop()).Build(prices, ids)
	require.NoError(t, err)
	assert.True(t, stats.RankDeficient)
	assert.Equal(t, 3, stats.Covariance.SymmetricDim())
}

func TestStatisticsBuilder_Shrinkage(t *testing.T) {
	r := randomReturns(4, 30, 7)
	prices := PriceHistory{
		Dates:  make([]string, 31),
		Closes: make(map[string][]float64),
	}
	for i := range prices.Dates {
		prices.Dates[i] = string(rune('a' + i))
	}
	for k, id := range r.IDs {
		closes := make([]float64, 31)
		closes[0] = 100
		for i, ret := range r.Values[k] {
			closes[i+1] = closes[i] * (1 + ret)
		}
		prices.Closes[id] = closes
	}

	fixed, err := NewStatisticsBuilder(StatisticsOptions{Shrinkage: 0.3}, zerolog.Nop()).Build(prices, r.IDs)
	require.NoError(t, err)
	assert.Equal(t, 0.3, fixed.Shrinkage)

	estimated, err := NewStatisticsBuilder(StatisticsOptions{Shrinkage: -1}, zerolog.Nop()).Build(prices, r.IDs)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, estimated.Shrinkage, 0.0)
	assert.LessOrEqual(t, estimated.Shrinkage, 1.0)

	sample, err := CovarianceMatrix(estimated.Returns)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, sample.At(i, i), fixed.Covariance.At(i, i), 1e-15, "shrinkage keeps variances")
	}
}

func TestStatisticsBuilder_ScreenPrices(t *testing.T) {
	prices := PriceHistory{
		Dates: []string{"d0", "d1", "d2", "d3", "d4", "d5"},
		Closes: map[string][]float64{
			"A": {100, 101, 9999, 102, 103, 101},
			"B": {50, 52, 51, 50, 53, 54},
		},
	}
	ids := []string{"A", "B"}

	plain, err := NewStatisticsBuilder(StatisticsOptions{}, zerolog.Nop()).Build(prices, ids)
	require.NoError(t, err)
	assert.Equal(t, 5, plain.Returns.Periods())
	assert.Empty(t, plain.Anomalies)

	screened, err := NewStatisticsBuilder(StatisticsOptions{ScreenPrices: true}, zerolog.Nop()).Build(prices, ids)
	require.NoError(t, err)
	require.Len(t, screened.Anomalies, 1)
	assert.Equal(t, "d2", screened.Anomalies[0].Date)
	// The spike removes both returns that touch it.
	assert.Equal(t, 3, screened.Returns.Periods())
}
