package runs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/esgfolio/internal/database"
	"github.com/aristath/esgfolio/internal/modules/optimization"
	"github.com/aristath/esgfolio/internal/modules/universe"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Name: "runs",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	return NewRepository(db.Conn(), zerolog.Nop())
}

func testReport(createdAt time.Time, converged bool) *optimization.Report {
	return &optimization.Report{
		ID:            uuid.New().String(),
		CreatedAt:     createdAt,
		InstrumentIDs: []string{"A", "B"},
		Excluded:      []universe.Exclusion{{ID: "C", Reason: universe.ReasonBelowESGBound}},
		Periods:       120,
		Coefficients:  optimization.DefaultCoefficients(),
		Strategies: []optimization.StrategyResult{
			{
				Strategy: optimization.StrategyMinVolatility,
				Result: &optimization.Result{
					Weights:    []float64{0.5, 0.5},
					Converged:  true,
					Status:     optimize.GradientThreshold,
					Iterations: 3,
					Objective:  0.5,
				},
				Metrics: optimization.Metrics{Risk: 0.5, ESG: 85},
				Weights: map[string]float64{"A": 0.5, "B": 0.5},
			},
			{
				Strategy: optimization.StrategyESGBalanced,
				Result: &optimization.Result{
					Weights:   []float64{0.3, 0.7},
					Converged: converged,
					Status:    optimize.IterationLimit,
				},
				Metrics: optimization.Metrics{Risk: 0.58, ESG: 87},
				Weights: map[string]float64{"A": 0.3, "B": 0.7},
			},
		},
		Correlations: []optimization.CorrelationPair{{ID1: "A", ID2: "B", Correlation: 0.9}},
	}
}

func TestRepository_SaveAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	report := testReport(time.Now().UTC(), true)

	require.NoError(t, repo.Save(ctx, report))

	got, err := repo.Get(ctx, report.ID)
	require.NoError(t, err)

	assert.Equal(t, report.ID, got.ID)
	assert.True(t, report.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, report.InstrumentIDs, got.InstrumentIDs)
	assert.Equal(t, report.Excluded, got.Excluded)
	assert.Equal(t, report.Coefficients, got.Coefficients)
	assert.Equal(t, report.Correlations, got.Correlations)
	require.Len(t, got.Strategies, 2)
	assert.Equal(t, report.Strategies[0].Result.Weights, got.Strategies[0].Result.Weights)
	assert.Equal(t, optimize.GradientThreshold, got.Strategies[0].Result.Status)
	assert.Equal(t, report.Strategies[1].Weights, got.Strategies[1].Weights)
}

func TestRepository_GetNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Strategies(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_SaveDuplicateFails(t *testing.T) {
	repo := newTestRepository(t)
	report := testReport(time.Now().UTC(), true)

	require.NoError(t, repo.Save(context.Background(), report))
	assert.Error(t, repo.Save(context.Background(), report))
}

func TestRepository_SaveRejectsReportWithoutID(t *testing.T) {
	repo := newTestRepository(t)
	assert.Error(t, repo.Save(context.Background(), &optimization.Report{}))
	assert.Error(t, repo.Save(context.Background(), nil))
}

func TestRepository_List(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	older := testReport(base, true)
	newer := testReport(base.Add(time.Hour), false)
	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))

	summaries, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, newer.ID, summaries[0].ID)
	assert.False(t, summaries[0].AllConverged)
	assert.Equal(t, older.ID, summaries[1].ID)
	assert.True(t, summaries[1].AllConverged)
	assert.True(t, base.Equal(summaries[1].CreatedAt))
	assert.Equal(t, 2, summaries[1].InstrumentCount)
	assert.Equal(t, 120, summaries[1].Periods)
	assert.Equal(t, optimization.DefaultCoefficients(), summaries[1].Coefficients)

	limited, err := repo.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer.ID, limited[0].ID)
}

func TestRepository_Strategies(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	report := testReport(time.Now().UTC(), false)
	require.NoError(t, repo.Save(ctx, report))

	records, err := repo.Strategies(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Ordered by strategy name.
	assert.Equal(t, optimization.StrategyESGBalanced, records[0].Strategy)
	assert.False(t, records[0].Converged)
	assert.Equal(t, optimize.IterationLimit.String(), records[0].Status)
	assert.Equal(t, map[string]float64{"A": 0.3, "B": 0.7}, records[0].Weights)
	assert.Equal(t, 87.0, records[0].Metrics.ESG)

	assert.Equal(t, optimization.StrategyMinVolatility, records[1].Strategy)
	assert.True(t, records[1].Converged)
	assert.Equal(t, 3, records[1].Iterations)
}
