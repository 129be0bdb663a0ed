package di

import (
	"fmt"

	"github.com/aristath/esgfolio/internal/config"
	"github.com/aristath/esgfolio/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/esgfolio/internal/modules/optimization/handlers"
	"github.com/aristath/esgfolio/internal/modules/universe"
	"github.com/aristath/esgfolio/internal/workers"
	"github.com/rs/zerolog"
)

// InitializeServices creates services and handlers from configuration
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	table, err := cfg.ImpactTable()
	if err != nil {
		return fmt.Errorf("invalid impact table: %w", err)
	}
	if table.Len() == 0 {
		log.Warn().Msg("Impact table is empty, every impact-ESG score will be 0")
	}
	container.ScoreProvider = universe.NewProvider(table, cfg.Universe.ESGLowerBound, log)

	container.StatisticsBuilder = optimization.NewStatisticsBuilder(optimization.StatisticsOptions{
		ForwardFill:        cfg.Statistics.ForwardFill,
		AllowRankDeficient: cfg.Statistics.AllowRankDeficient,
		Shrinkage:          cfg.Statistics.Shrinkage,
		ScreenPrices:       cfg.Statistics.ScreenPrices,
	}, log)

	container.Optimizer = optimization.NewOptimizer(optimization.Settings{
		Method:        optimization.Method(cfg.Solver.Method),
		MaxIterations: cfg.Solver.MaxIterations,
		Tolerance:     cfg.Solver.Tolerance,
		Runtime:       cfg.Solver.Timeout,
		MaxWeight:     cfg.Solver.MaxWeight,
	}, log)

	container.WorkerPool = workers.NewPool(cfg.Workers)

	container.OptimizationService = optimization.NewService(
		container.StatisticsBuilder,
		container.Optimizer,
		container.WorkerPool,
		log,
	)

	container.DefaultCoefficients = optimization.Coefficients{
		ReturnCoef:    cfg.Blend.ReturnCoef,
		ESGCoef:       cfg.Blend.ESGCoef,
		ImpactESGCoef: cfg.Blend.ImpactESGCoef,
	}

	container.OptimizationHandler = optimizationhandlers.NewHandler(
		container.ScoreProvider,
		container.OptimizationService,
		container.RunRepo,
		container.DefaultCoefficients,
		log,
	)

	log.Info().
		Str("method", cfg.Solver.Method).
		Int("workers", container.WorkerPool.Size()).
		Int("impact_sectors", table.Len()).
		Msg("Optimization services initialized")

	return nil
}
