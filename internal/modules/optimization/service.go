package optimization

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/esgfolio/internal/modules/universe"
	"github.com/aristath/esgfolio/internal/workers"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Strategy names one of the portfolios produced per run.
type Strategy string

const (
	StrategyMinVolatility     Strategy = "min_volatility"
	StrategyESGBalanced       Strategy = "esg_balanced"
	StrategyImpactESGBalanced Strategy = "impact_esg_balanced"
)

// Strategies returns every strategy in report order.
func Strategies() []Strategy {
	return []Strategy{StrategyMinVolatility, StrategyESGBalanced, StrategyImpactESGBalanced}
}

// ParseStrategy validates a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Coefficients are the tunable blend coefficients shared by the strategies.
// The defaults are illustrative, not calibrated.
type Coefficients struct {
	ReturnCoef    float64 `json:"return_coef" msgpack:"return_coef"`
	ESGCoef       float64 `json:"esg_coef" msgpack:"esg_coef"`
	ImpactESGCoef float64 `json:"impact_esg_coef" msgpack:"impact_esg_coef"`
}

// DefaultCoefficients returns the illustrative default coefficients.
func DefaultCoefficients() Coefficients {
	return Coefficients{
		ReturnCoef:    0.0002,
		ESGCoef:       0.00002,
		ImpactESGCoef: 0.00002,
	}
}

// Blend maps a strategy to its objective blend and rewarded score.
func (s Strategy) Blend(c Coefficients) (Blend, ScoreKind, error) {
	switch s {
	case StrategyMinVolatility:
		return MinVarianceBlend(), ScoreNone, nil
	case StrategyESGBalanced:
		return Blend{RiskWeight: 1, ReturnCoef: c.ReturnCoef, ScoreCoef: c.ESGCoef}, ScoreESG, nil
	case StrategyImpactESGBalanced:
		return Blend{RiskWeight: 1, ReturnCoef: c.ReturnCoef, ScoreCoef: c.ImpactESGCoef}, ScoreImpactESG, nil
	default:
		return Blend{}, "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// StrategyResult is one solved strategy with its metrics.
type StrategyResult struct {
	Strategy      Strategy           `json:"strategy" msgpack:"strategy"`
	Blend         Blend              `json:"blend" msgpack:"blend"`
	ScoreKind     ScoreKind          `json:"score_kind" msgpack:"score_kind"`
	Result        *Result            `json:"result" msgpack:"result"`
	Metrics       Metrics            `json:"metrics" msgpack:"metrics"`
	Weights       map[string]float64 `json:"weights" msgpack:"weights"`
	SectorWeights map[string]float64 `json:"sector_weights" msgpack:"sector_weights"`
}

// Report is the outcome of one optimization run.
type Report struct {
	ID            string               `json:"id" msgpack:"id"`
	CreatedAt     time.Time            `json:"created_at" msgpack:"created_at"`
	InstrumentIDs []string             `json:"instrument_ids" msgpack:"instrument_ids"`
	Excluded      []universe.Exclusion `json:"excluded" msgpack:"excluded"`
	Periods       int                  `json:"periods" msgpack:"periods"`
	Shrinkage     float64              `json:"shrinkage" msgpack:"shrinkage"`
	RankDeficient bool                 `json:"rank_deficient" msgpack:"rank_deficient"`
	Coefficients  Coefficients         `json:"coefficients" msgpack:"coefficients"`
	Strategies    []StrategyResult     `json:"strategies" msgpack:"strategies"`
	Correlations  []CorrelationPair    `json:"correlations" msgpack:"correlations"`
	Anomalies     []PriceAnomaly       `json:"price_anomalies,omitempty" msgpack:"price_anomalies"`
}

// Strategy looks up the result of one strategy.
func (r *Report) Strategy(s Strategy) (*StrategyResult, bool) {
	for i := range r.Strategies {
		if r.Strategies[i].Strategy == s {
			return &r.Strategies[i], true
		}
	}
	return nil, false
}

// AllConverged reports whether every strategy converged.
func (r *Report) AllConverged() bool {
	for _, s := range r.Strategies {
		if s.Result == nil || !s.Result.Converged {
			return false
		}
	}
	return true
}

// Service runs the three strategies over a universe.
type Service struct {
	statistics *StatisticsBuilder
	optimizer  *Optimizer
	pool       *workers.Pool
	log        zerolog.Logger
}

// NewService creates a new optimization service.
func NewService(statistics *StatisticsBuilder, optimizer *Optimizer, pool *workers.Pool, log zerolog.Logger) *Service {
	return &Service{
		statistics: statistics,
		optimizer:  optimizer,
		pool:       pool,
		log:        log.With().Str("service", "optimization").Logger(),
	}
}

// Run builds statistics for the universe once, then solves every strategy in
// parallel. Non-converged strategies stay in the report with Converged=false.
func (s *Service) Run(ctx context.Context, u *universe.Universe, prices PriceHistory, coefs Coefficients) (*Report, error) {
	if u == nil || u.Len() == 0 {
		return nil, ErrNoInstruments
	}
	ids := u.IDs()

	stats, err := s.statistics.Build(prices, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build statistics: %w", err)
	}

	strategies := Strategies()
	results := make([]StrategyResult, len(strategies))
	jobs := make([]workers.Job, len(strategies))
	for i, strategy := range strategies {
		i, strategy := i, strategy
		jobs[i] = func(ctx context.Context) error {
			res, err := s.Solve(ctx, strategy, u, stats.Covariance, stats.TotalReturns, coefs)
			if err != nil {
				return fmt.Errorf("strategy %s: %w", strategy, err)
			}
			results[i] = *res
			return nil
		}
	}
	if err := s.pool.Run(ctx, jobs); err != nil {
		return nil, err
	}

	report := &Report{
		ID:            uuid.New().String(),
		CreatedAt:     time.Now().UTC(),
		InstrumentIDs: ids,
		Excluded:      u.Excluded(),
		Periods:       stats.Returns.Periods(),
		Shrinkage:     stats.Shrinkage,
		RankDeficient: stats.RankDeficient,
		Coefficients:  coefs,
		Strategies:    results,
		Correlations:  HighCorrelations(stats.Covariance, ids, HighCorrelationThreshold),
		Anomalies:     stats.Anomalies,
	}

	s.log.Info().
		Str("run_id", report.ID).
		Int("instruments", len(ids)).
		Int("periods", report.Periods).
		Bool("all_converged", report.AllConverged()).
		Msg("Optimization run complete")

	return report, nil
}

// Solve runs a single strategy against precomputed statistics.
func (s *Service) Solve(
	ctx context.Context,
	strategy Strategy,
	u *universe.Universe,
	cov mat.Symmetric,
	totalReturn []float64,
	coefs Coefficients,
) (*StrategyResult, error) {
	blend, kind, err := strategy.Blend(coefs)
	if err != nil {
		return nil, err
	}

	var score []float64
	switch kind {
	case ScoreESG:
		score = u.ESGScores()
	case ScoreImpactESG:
		score = u.ImpactESGScores()
	}

	objective, err := BuildObjective(cov, totalReturn, score, blend)
	if err != nil {
		return nil, fmt.Errorf("failed to build objective: %w", err)
	}

	result, err := s.optimizer.Optimize(ctx, objective, u.Len(), nil)
	if err != nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}
	if !result.Converged {
		s.log.Warn().
			Str("strategy", string(strategy)).
			Str("status", result.Status.String()).
			Msg("Strategy did not converge, weights are approximate")
	}

	metrics, err := Evaluate(result.Weights, cov, totalReturn, u.ESGScores(), u.ImpactESGScores())
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate metrics: %w", err)
	}

	weighted, err := u.AttachWeights(result.Weights)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, u.Len())
	for _, inst := range weighted.Instruments() {
		weights[inst.ID] = inst.Weight
	}

	sectors, err := u.SectorWeights(result.Weights)
	if err != nil {
		return nil, err
	}

	return &StrategyResult{
		Strategy:      strategy,
		Blend:         blend,
		ScoreKind:     kind,
		Result:        result,
		Metrics:       metrics,
		Weights:       weights,
		SectorWeights: sectors,
	}, nil
}
