// Package runs persists optimization reports.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/esgfolio/internal/database"
	"github.com/aristath/esgfolio/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit caps List when no positive limit is given.
const DefaultListLimit = 50

// Summary is the row-level view of a stored run.
type Summary struct {
	ID              string                    `json:"id"`
	CreatedAt       time.Time                 `json:"created_at"`
	InstrumentCount int                       `json:"instrument_count"`
	Periods         int                       `json:"periods"`
	AllConverged    bool                      `json:"all_converged"`
	Coefficients    optimization.Coefficients `json:"coefficients"`
}

// StrategyRecord is one stored strategy outcome.
type StrategyRecord struct {
	Strategy   optimization.Strategy `json:"strategy"`
	Converged  bool                  `json:"converged"`
	Status     string                `json:"status"`
	Iterations int                   `json:"iterations"`
	Objective  float64               `json:"objective"`
	Weights    map[string]float64    `json:"weights"`
	Metrics    optimization.Metrics  `json:"metrics"`
}

// Repository handles run database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new run repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// Save stores a report and one row per strategy in a single transaction.
func (r *Repository) Save(ctx context.Context, report *optimization.Report) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("report without ID")
	}

	reportBlob, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	coefBlob, err := msgpack.Marshal(report.Coefficients)
	if err != nil {
		return fmt.Errorf("failed to encode coefficients: %w", err)
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, created_at, instrument_count, periods, all_converged, coefficients, report)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			report.ID,
			report.CreatedAt.UnixMilli(),
			len(report.InstrumentIDs),
			report.Periods,
			boolToInt(report.AllConverged()),
			coefBlob,
			reportBlob,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for _, sr := range report.Strategies {
			if sr.Result == nil {
				continue
			}
			weights, err := msgpack.Marshal(sr.Weights)
			if err != nil {
				return fmt.Errorf("failed to encode weights for %s: %w", sr.Strategy, err)
			}
			metrics, err := msgpack.Marshal(sr.Metrics)
			if err != nil {
				return fmt.Errorf("failed to encode metrics for %s: %w", sr.Strategy, err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO run_strategies (run_id, strategy, converged, status, iterations, objective, weights, metrics)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				report.ID,
				string(sr.Strategy),
				boolToInt(sr.Result.Converged),
				sr.Result.Status.String(),
				sr.Result.Iterations,
				sr.Result.Objective,
				weights,
				metrics,
			)
			if err != nil {
				return fmt.Errorf("failed to insert strategy %s: %w", sr.Strategy, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().
		Str("run_id", report.ID).
		Int("strategies", len(report.Strategies)).
		Msg("Saved optimization run")
	return nil
}

// Get loads the full report of a run.
func (r *Repository) Get(ctx context.Context, id string) (*optimization.Report, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	var report optimization.Report
	if err := msgpack.Unmarshal(blob, &report); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &report, nil
}

// List returns the most recent runs, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, instrument_count, periods, all_converged, coefficients
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var (
			s         Summary
			createdAt int64
			converged int
			coefBlob  []byte
		)
		if err := rows.Scan(&s.ID, &createdAt, &s.InstrumentCount, &s.Periods, &converged, &coefBlob); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := msgpack.Unmarshal(coefBlob, &s.Coefficients); err != nil {
			return nil, fmt.Errorf("failed to decode coefficients of run %s: %w", s.ID, err)
		}
		s.CreatedAt = time.UnixMilli(createdAt).UTC()
		s.AllConverged = converged != 0
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return summaries, nil
}

// Strategies returns the stored strategy rows of a run.
func (r *Repository) Strategies(ctx context.Context, id string) ([]StrategyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT strategy, converged, status, iterations, objective, weights, metrics
		FROM run_strategies
		WHERE run_id = ?
		ORDER BY strategy`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	records := make([]StrategyRecord, 0)
	for rows.Next() {
		var (
			rec                      StrategyRecord
			strategy                 string
			converged                int
			weightsBlob, metricsBlob []byte
		)
		if err := rows.Scan(&strategy, &converged, &rec.Status, &rec.Iterations, &rec.Objective, &weightsBlob, &metricsBlob); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		if err := msgpack.Unmarshal(weightsBlob, &rec.Weights); err != nil {
			return nil, fmt.Errorf("failed to decode weights: %w", err)
		}
		if err := msgpack.Unmarshal(metricsBlob, &rec.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
		rec.Strategy = optimization.Strategy(strategy)
		rec.Converged = converged != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategies: %w", err)
	}

	if len(records) == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
