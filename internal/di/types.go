// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/esgfolio/internal/database"
	"github.com/aristath/esgfolio/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/esgfolio/internal/modules/optimization/handlers"
	"github.com/aristath/esgfolio/internal/modules/runs"
	"github.com/aristath/esgfolio/internal/modules/universe"
	"github.com/aristath/esgfolio/internal/workers"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	RunsDB *database.DB

	// Repositories
	RunRepo *runs.Repository

	// Services
	ScoreProvider       *universe.Provider
	StatisticsBuilder   *optimization.StatisticsBuilder
	Optimizer           *optimization.Optimizer
	WorkerPool          *workers.Pool
	OptimizationService *optimization.Service
	DefaultCoefficients optimization.Coefficients

	// Handlers
	OptimizationHandler *optimizationhandlers.Handler
}

// Close releases container resources
func (c *Container) Close() error {
	if c.RunsDB == nil {
		return nil
	}
	return c.RunsDB.Close()
}
