// Package main is the entry point for the esgfolio optimization server.
// It builds ESG-screened universes, estimates return statistics and solves
// three long-only portfolios per run (minimum volatility, ESG-balanced and
// impact-ESG-balanced), persisting each report.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/esgfolio/internal/config"
	"github.com/aristath/esgfolio/internal/di"
	"github.com/aristath/esgfolio/internal/server"
	"github.com/aristath/esgfolio/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Float64("esg_lower_bound", cfg.Universe.ESGLowerBound).
		Msg("Starting esgfolio")

	// Wire all dependencies: run store, repositories, optimization services
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:          log,
		DB:           container.RunsDB,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		Workers:      container.WorkerPool.Size(),
		Optimization: container.OptimizationHandler,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Give in-flight requests up to 10 seconds to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
