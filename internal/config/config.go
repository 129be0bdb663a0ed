// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/esgfolio/internal/modules/universe"
)

// Default blend coefficients. They are illustrative magnitudes only and are
// meant to be tuned per universe.
const (
	DefaultReturnCoef    = 0.0002
	DefaultESGCoef       = 0.00002
	DefaultImpactESGCoef = 0.00002
)

// Config holds application configuration
type Config struct {
	DataDir  string // Directory for the run store (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	Universe   UniverseConfig
	Statistics StatisticsConfig
	Solver     SolverConfig
	Blend      BlendConfig
	Workers    int
}

// UniverseConfig holds Score Provider inputs.
type UniverseConfig struct {
	ESGLowerBound float64
	ImpactWeights string // "code:weight, code:weight", weights in [0,10]
}

// StatisticsConfig controls return and covariance estimation.
type StatisticsConfig struct {
	ForwardFill        bool
	AllowRankDeficient bool
	Shrinkage          float64 // 0 = none, (0,1] fixed, <0 estimated
	ScreenPrices       bool
}

// SolverConfig controls the constrained optimizer.
type SolverConfig struct {
	Method        string
	MaxIterations int
	Tolerance     float64
	Timeout       time.Duration
	MaxWeight     float64
}

// BlendConfig holds the objective coefficients for the balanced strategies.
type BlendConfig struct {
	ReturnCoef    float64
	ESGCoef       float64
	ImpactESGCoef float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ESG_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8001),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Universe: UniverseConfig{
			ESGLowerBound: getEnvAsFloat("ESG_LOWER_BOUND", 70),
			ImpactWeights: getEnv("IMPACT_WEIGHTS", ""),
		},
		Statistics: StatisticsConfig{
			ForwardFill:        getEnvAsBool("FORWARD_FILL", false),
			AllowRankDeficient: getEnvAsBool("ALLOW_RANK_DEFICIENT", false),
			Shrinkage:          getEnvAsFloat("COV_SHRINKAGE", 0),
			ScreenPrices:       getEnvAsBool("SCREEN_PRICES", false),
		},
		Solver: SolverConfig{
			Method:        getEnv("SOLVER_METHOD", "projected_gradient"),
			MaxIterations: getEnvAsInt("SOLVER_MAX_ITERATIONS", 10000),
			Tolerance:     getEnvAsFloat("SOLVER_TOLERANCE", 1e-10),
			Timeout:       getEnvAsDuration("SOLVER_TIMEOUT", 30*time.Second),
			MaxWeight:     getEnvAsFloat("SOLVER_MAX_WEIGHT", 1),
		},
		Blend: BlendConfig{
			ReturnCoef:    getEnvAsFloat("RETURN_COEF", DefaultReturnCoef),
			ESGCoef:       getEnvAsFloat("ESG_COEF", DefaultESGCoef),
			ImpactESGCoef: getEnvAsFloat("IMPACT_ESG_COEF", DefaultImpactESGCoef),
		},
		Workers: getEnvAsInt("WORKERS", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := c.ImpactTable(); err != nil {
		return err
	}
	switch c.Solver.Method {
	case "projected_gradient", "penalty":
	default:
		return fmt.Errorf("unknown solver method %q", c.Solver.Method)
	}
	if c.Solver.MaxIterations <= 0 {
		return fmt.Errorf("solver max iterations must be positive, got %d", c.Solver.MaxIterations)
	}
	if c.Solver.Tolerance <= 0 {
		return fmt.Errorf("solver tolerance must be positive, got %g", c.Solver.Tolerance)
	}
	if c.Solver.MaxWeight <= 0 || c.Solver.MaxWeight > 1 {
		return fmt.Errorf("solver max weight must be in (0,1], got %g", c.Solver.MaxWeight)
	}
	if c.Statistics.Shrinkage > 1 {
		return fmt.Errorf("covariance shrinkage must be <= 1, got %g", c.Statistics.Shrinkage)
	}
	return nil
}

// ImpactTable parses the configured sector impact weights.
func (c *Config) ImpactTable() (universe.ImpactTable, error) {
	table, err := universe.ParseImpactTable(c.Universe.ImpactWeights)
	if err != nil {
		return universe.ImpactTable{}, fmt.Errorf("invalid IMPACT_WEIGHTS: %w", err)
	}
	return table, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
