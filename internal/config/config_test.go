package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ESG_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 70.0, cfg.Universe.ESGLowerBound)
	assert.Empty(t, cfg.Universe.ImpactWeights)
	table, err := cfg.ImpactTable()
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, "projected_gradient", cfg.Solver.Method)
	assert.Equal(t, 10000, cfg.Solver.MaxIterations)
	assert.Equal(t, 30*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, 1.0, cfg.Solver.MaxWeight)
	assert.Equal(t, DefaultReturnCoef, cfg.Blend.ReturnCoef)
	assert.Equal(t, DefaultESGCoef, cfg.Blend.ESGCoef)
	assert.Equal(t, DefaultImpactESGCoef, cfg.Blend.ImpactESGCoef)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ESG_DATA_DIR", t.TempDir())
	t.Setenv("ESG_LOWER_BOUND", "65")
	t.Setenv("IMPACT_WEIGHTS", "41:10, 42:8")
	t.Setenv("SOLVER_METHOD", "penalty")
	t.Setenv("SOLVER_TIMEOUT", "5s")
	t.Setenv("RETURN_COEF", "0.5")
	t.Setenv("ALLOW_RANK_DEFICIENT", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 65.0, cfg.Universe.ESGLowerBound)
	table, err := cfg.ImpactTable()
	require.NoError(t, err)
	assert.Equal(t, []string{"41", "42"}, table.Codes())
	w, ok := table.Weight("42")
	assert.True(t, ok)
	assert.Equal(t, 8.0, w)
	assert.Equal(t, "penalty", cfg.Solver.Method)
	assert.Equal(t, 5*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, 0.5, cfg.Blend.ReturnCoef)
	assert.True(t, cfg.Statistics.AllowRankDeficient)
}

func TestLoad_InvalidImpactWeights(t *testing.T) {
	t.Setenv("ESG_DATA_DIR", t.TempDir())
	t.Setenv("IMPACT_WEIGHTS", "41:high")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:     8001,
			Universe: UniverseConfig{ImpactWeights: "41:10"},
			Solver:   SolverConfig{Method: "projected_gradient", MaxIterations: 100, Tolerance: 1e-9, MaxWeight: 1},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"impact weight above 10", func(c *Config) { c.Universe.ImpactWeights = "41:11" }},
		{"negative impact weight", func(c *Config) { c.Universe.ImpactWeights = "41:-1" }},
		{"malformed impact weights", func(c *Config) { c.Universe.ImpactWeights = "41" }},
		{"unknown method", func(c *Config) { c.Solver.Method = "sqp" }},
		{"zero iterations", func(c *Config) { c.Solver.MaxIterations = 0 }},
		{"zero tolerance", func(c *Config) { c.Solver.Tolerance = 0 }},
		{"max weight above one", func(c *Config) { c.Solver.MaxWeight = 1.5 }},
		{"shrinkage above one", func(c *Config) { c.Statistics.Shrinkage = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
