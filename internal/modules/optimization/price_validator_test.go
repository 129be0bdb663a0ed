package optimization

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceValidator_ValidateClose(t *testing.T) {
	v := NewPriceValidator(zerolog.Nop())

	tests := []struct {
		name    string
		close   float64
		context []float64
		valid   bool
		reason  string
	}{
		{"no context", 50, nil, true, ""},
		{"zero close", 0, []float64{10}, false, AnomalyNonPositive},
		{"negative close", -1, nil, false, AnomalyNonPositive},
		{"normal move", 10.5, []float64{10, 10, 10}, true, ""},
		{"spike", 150, []float64{10, 10}, false, AnomalySpike},
		{"crash", 0.5, []float64{10, 10}, false, AnomalyCrash},
		{"far above average", 95, append([]float64{90}, ones(19)...), false, AnomalyTooHigh},
		{"far below average", 1, []float64{1, 100, 100, 100}, false, AnomalyTooLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, reason := v.ValidateClose(tt.close, tt.context)
			assert.Equal(t, tt.valid, valid)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestPriceValidator_Screen(t *testing.T) {
	v := NewPriceValidator(zerolog.Nop())
	prices := PriceHistory{
		Dates: []string{"d0", "d1", "d2", "d3", "d4"},
		Closes: map[string][]float64{
			"A": {10, 10.2, 200, 10.4, 10.3},
			"B": {20, nan, 20.5, 0, 21},
			"C": {5, 5, 5, 5, 5},
		},
	}

	screened, anomalies := v.Screen(prices, []string{"A", "B"})

	require.Len(t, anomalies, 2)
	assert.Equal(t, PriceAnomaly{ID: "A", Date: "d2", Close: 200, Reason: AnomalySpike}, anomalies[0])
	assert.Equal(t, PriceAnomaly{ID: "B", Date: "d3", Close: 0, Reason: AnomalyNonPositive}, anomalies[1])

	assert.True(t, math.IsNaN(screened.Closes["A"][2]))
	assert.Equal(t, 10.4, screened.Closes["A"][3])
	assert.True(t, math.IsNaN(screened.Closes["B"][1]))
	assert.True(t, math.IsNaN(screened.Closes["B"][3]))
	assert.Equal(t, prices.Closes["C"], screened.Closes["C"])

	// Input is not modified.
	assert.Equal(t, 200.0, prices.Closes["A"][2])
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
