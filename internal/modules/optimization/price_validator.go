package optimization

import (
	"math"

	"github.com/rs/zerolog"
)

const (
	// Validation thresholds
	maxPriceMultiplier    = 10.0   // Close > 10x recent average is abnormal
	minPriceMultiplier    = 0.1    // Close < 0.1x recent average is abnormal
	maxPriceChangePercent = 1000.0 // >1000% change is a spike
	minPriceChangePercent = -90.0  // <-90% change is a crash
	contextWindow         = 30     // Closes used for the recent average
)

// Anomaly reasons
const (
	AnomalyNonPositive = "non_positive"
	AnomalySpike       = "spike_detected"
	AnomalyCrash       = "crash_detected"
	AnomalyTooHigh     = "price_too_high"
	AnomalyTooLow      = "price_too_low"
)

// PriceAnomaly records a close that was screened out.
type PriceAnomaly struct {
	ID     string  `json:"id" msgpack:"id"`
	Date   string  `json:"date" msgpack:"date"`
	Close  float64 `json:"close" msgpack:"close"`
	Reason string  `json:"reason" msgpack:"reason"`
}

// PriceValidator flags abnormal closes so they count as missing.
type PriceValidator struct {
	log zerolog.Logger
}

// NewPriceValidator creates a new price validator
func NewPriceValidator(log zerolog.Logger) *PriceValidator {
	return &PriceValidator{
		log: log.With().Str("component", "price_validator").Logger(),
	}
}

// ValidateClose checks a close against recently accepted closes, most recent
// first. Returns (isValid, reason).
func (v *PriceValidator) ValidateClose(price float64, context []float64) (bool, string) {
	if price <= 0 {
		return false, AnomalyNonPositive
	}
	if len(context) == 0 {
		return true, ""
	}

	// Day-over-day change takes priority over the average checks
	if prev := context[0]; prev > 0 {
		changePercent := (price - prev) / prev * 100.0
		if changePercent > maxPriceChangePercent {
			return false, AnomalySpike
		}
		if changePercent < minPriceChangePercent {
			return false, AnomalyCrash
		}
	}

	recent := context
	if len(recent) > contextWindow {
		recent = recent[:contextWindow]
	}
	var sum float64
	for _, c := range recent {
		sum += c
	}
	avg := sum / float64(len(recent))

	if price > avg*maxPriceMultiplier {
		return false, AnomalyTooHigh
	}
	if price < avg*minPriceMultiplier {
		return false, AnomalyTooLow
	}
	return true, ""
}

// Screen returns a copy of prices in which abnormal closes of the given
// instruments are replaced by NaN, along with the closes it rejected.
// Instruments absent from prices are left for ComputeReturns to report.
func (v *PriceValidator) Screen(prices PriceHistory, ids []string) (PriceHistory, []PriceAnomaly) {
	screened := PriceHistory{
		Dates:  prices.Dates,
		Closes: make(map[string][]float64, len(prices.Closes)),
	}
	for id, closes := range prices.Closes {
		screened.Closes[id] = closes
	}

	var anomalies []PriceAnomaly
	for _, id := range ids {
		closes, ok := prices.Closes[id]
		if !ok {
			continue
		}

		out := make([]float64, len(closes))
		context := make([]float64, 0, contextWindow)
		for t, c := range closes {
			out[t] = c
			if math.IsNaN(c) {
				continue
			}
			valid, reason := v.ValidateClose(c, context)
			if !valid {
				out[t] = math.NaN()
				date := ""
				if t < len(prices.Dates) {
					date = prices.Dates[t]
				}
				anomalies = append(anomalies, PriceAnomaly{ID: id, Date: date, Close: c, Reason: reason})
				continue
			}
			// Most recent first, capped at the context window.
			if len(context) < contextWindow {
				context = append(context, 0)
			}
			copy(context[1:], context[:len(context)-1])
			context[0] = c
		}
		screened.Closes[id] = out
	}

	if len(anomalies) > 0 {
		v.log.Warn().
			Int("anomalies", len(anomalies)).
			Msg("Screened abnormal closes out of price history")
	}

	return screened, anomalies
}
