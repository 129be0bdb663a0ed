// Package universe builds the instrument universe fed to the optimizer:
// ESG filtering, sector codes and impact-weighted ESG scores.
package universe

// SectorUnknown marks an instrument without a usable sector code.
const SectorUnknown = ""

// unknownSectorLabel is the SectorWeights key for instruments without a code.
const unknownSectorLabel = "unknown"

// RawInstrument is an instrument as supplied by the data collaborator,
// before filtering and sector-code extraction.
type RawInstrument struct {
	ID             string  `json:"id"`
	Name           string  `json:"name,omitempty"`
	ESGScore       float64 `json:"esg_score"`
	Classification string  `json:"classification"` // e.g. "Construction of buildings (NACE) (41.10)"
}

// Instrument is a member of an optimization universe.
// Weight is zero until AttachWeights is called on the owning Universe.
type Instrument struct {
	ID           string  `json:"id"`
	Name         string  `json:"name,omitempty"`
	ESGScore     float64 `json:"esg_score"`
	SectorCode   string  `json:"sector_code"`
	ImpactWeight float64 `json:"impact_weight"`
	ImpactESG    float64 `json:"impact_esg"`
	Weight       float64 `json:"weight"`
}

// Exclusion records why a raw instrument was not admitted to the universe.
type Exclusion struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Exclusion reasons
const (
	ReasonBelowESGBound = "esg_below_bound"
	ReasonNoSectorCode  = "no_sector_code"
	ReasonMissingESG    = "missing_esg_score"
)
