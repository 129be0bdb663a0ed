package universe

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

var (
	// ErrEmptyUniverse is returned when filtering leaves no instruments.
	ErrEmptyUniverse = errors.New("empty universe")
	// ErrEmptyID is returned when an instrument has no ID.
	ErrEmptyID = errors.New("instrument with empty ID")
	// ErrDuplicateInstrument is returned when two instruments share an ID.
	ErrDuplicateInstrument = errors.New("duplicate instrument")
	// ErrWeightMismatch is returned when a weight vector does not match the universe size.
	ErrWeightMismatch = errors.New("weight vector does not match universe")
)

// Provider derives instrument attributes (sector code, impact weight,
// impact-ESG score) and admits instruments into a Universe.
type Provider struct {
	table         ImpactTable
	esgLowerBound float64
	log           zerolog.Logger
}

// NewProvider creates a Score Provider with an injected impact table.
func NewProvider(table ImpactTable, esgLowerBound float64, log zerolog.Logger) *Provider {
	return &Provider{
		table:         table,
		esgLowerBound: esgLowerBound,
		log:           log.With().Str("component", "score_provider").Logger(),
	}
}

// ImpactWeight returns the impact weight for a sector code. Unmapped codes
// get weight 0; this is policy, not an error, and is logged at debug level.
func (p *Provider) ImpactWeight(code string) float64 {
	w, ok := p.table.Weight(code)
	if !ok {
		p.log.Debug().
			Str("sector", code).
			Msg("Sector not in impact table, defaulting impact weight to 0")
		return 0
	}
	return w
}

// ImpactESGScore computes impactWeight(sector) * (ESG - lower bound).
func (p *Provider) ImpactESGScore(inst Instrument) float64 {
	return p.ImpactWeight(inst.SectorCode) * (inst.ESGScore - p.esgLowerBound)
}

// Build admits raw instruments with ESG >= lower bound and a valid sector
// code. Input order is preserved. Rejected instruments are listed in
// Universe.Excluded.
func (p *Provider) Build(raw []RawInstrument) (*Universe, error) {
	instruments := make([]Instrument, 0, len(raw))
	var excluded []Exclusion
	seen := make(map[string]bool, len(raw))
	unmapped := 0

	for _, r := range raw {
		if r.ID == "" {
			return nil, ErrEmptyID
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInstrument, r.ID)
		}
		seen[r.ID] = true

		if math.IsNaN(r.ESGScore) {
			excluded = append(excluded, Exclusion{ID: r.ID, Reason: ReasonMissingESG})
			continue
		}
		if r.ESGScore < p.esgLowerBound {
			excluded = append(excluded, Exclusion{ID: r.ID, Reason: ReasonBelowESGBound})
			continue
		}

		code, err := ExtractSectorCode(r.Classification)
		if err != nil {
			p.log.Warn().
				Str("id", r.ID).
				Err(err).
				Msg("Excluding instrument without sector code")
			excluded = append(excluded, Exclusion{ID: r.ID, Reason: ReasonNoSectorCode})
			continue
		}

		if _, ok := p.table.Weight(code); !ok {
			unmapped++
		}

		inst := Instrument{
			ID:         r.ID,
			Name:       r.Name,
			ESGScore:   r.ESGScore,
			SectorCode: code,
		}
		inst.ImpactWeight = p.ImpactWeight(code)
		inst.ImpactESG = p.ImpactESGScore(inst)
		instruments = append(instruments, inst)
	}

	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: all %d instruments rejected (ESG lower bound %.2f)",
			ErrEmptyUniverse, len(raw), p.esgLowerBound)
	}

	if unmapped > 0 {
		p.log.Info().
			Int("unmapped_sectors", unmapped).
			Msg("Instruments in sectors without impact weight use impact weight 0")
	}

	p.log.Info().
		Int("admitted", len(instruments)).
		Int("excluded", len(excluded)).
		Float64("esg_lower_bound", p.esgLowerBound).
		Msg("Built universe")

	u, err := NewUniverse(instruments)
	if err != nil {
		return nil, err
	}
	u.excluded = excluded
	return u, nil
}

// Universe is an ordered, immutable set of instruments. All vectors it
// returns follow the same order.
type Universe struct {
	instruments []Instrument
	index       map[string]int
	excluded    []Exclusion
}

// NewUniverse builds a universe from already-derived instruments.
func NewUniverse(instruments []Instrument) (*Universe, error) {
	if len(instruments) == 0 {
		return nil, ErrEmptyUniverse
	}
	u := &Universe{
		instruments: make([]Instrument, len(instruments)),
		index:       make(map[string]int, len(instruments)),
	}
	for i, inst := range instruments {
		if _, dup := u.index[inst.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInstrument, inst.ID)
		}
		u.index[inst.ID] = i
		u.instruments[i] = inst
	}
	return u, nil
}

// Len returns the number of instruments (K).
func (u *Universe) Len() int {
	return len(u.instruments)
}

// IDs returns the instrument IDs in universe order.
func (u *Universe) IDs() []string {
	ids := make([]string, len(u.instruments))
	for i, inst := range u.instruments {
		ids[i] = inst.ID
	}
	return ids
}

// Instruments returns a copy of the instruments.
func (u *Universe) Instruments() []Instrument {
	out := make([]Instrument, len(u.instruments))
	copy(out, u.instruments)
	return out
}

// Instrument looks up an instrument by ID.
func (u *Universe) Instrument(id string) (Instrument, bool) {
	i, ok := u.index[id]
	if !ok {
		return Instrument{}, false
	}
	return u.instruments[i], true
}

// Excluded returns the instruments rejected while building the universe.
func (u *Universe) Excluded() []Exclusion {
	out := make([]Exclusion, len(u.excluded))
	copy(out, u.excluded)
	return out
}

// ESGScores returns the ESG score vector.
func (u *Universe) ESGScores() []float64 {
	out := make([]float64, len(u.instruments))
	for i, inst := range u.instruments {
		out[i] = inst.ESGScore
	}
	return out
}

// ImpactESGScores returns the impact-ESG score vector.
func (u *Universe) ImpactESGScores() []float64 {
	out := make([]float64, len(u.instruments))
	for i, inst := range u.instruments {
		out[i] = inst.ImpactESG
	}
	return out
}

// AttachWeights returns a copy of the universe whose instruments carry the
// given weights. The receiver is left untouched.
func (u *Universe) AttachWeights(weights []float64) (*Universe, error) {
	if len(weights) != len(u.instruments) {
		return nil, fmt.Errorf("%w: %d weights for %d instruments", ErrWeightMismatch, len(weights), len(u.instruments))
	}
	weighted := &Universe{
		instruments: make([]Instrument, len(u.instruments)),
		index:       u.index,
		excluded:    u.excluded,
	}
	for i, inst := range u.instruments {
		inst.Weight = weights[i]
		weighted.instruments[i] = inst
	}
	return weighted, nil
}

// SectorWeights sums the weights of instruments sharing a sector code.
// Instruments without a code are grouped under "unknown".
func (u *Universe) SectorWeights(weights []float64) (map[string]float64, error) {
	if len(weights) != len(u.instruments) {
		return nil, fmt.Errorf("%w: %d weights for %d instruments", ErrWeightMismatch, len(weights), len(u.instruments))
	}
	sectors := make(map[string]float64)
	for i, inst := range u.instruments {
		code := inst.SectorCode
		if code == SectorUnknown {
			code = unknownSectorLabel
		}
		sectors[code] += weights[i]
	}
	return sectors, nil
}

// SectorCodes returns the distinct sector codes present, sorted.
func (u *Universe) SectorCodes() []string {
	set := make(map[string]bool)
	for _, inst := range u.instruments {
		set[inst.SectorCode] = true
	}
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
