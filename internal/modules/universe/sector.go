package universe

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aristath/esgfolio/internal/utils"
)

// Impact weight range
const (
	MinImpactWeight = 0.0
	MaxImpactWeight = 10.0
)

var (
	// ErrMalformedClassification is returned when a classification label
	// does not end in a "(NN.NN)" division code.
	ErrMalformedClassification = errors.New("malformed classification label")
	// ErrInvalidImpactWeight is returned for impact weights outside [0,10].
	ErrInvalidImpactWeight = errors.New("impact weight out of range")
)

// ExtractSectorCode returns the two-digit business-division code embedded in
// a classification label. The code sits at positions [-6,-4) of the label:
//
//	"Construction of buildings (NACE) (41.10)" -> "41"
//
// The label must end in "NN.NN)"; anything else is rejected.
func ExtractSectorCode(classification string) (string, error) {
	s := strings.TrimSpace(classification)
	n := len(s)
	if n < 6 {
		return SectorUnknown, fmt.Errorf("%w: %q is too short", ErrMalformedClassification, classification)
	}

	tail := s[n-6:]
	if !isDigit(tail[0]) || !isDigit(tail[1]) || tail[2] != '.' ||
		!isDigit(tail[3]) || !isDigit(tail[4]) || tail[5] != ')' {
		return SectorUnknown, fmt.Errorf("%w: %q does not end in a (NN.NN) code", ErrMalformedClassification, classification)
	}

	return tail[:2], nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// ImpactTable is an immutable mapping from sector code to impact weight.
// Codes missing from the table have impact weight 0.
type ImpactTable struct {
	weights map[string]float64
}

// NewImpactTable copies and validates the given weights.
func NewImpactTable(weights map[string]float64) (ImpactTable, error) {
	copied := make(map[string]float64, len(weights))
	for code, w := range weights {
		if math.IsNaN(w) || w < MinImpactWeight || w > MaxImpactWeight {
			return ImpactTable{}, fmt.Errorf("%w: sector %s has weight %g", ErrInvalidImpactWeight, code, w)
		}
		copied[strings.TrimSpace(code)] = w
	}
	return ImpactTable{weights: copied}, nil
}

// ParseImpactTable parses the "code:weight, code:weight" configuration format.
func ParseImpactTable(s string) (ImpactTable, error) {
	pairs, err := utils.ParseFloatPairs(s)
	if err != nil {
		return ImpactTable{}, fmt.Errorf("failed to parse impact table: %w", err)
	}
	return NewImpactTable(pairs)
}

// Weight returns the impact weight for a sector code. The second result is
// false when the code is not in the table and the weight defaulted to 0.
func (t ImpactTable) Weight(code string) (float64, bool) {
	w, ok := t.weights[code]
	return w, ok
}

// Len returns the number of mapped sector codes.
func (t ImpactTable) Len() int {
	return len(t.weights)
}

// Codes returns the mapped sector codes in ascending order.
func (t ImpactTable) Codes() []string {
	codes := make([]string, 0, len(t.weights))
	for code := range t.weights {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
