// Package utils holds small parsing and timing helpers shared by the engine.
package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCSV splits a comma-separated string and returns trimmed non-empty values.
// Returns nil for empty/whitespace-only input.
func ParseCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	var result []string
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

// ParseFloatPairs parses "key:value" entries from a comma-separated list,
// e.g. "41:10, 42:7.5". Later duplicates overwrite earlier ones.
func ParseFloatPairs(s string) (map[string]float64, error) {
	pairs := make(map[string]float64)
	for _, entry := range ParseCSV(s) {
		key, raw, ok := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed entry %q: expected key:value", entry)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed value in entry %q: %w", entry, err)
		}
		pairs[key] = value
	}
	return pairs, nil
}
