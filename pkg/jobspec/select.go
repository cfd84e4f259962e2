package jobspec

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Select returns the specs whose names match any of patterns, preserving list
// order. An empty pattern list selects everything.
func Select(specs []JobSpec, patterns []string) ([]JobSpec, error) {
	if len(patterns) == 0 {
		return specs, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid job pattern: %q", p)
		}
	}

	out := make([]JobSpec, 0, len(specs))
	for _, s := range specs {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, s.Name); ok {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}
