package providers

import (
	"fmt"
	"strconv"
	"strings"
)

// TierTable maps provider names to their precision tier (integer percent).
// Tiers are static labels assigned per provider, not measured accuracy.
type TierTable map[string]int

// DefaultTiers returns the built-in tier table
func DefaultTiers() TierTable {
	return TierTable{
		"google":           95,
		"mapbox":           92,
		"here":             90,
		"tomtom":           88,
		"openrouteservice": 85,
		"graphhopper":      82,
		"valhalla":         78,
		"osrm":             75,
	}
}

// ParseTiers parses "name=tier,name=tier" overrides.
// An empty string yields an empty table.
func ParseTiers(s string) (TierTable, error) {
	table := make(TierTable)
	s = strings.TrimSpace(s)
	if s == "" {
		return table, nil
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("invalid tier entry %q, expected name=tier", pair)
		}
		tier, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid tier for %s: %w", name, err)
		}
		if tier < 1 || tier > 100 {
			return nil, fmt.Errorf("%w: %s=%d", ErrInvalidTier, name, tier)
		}
		table[name] = tier
	}

	return table, nil
}

// Merge returns a copy of t with overrides applied
func (t TierTable) Merge(overrides TierTable) TierTable {
	merged := make(TierTable, len(t)+len(overrides))
	for k, v := range t {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
