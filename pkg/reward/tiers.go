package reward

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tier is one bonus level. A post qualifies for a tier when its view
// count and the author's follower count both meet the thresholds.
type Tier struct {
	MinViews     int
	MinFollowers int
	Credits      int
}

// DefaultTiers returns the standard bonus ladder, lowest first.
func DefaultTiers() []Tier {
	return []Tier{
		{MinViews: 20, MinFollowers: 10, Credits: 5},
		{MinViews: 50, MinFollowers: 25, Credits: 10},
		{MinViews: 100, MinFollowers: 50, Credits: 15},
		{MinViews: 200, MinFollowers: 100, Credits: 25},
		{MinViews: 500, MinFollowers: 200, Credits: 35},
		{MinViews: 1000, MinFollowers: 500, Credits: 50},
		{MinViews: 5000, MinFollowers: 1000, Credits: 80},
		{MinViews: 10000, MinFollowers: 1000, Credits: 120},
	}
}

// ParseTiers parses a "views:followers:credits,..." specification.
func ParseTiers(spec string) ([]Tier, error) {
	var tiers []Tier
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid tier %q: want views:followers:credits", part)
		}

		views, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid tier views in %q: %w", part, err)
		}
		followers, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid tier followers in %q: %w", part, err)
		}
		credits, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid tier credits in %q: %w", part, err)
		}

		if views < 0 || followers < 0 || credits <= 0 {
			return nil, fmt.Errorf("invalid tier %q: thresholds must be non-negative and credits positive", part)
		}

		tiers = append(tiers, Tier{MinViews: views, MinFollowers: followers, Credits: credits})
	}

	if len(tiers) == 0 {
		return nil, fmt.Errorf("tier specification %q yields no tiers", spec)
	}
	return tiers, nil
}

// SelectTier returns the highest-paying tier both thresholds satisfy, and
// whether any tier matched.
func SelectTier(tiers []Tier, views, followers int) (Tier, bool) {
	var best Tier
	found := false
	for _, tier := range tiers {
		if views >= tier.MinViews && followers >= tier.MinFollowers {
			if !found || tier.Credits > best.Credits {
				best = tier
				found = true
			}
		}
	}
	return best, found
}

// ApplyMultiplier scales credits and truncates toward zero.
func ApplyMultiplier(credits int, multiplier float64) int {
	return int(math.Floor(float64(credits) * multiplier))
}
