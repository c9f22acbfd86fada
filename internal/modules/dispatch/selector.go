// README: Pure candidate scoring and deterministic selection.
package dispatch

import (
	"math"
	"time"

	"ecoshare/internal/geo"
	"ecoshare/internal/modules/ride"
	"ecoshare/internal/types"
)

// Score ranks c for r; lower is better. Recency is measured against
// r.CreatedAt so the result depends only on its inputs.
func Score(c Candidate, r ride.Request, cfg ScoreConfig) float64 {
	if c.Location == nil {
		return math.Inf(1)
	}
	return geo.DistanceKm(*c.Location, r.Pickup) + cfg.FairnessWindowKm*fairnessPenalty(c, r.CreatedAt, cfg)
}

// fairnessPenalty is in [0, 1). It grows with lifetime rides and with how
// recently the driver finished a ride; a driver who never rode scores 0 on
// recency.
func fairnessPenalty(c Candidate, ref time.Time, cfg ScoreConfig) float64 {
	rides := 0.0
	if c.RideCount > 0 && cfg.RideSaturation > 0 {
		n := float64(c.RideCount)
		rides = n / (n + cfg.RideSaturation)
	}

	recency := 0.0
	if c.LastRideTime != nil {
		idle := ref.Sub(*c.LastRideTime)
		if idle < 0 {
			idle = 0
		}
		scale := cfg.IdleScale
		if scale <= 0 {
			scale = defaultIdleScale
		}
		recency = 1 / (1 + idle.Seconds()/scale.Seconds())
	}
	return (rides + recency) / 2
}

// Eligible reports whether c may be offered r.
func Eligible(c Candidate, r ride.Request) bool {
	return c.IsOnline && c.Location != nil && !r.DeclinedDrivers.Contains(c.ID)
}

// Select returns the best eligible candidate for r, or false when the pool is
// empty. Equal scores resolve to the lexicographically smallest id, so every
// caller with the same inputs gets the same winner.
func Select(r ride.Request, drivers []Candidate, cfg ScoreConfig) (types.ID, bool) {
	eligible := make([]Candidate, 0, len(drivers))
	for _, c := range drivers {
		if Eligible(c, r) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}

	r.CreatedAt = referenceTime(r.CreatedAt, eligible)

	var (
		best      types.ID
		bestScore float64
	)
	for i, c := range eligible {
		s := Score(c, r, cfg)
		if i == 0 || s < bestScore || (s == bestScore && c.ID < best) {
			best, bestScore = c.ID, s
		}
	}
	return best, true
}

// referenceTime keeps every idle duration non-negative: a ride created before
// some candidate's last ride is measured from that later ride instead.
func referenceTime(created time.Time, cands []Candidate) time.Time {
	ref := created
	for _, c := range cands {
		if c.LastRideTime != nil && c.LastRideTime.After(ref) {
			ref = *c.LastRideTime
		}
	}
	return ref
}
