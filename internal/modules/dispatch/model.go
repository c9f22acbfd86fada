// README: Dispatch candidates and scoring configuration.
package dispatch

import (
	"time"

	"ecoshare/internal/config"
	"ecoshare/internal/modules/driver"
	"ecoshare/internal/types"
)

// Candidate is the part of a driver record the selector looks at.
type Candidate struct {
	ID           types.ID
	Location     *types.Point
	RideCount    int
	LastRideTime *time.Time
	IsOnline     bool
}

func FromDriver(d driver.Driver) Candidate {
	return Candidate{
		ID:           d.ID,
		Location:     d.Location,
		RideCount:    d.RideCount,
		LastRideTime: d.LastRideTime,
		IsOnline:     d.IsOnline,
	}
}

func FromDrivers(ds []driver.Driver) []Candidate {
	out := make([]Candidate, len(ds))
	for i, d := range ds {
		out[i] = FromDriver(d)
	}
	return out
}

// ScoreConfig bounds the fairness adjustment. A driver's score is its pickup
// distance in km plus at most FairnessWindowKm, so fairness can only reorder
// drivers whose distances are within that window of each other.
type ScoreConfig struct {
	FairnessWindowKm float64
	// RideSaturation is the ride count at which the ride factor reaches 1/2.
	RideSaturation float64
	// IdleScale is the idle time at which the recency factor reaches 1/2.
	IdleScale time.Duration
}

const (
	defaultRideSaturation = 10
	defaultIdleScale      = 30 * time.Minute
)

func DefaultScoreConfig() ScoreConfig {
	return ScoreConfigFrom(config.DefaultDispatch())
}

func ScoreConfigFrom(cfg config.DispatchConfig) ScoreConfig {
	return ScoreConfig{
		FairnessWindowKm: cfg.FairnessWindowKm,
		RideSaturation:   defaultRideSaturation,
		IdleScale:        defaultIdleScale,
	}
}
