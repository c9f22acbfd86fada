// README: Driver record as seen by dispatch, presence and the offer flow.
package driver

import (
	"errors"
	"time"

	"ecoshare/internal/modules/ride"
	"ecoshare/internal/types"
)

var ErrNotFound = errors.New("driver not found")

const defaultFirstName = "Driver"

// Driver mirrors a document of the Drivers collection. Location is nil until
// the first position report.
type Driver struct {
	ID                 types.ID
	Location           *types.Point
	RideCount          int
	LastRideTime       *time.Time
	IsOnline           bool
	LastLocationUpdate time.Time
	LastOnlineUpdate   time.Time
	FirstName          string
	LastName           string
	Photo              string
	Phone              string
	VehicleType        string
	FCMToken           string
}

func (d Driver) DisplayName() string {
	if d.FirstName == "" {
		return defaultFirstName
	}
	return d.FirstName
}

// Acceptance is the identity written onto a ride when this driver takes it.
func (d Driver) Acceptance() ride.Acceptance {
	return ride.Acceptance{
		DriverID:    d.ID,
		DriverName:  d.DisplayName(),
		DriverPhoto: d.Photo,
		DriverPhone: d.Phone,
	}
}

// IsStale reports an online driver whose last position is older than maxAge.
// A driver that never reported is stale once online.
func (d Driver) IsStale(now time.Time, maxAge time.Duration) bool {
	if !d.IsOnline {
		return false
	}
	if d.LastLocationUpdate.IsZero() {
		return true
	}
	return now.Sub(d.LastLocationUpdate) > maxAge
}
