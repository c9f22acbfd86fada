// README: Offer session states, the enriched offer and the session snapshot.
package offer

import (
	"errors"
	"time"

	"ecoshare/internal/modules/ride"
	"ecoshare/internal/types"
)

type State string

const (
	StateIdle         State = "idle"
	StateSubscribed   State = "subscribed"
	StateOfferPending State = "offer_pending"
	StateOfferReady   State = "offer_ready"
	StateRideAccepted State = "ride_accepted"
)

var (
	ErrNoOffer       = errors.New("no offer to act on")
	ErrNoRide        = errors.New("no ride in progress")
	ErrSessionClosed = errors.New("session closed")
)

// Offer is a ride request shown to this driver plus display data.
type Offer struct {
	Ride               ride.Request
	Customer           ride.Contact
	DistanceKm         float64
	ETAMinutes         int
	PickupAddress      string
	DestinationAddress string
	// Deadline is zero while the offer is still being enriched.
	Deadline time.Time
}

// Snapshot is a point-in-time copy of a session for API responses.
type Snapshot struct {
	DriverID       types.ID
	State          State
	Online         bool
	VehicleType    string
	RideInProgress bool
	CooldownUntil  *time.Time
	Offer          *Offer
	CurrentRide    *ride.Request
}

// subscribed reports states that hold a live query.
func (s State) subscribed() bool {
	return s == StateSubscribed || s == StateOfferPending || s == StateOfferReady
}
