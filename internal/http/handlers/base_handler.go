// README: Base handler utilities (JSON helpers, error mapping, response views).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/location"
	"ecoshare/internal/modules/offer"
	"ecoshare/internal/modules/ride"
	"ecoshare/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDispatchError maps module errors to status codes. Unknown errors are
// attached to the context for the access log and hidden from the client.
func writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, location.ErrInvalidPosition):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, driver.ErrNotFound), errors.Is(err, ride.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrConflict):
		writeError(c, http.StatusConflict, "ride already taken")
	case errors.Is(err, offer.ErrNoOffer), errors.Is(err, offer.ErrNoRide), errors.Is(err, ride.ErrInvalidState):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, offer.ErrSessionClosed):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type rideView struct {
	ID          types.ID    `json:"id"`
	Pickup      types.Point `json:"pickup"`
	Destination types.Point `json:"destination"`
	RideType    string      `json:"ride_type"`
	Fare        float64     `json:"fare"`
	Status      ride.Status `json:"status"`
	CustomerID  types.ID    `json:"customer_id,omitempty"`
	DriverID    *types.ID   `json:"driver_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

type customerView struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Number    string `json:"number"`
	Photo     string `json:"photo"`
}

type offerView struct {
	Ride               rideView     `json:"ride"`
	Customer           customerView `json:"customer"`
	DistanceKm         float64      `json:"distance_km"`
	ETAMinutes         int          `json:"eta_minutes"`
	PickupAddress      string       `json:"pickup_address"`
	DestinationAddress string       `json:"destination_address"`
	Deadline           *time.Time   `json:"deadline,omitempty"`
}

type snapshotView struct {
	DriverID       types.ID    `json:"driver_id"`
	State          offer.State `json:"state"`
	Online         bool        `json:"online"`
	VehicleType    string      `json:"vehicle_type"`
	RideInProgress bool        `json:"ride_in_progress"`
	CooldownUntil  *time.Time  `json:"cooldown_until,omitempty"`
	Offer          *offerView  `json:"offer,omitempty"`
	CurrentRide    *rideView   `json:"current_ride,omitempty"`
}

func toRideView(r ride.Request) rideView {
	return rideView{
		ID:          r.ID,
		Pickup:      r.Pickup,
		Destination: r.Destination,
		RideType:    r.RideType,
		Fare:        r.Fare,
		Status:      r.Status,
		CustomerID:  r.CustomerID,
		DriverID:    r.DriverID,
		CreatedAt:   r.CreatedAt,
	}
}

func toSnapshotView(s offer.Snapshot) snapshotView {
	v := snapshotView{
		DriverID:       s.DriverID,
		State:          s.State,
		Online:         s.Online,
		VehicleType:    s.VehicleType,
		RideInProgress: s.RideInProgress,
		CooldownUntil:  s.CooldownUntil,
	}
	if o := s.Offer; o != nil {
		ov := offerView{
			Ride:               toRideView(o.Ride),
			Customer:           customerView(o.Customer),
			DistanceKm:         o.DistanceKm,
			ETAMinutes:         o.ETAMinutes,
			PickupAddress:      o.PickupAddress,
			DestinationAddress: o.DestinationAddress,
		}
		if !o.Deadline.IsZero() {
			d := o.Deadline
			ov.Deadline = &d
		}
		v.Offer = &ov
	}
	if s.CurrentRide != nil {
		rv := toRideView(*s.CurrentRide)
		v.CurrentRide = &rv
	}
	return v
}
