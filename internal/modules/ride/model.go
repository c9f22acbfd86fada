// README: Ride request aggregate, status table and the write rules every store applies.
package ride

import (
	"errors"
	"sort"
	"time"

	"ecoshare/internal/types"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusAssigned  Status = "assigned"
	StatusDeclined  Status = "declined"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound     = errors.New("ride request not found")
	ErrConflict     = errors.New("ride request state conflict")
	ErrInvalidState = errors.New("invalid ride state transition")
)

// Request mirrors a document of the rideRequests collection.
type Request struct {
	ID              types.ID
	Pickup          types.Point
	Destination     types.Point
	RideType        string
	Fare            float64
	Status          Status
	AssignedDriver  *types.ID
	DeclinedDrivers types.IDSet
	// CustomerID falls back to the legacy userId field when customerId is absent.
	CustomerID types.ID
	// DriverID is set only by an accept, together with Status = assigned.
	DriverID  *types.ID
	CreatedAt time.Time
}

// Clone returns a deep copy safe to hand across goroutines.
func (r Request) Clone() Request {
	out := r
	if r.AssignedDriver != nil {
		v := *r.AssignedDriver
		out.AssignedDriver = &v
	}
	if r.DriverID != nil {
		v := *r.DriverID
		out.DriverID = &v
	}
	if r.DeclinedDrivers != nil {
		out.DeclinedDrivers = append(types.IDSet(nil), r.DeclinedDrivers...)
	}
	return out
}

func (r Request) IsAssignedTo(id types.ID) bool {
	return r.AssignedDriver != nil && *r.AssignedDriver == id
}

// AllowedTransitions represents the ride request lifecycle as code.
var AllowedTransitions = map[Status][]Status{
	StatusWaiting:  {StatusAssigned, StatusDeclined, StatusCancelled},
	StatusDeclined: {StatusWaiting, StatusCancelled},
	StatusAssigned: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Acceptance carries the driver identity written onto a ride on accept.
type Acceptance struct {
	DriverID    types.ID
	DriverName  string
	DriverPhoto string
	DriverPhone string
}

// CheckAssign reports whether offering r to driverID would change it. Only
// waiting requests are assignable and declined drivers are never re-offered.
func CheckAssign(r *Request, driverID types.ID) bool {
	if r.Status != StatusWaiting || driverID == "" {
		return false
	}
	if r.DeclinedDrivers.Contains(driverID) {
		return false
	}
	return !r.IsAssignedTo(driverID)
}

// CheckReset reports whether the candidate pool of r may be cleared.
func CheckReset(r *Request) bool {
	return r.Status == StatusWaiting
}

// CheckDecline reports whether driverID declining r has any effect.
func CheckDecline(r *Request, driverID types.ID) bool {
	if r.Status != StatusWaiting {
		return false
	}
	return !r.DeclinedDrivers.Contains(driverID) || r.IsAssignedTo(driverID)
}

// CheckAccept validates that driverID may take r. Anything but a waiting
// request that is unassigned or assigned to this driver is a conflict.
func CheckAccept(r *Request, driverID types.ID) error {
	if driverID == "" {
		return ErrInvalidState
	}
	if !CanTransition(r.Status, StatusAssigned) {
		return ErrConflict
	}
	if r.AssignedDriver != nil && *r.AssignedDriver != driverID {
		return ErrConflict
	}
	if r.DeclinedDrivers.Contains(driverID) {
		return ErrConflict
	}
	return nil
}

// ApplyAssign, ApplyReset, ApplyDecline and ApplyAccept mutate an in-memory
// copy exactly the way the Firestore store's field updates do.

func ApplyAssign(r *Request, driverID types.ID) {
	id := driverID
	r.AssignedDriver = &id
	r.Status = StatusWaiting
}

func ApplyReset(r *Request) {
	r.AssignedDriver = nil
	r.DeclinedDrivers = types.IDSet{}
	r.Status = StatusWaiting
}

func ApplyDecline(r *Request, driverID types.ID) {
	r.DeclinedDrivers = r.DeclinedDrivers.With(driverID)
	if r.IsAssignedTo(driverID) {
		r.AssignedDriver = nil
	}
}

func ApplyAccept(r *Request, a Acceptance) {
	id := a.DriverID
	r.Status = StatusAssigned
	r.DriverID = &id
	assigned := id
	r.AssignedDriver = &assigned
}

// SortForOffer orders a live-query result so every client picks the same
// "first" request: oldest first, then by id.
func SortForOffer(rides []Request) {
	sort.SliceStable(rides, func(i, j int) bool {
		if !rides[i].CreatedAt.Equal(rides[j].CreatedAt) {
			return rides[i].CreatedAt.Before(rides[j].CreatedAt)
		}
		return rides[i].ID < rides[j].ID
	})
}

// Contact is the customer metadata shown with an offer.
type Contact struct {
	FirstName string
	LastName  string
	Number    string
	Photo     string
}

// WithDefaults fills the display defaults used when the customer record is
// missing or partial.
func (c Contact) WithDefaults() Contact {
	if c.FirstName == "" {
		c.FirstName = "Customer"
	}
	return c
}
