// README: Record-store contracts consumed by dispatch, offer and the trigger.
package ride

import (
	"context"

	"ecoshare/internal/types"
)

// Store is the record-store contract for the rideRequests collection.
type Store interface {
	Get(ctx context.Context, id types.ID) (*Request, error)
	// WatchWaiting pushes the full set of waiting requests of rideType,
	// ordered by SortForOffer, on every change.
	WatchWaiting(ctx context.Context, rideType string, fn func([]Request)) (Subscription, error)
	// Assign offers a waiting request to driverID; false when nothing changed.
	Assign(ctx context.Context, id, driverID types.ID) (bool, error)
	// ResetPool clears assignedDriver and declinedDrivers of a waiting request.
	ResetPool(ctx context.Context, id types.ID) (bool, error)
	// Decline appends driverID to declinedDrivers and releases its assignment.
	Decline(ctx context.Context, id, driverID types.ID) error
	// Accept atomically moves a waiting request to assigned for a.DriverID.
	Accept(ctx context.Context, id types.ID, a Acceptance) (*Request, error)
}

// ChangeFeed delivers (before, after) pairs for every observed write to a
// waiting request. after is nil when the request left the waiting set.
type ChangeFeed interface {
	WatchChanges(ctx context.Context, fn func(before, after *Request)) (Subscription, error)
}

// ContactStore resolves customer metadata for a ride request.
type ContactStore interface {
	LookupContact(ctx context.Context, rideID types.ID) (Contact, error)
}
