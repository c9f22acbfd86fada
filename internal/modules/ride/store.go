// README: Ride request store backed by Cloud Firestore (rideRequests, rideRequestsDriver).
package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ecoshare/internal/types"
)

const (
	CollectionRides    = "rideRequests"
	CollectionContacts = "rideRequestsDriver"
)

// rideDoc is the document shape written by the rider-facing app.
type rideDoc struct {
	PickupLat       float64   `firestore:"pickupLat"`
	PickupLng       float64   `firestore:"pickupLng"`
	DestinationLat  float64   `firestore:"destinationLat"`
	DestinationLng  float64   `firestore:"destinationLng"`
	RideType        string    `firestore:"rideType"`
	Fare            float64   `firestore:"fare"`
	Status          string    `firestore:"status"`
	AssignedDriver  *string   `firestore:"assignedDriver"`
	DeclinedDrivers []string  `firestore:"declinedDrivers"`
	CustomerID      string    `firestore:"customerId"`
	UserID          string    `firestore:"userId"`
	DriverID        *string   `firestore:"driverId"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

type contactDoc struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Number    string `firestore:"number"`
	Photo     string `firestore:"photo"`
}

type FirestoreStore struct {
	fs  *firestore.Client
	log *zap.Logger
}

func NewFirestoreStore(fs *firestore.Client, log *zap.Logger) *FirestoreStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FirestoreStore{fs: fs, log: log}
}

func (s *FirestoreStore) ref(id types.ID) *firestore.DocumentRef {
	return s.fs.Collection(CollectionRides).Doc(string(id))
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	snap, err := s.ref(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ride %s: %w", id, err)
	}
	return decode(snap)
}

func (s *FirestoreStore) Assign(ctx context.Context, id, driverID types.ID) (bool, error) {
	var changed bool
	err := s.inTx(ctx, id, func(r *Request) ([]firestore.Update, error) {
		changed = CheckAssign(r, driverID)
		if !changed {
			return nil, nil
		}
		return []firestore.Update{
			{Path: "assignedDriver", Value: string(driverID)},
			{Path: "status", Value: string(StatusWaiting)},
		}, nil
	})
	return changed, err
}

func (s *FirestoreStore) ResetPool(ctx context.Context, id types.ID) (bool, error) {
	var changed bool
	err := s.inTx(ctx, id, func(r *Request) ([]firestore.Update, error) {
		changed = CheckReset(r)
		if !changed {
			return nil, nil
		}
		// resetAt makes every reset a real write so the trigger fires again.
		return []firestore.Update{
			{Path: "assignedDriver", Value: nil},
			{Path: "declinedDrivers", Value: []string{}},
			{Path: "status", Value: string(StatusWaiting)},
			{Path: "resetAt", Value: firestore.ServerTimestamp},
		}, nil
	})
	return changed, err
}

func (s *FirestoreStore) Decline(ctx context.Context, id, driverID types.ID) error {
	return s.inTx(ctx, id, func(r *Request) ([]firestore.Update, error) {
		if !CheckDecline(r, driverID) {
			return nil, nil
		}
		updates := []firestore.Update{
			{Path: "declinedDrivers", Value: firestore.ArrayUnion(string(driverID))},
		}
		if r.IsAssignedTo(driverID) {
			updates = append(updates, firestore.Update{Path: "assignedDriver", Value: nil})
		}
		return updates, nil
	})
}

func (s *FirestoreStore) Accept(ctx context.Context, id types.ID, a Acceptance) (*Request, error) {
	var accepted *Request
	err := s.inTx(ctx, id, func(r *Request) ([]firestore.Update, error) {
		if err := CheckAccept(r, a.DriverID); err != nil {
			return nil, err
		}
		ApplyAccept(r, a)
		accepted = r
		return []firestore.Update{
			{Path: "status", Value: string(StatusAssigned)},
			{Path: "driverId", Value: string(a.DriverID)},
			{Path: "assignedDriver", Value: string(a.DriverID)},
			{Path: "driverName", Value: a.DriverName},
			{Path: "driverPhoto", Value: a.DriverPhoto},
			{Path: "driverPhone", Value: a.DriverPhone},
			{Path: "acceptedAt", Value: firestore.ServerTimestamp},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// inTx runs a read-modify-write of one ride document in a transaction. fn may
// run several times when Firestore retries on contention.
func (s *FirestoreStore) inTx(ctx context.Context, id types.ID, fn func(r *Request) ([]firestore.Update, error)) error {
	ref := s.ref(id)
	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read ride %s: %w", id, err)
		}
		r, err := decode(snap)
		if err != nil {
			return err
		}
		updates, err := fn(r)
		if err != nil || len(updates) == 0 {
			return err
		}
		return tx.Update(ref, updates)
	})
}

func (s *FirestoreStore) WatchWaiting(ctx context.Context, rideType string, fn func([]Request)) (Subscription, error) {
	q := s.fs.Collection(CollectionRides).
		Where("status", "==", string(StatusWaiting)).
		Where("rideType", "==", rideType)

	return s.watch(ctx, q, func(qs *firestore.QuerySnapshot) {
		docs, err := qs.Documents.GetAll()
		if err != nil {
			s.log.Warn("read waiting rides snapshot", zap.Error(err))
			return
		}
		rides := make([]Request, 0, len(docs))
		for _, doc := range docs {
			r, err := decode(doc)
			if err != nil {
				s.log.Warn("skip undecodable ride", zap.String("ride_id", doc.Ref.ID), zap.Error(err))
				continue
			}
			rides = append(rides, *r)
		}
		SortForOffer(rides)
		fn(rides)
	})
}

func (s *FirestoreStore) WatchChanges(ctx context.Context, fn func(before, after *Request)) (Subscription, error) {
	q := s.fs.Collection(CollectionRides).Where("status", "==", string(StatusWaiting))
	seen := make(map[types.ID]*Request)

	return s.watch(ctx, q, func(qs *firestore.QuerySnapshot) {
		for _, ch := range qs.Changes {
			id := types.ID(ch.Doc.Ref.ID)
			before := seen[id]
			if ch.Kind == firestore.DocumentRemoved {
				delete(seen, id)
				fn(before, nil)
				continue
			}
			after, err := decode(ch.Doc)
			if err != nil {
				s.log.Warn("skip undecodable ride change", zap.String("ride_id", string(id)), zap.Error(err))
				continue
			}
			seen[id] = after
			cp := after.Clone()
			fn(before, &cp)
		}
	})
}

// watch pumps snapshots of q into onSnap until the returned handle is stopped
// or ctx ends. The iterator is only touched from the pump goroutine.
func (s *FirestoreStore) watch(ctx context.Context, q firestore.Query, onSnap func(*firestore.QuerySnapshot)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := q.Snapshots(ctx)
	h := NewHandle(cancel)

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if h.Active() && !errors.Is(err, iterator.Done) && status.Code(err) != codes.Canceled {
					s.log.Warn("ride live query ended", zap.Error(err))
				}
				return
			}
			if !h.Active() {
				return
			}
			onSnap(qs)
		}
	}()
	return h, nil
}

func (s *FirestoreStore) LookupContact(ctx context.Context, rideID types.ID) (Contact, error) {
	docs, err := s.fs.Collection(CollectionContacts).
		Where("rideRequestId", "==", string(rideID)).
		Limit(1).
		Documents(ctx).
		GetAll()
	if err != nil {
		return Contact{}, fmt.Errorf("lookup contact for ride %s: %w", rideID, err)
	}
	if len(docs) == 0 {
		return Contact{}, ErrNotFound
	}
	var c contactDoc
	if err := docs[0].DataTo(&c); err != nil {
		return Contact{}, fmt.Errorf("decode contact for ride %s: %w", rideID, err)
	}
	return Contact{FirstName: c.FirstName, LastName: c.LastName, Number: c.Number, Photo: c.Photo}, nil
}

func decode(snap *firestore.DocumentSnapshot) (*Request, error) {
	var d rideDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode ride %s: %w", snap.Ref.ID, err)
	}
	r := &Request{
		ID:          types.ID(snap.Ref.ID),
		Pickup:      types.Point{Lat: d.PickupLat, Lng: d.PickupLng},
		Destination: types.Point{Lat: d.DestinationLat, Lng: d.DestinationLng},
		RideType:    d.RideType,
		Fare:        d.Fare,
		Status:      Status(d.Status),
		CustomerID:  types.ID(d.CustomerID),
		CreatedAt:   d.CreatedAt,
	}
	if r.CustomerID == "" {
		r.CustomerID = types.ID(d.UserID)
	}
	if d.AssignedDriver != nil && *d.AssignedDriver != "" {
		v := types.ID(*d.AssignedDriver)
		r.AssignedDriver = &v
	}
	if d.DriverID != nil && *d.DriverID != "" {
		v := types.ID(*d.DriverID)
		r.DriverID = &v
	}
	r.DeclinedDrivers = make(types.IDSet, 0, len(d.DeclinedDrivers))
	for _, id := range d.DeclinedDrivers {
		r.DeclinedDrivers = append(r.DeclinedDrivers, types.ID(id))
	}
	return r, nil
}
