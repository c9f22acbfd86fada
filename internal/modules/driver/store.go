// README: Driver store contract and its Cloud Firestore implementation (Drivers collection).
package driver

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ecoshare/internal/types"
)

const Collection = "Drivers"

type Store interface {
	Get(ctx context.Context, id types.ID) (*Driver, error)
	// ListOnline returns every driver with isOnline = true.
	ListOnline(ctx context.Context) ([]Driver, error)
	UpdatePosition(ctx context.Context, id types.ID, p types.Point, at time.Time) error
	SetOnline(ctx context.Context, id types.ID, online bool, at time.Time) error
	SetVehicleType(ctx context.Context, id types.ID, vehicleType string) error
	// DemoteIfStale flips isOnline to false when the driver is online and its
	// last position is older than staleBefore. It reports whether it wrote.
	DemoteIfStale(ctx context.Context, id types.ID, staleBefore, at time.Time) (bool, error)
	// RecordRide atomically increments rideCount and stamps lastRideTime.
	RecordRide(ctx context.Context, id types.ID, at time.Time) error
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
	return s.fs.Collection(Collection).Doc(string(id))
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	snap, err := s.ref(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get driver %s: %w", id, err)
	}
	return decode(snap)
}

func (s *FirestoreStore) ListOnline(ctx context.Context) ([]Driver, error) {
	docs, err := s.fs.Collection(Collection).Where("isOnline", "==", true).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list online drivers: %w", err)
	}
	out := make([]Driver, 0, len(docs))
	for _, doc := range docs {
		out = appendDecoded(out, s.log, types.ID(doc.Ref.ID), doc.Data())
	}
	return out, nil
}

// appendDecoded appends the decoded driver to out. A record that does not
// decode is logged and left out; it must not take the candidate pool down.
func appendDecoded(out []Driver, log *zap.Logger, id types.ID, data map[string]interface{}) []Driver {
	d, err := fromData(id, data)
	if err != nil {
		log.Warn("skip undecodable driver", zap.String("driver_id", string(id)), zap.Error(err))
		return out
	}
	return append(out, *d)
}

func (s *FirestoreStore) UpdatePosition(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	return s.update(ctx, id, []firestore.Update{
		{Path: "latitude", Value: p.Lat},
		{Path: "longitude", Value: p.Lng},
		{Path: "lastLocationUpdate", Value: at},
	})
}

func (s *FirestoreStore) SetOnline(ctx context.Context, id types.ID, online bool, at time.Time) error {
	return s.update(ctx, id, []firestore.Update{
		{Path: "isOnline", Value: online},
		{Path: "lastOnlineUpdate", Value: at},
	})
}

func (s *FirestoreStore) SetVehicleType(ctx context.Context, id types.ID, vehicleType string) error {
	return s.update(ctx, id, []firestore.Update{{Path: "driverType", Value: vehicleType}})
}

func (s *FirestoreStore) DemoteIfStale(ctx context.Context, id types.ID, staleBefore, at time.Time) (bool, error) {
	ref := s.ref(id)
	var demoted bool
	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		demoted = false
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		d, err := decode(snap)
		if err != nil {
			return err
		}
		if !d.IsOnline || !d.LastLocationUpdate.Before(staleBefore) {
			return nil
		}
		demoted = true
		return tx.Update(ref, []firestore.Update{
			{Path: "isOnline", Value: false},
			{Path: "lastOnlineUpdate", Value: at},
		})
	})
	if err != nil {
		return false, fmt.Errorf("demote driver %s: %w", id, err)
	}
	return demoted, nil
}

func (s *FirestoreStore) RecordRide(ctx context.Context, id types.ID, at time.Time) error {
	return s.update(ctx, id, []firestore.Update{
		{Path: "rideCount", Value: firestore.Increment(1)},
		{Path: "lastRideTime", Value: at},
	})
}

func (s *FirestoreStore) update(ctx context.Context, id types.ID, updates []firestore.Update) error {
	_, err := s.ref(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update driver %s: %w", id, err)
	}
	return nil
}

func decode(snap *firestore.DocumentSnapshot) (*Driver, error) {
	d, err := fromData(types.ID(snap.Ref.ID), snap.Data())
	if err != nil {
		return nil, fmt.Errorf("decode driver %s: %w", snap.Ref.ID, err)
	}
	return d, nil
}

// fromData maps a Drivers document onto a Driver. Older app builds wrote
// lastLocationUpdate, lastOnlineUpdate and lastRideTime as ISO-8601 strings,
// so both timestamps and strings are accepted.
func fromData(id types.ID, data map[string]interface{}) (*Driver, error) {
	d := &Driver{
		ID:          id,
		FirstName:   stringField(data, "firstName"),
		LastName:    stringField(data, "lastName"),
		Photo:       stringField(data, "photo"),
		Phone:       stringField(data, "phoneNumber"),
		VehicleType: stringField(data, "driverType"),
		FCMToken:    stringField(data, "fcmToken"),
	}
	d.IsOnline, _ = data["isOnline"].(bool)

	var err error
	if d.LastLocationUpdate, err = timeField(data, "lastLocationUpdate"); err != nil {
		return nil, err
	}
	if d.LastOnlineUpdate, err = timeField(data, "lastOnlineUpdate"); err != nil {
		return nil, err
	}
	last, err := timeField(data, "lastRideTime")
	if err != nil {
		return nil, err
	}
	if !last.IsZero() {
		d.LastRideTime = &last
	}
	count, _, err := numberField(data, "rideCount")
	if err != nil {
		return nil, err
	}
	d.RideCount = int(count)

	lat, hasLat, err := numberField(data, "latitude")
	if err != nil {
		return nil, err
	}
	lng, hasLng, err := numberField(data, "longitude")
	if err != nil {
		return nil, err
	}
	if hasLat && hasLng {
		d.Location = &types.Point{Lat: lat, Lng: lng}
	}
	return d, nil
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}

func timeField(data map[string]interface{}, key string) (time.Time, error) {
	switch v := data[key].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %s: %w", key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("field %s: unexpected type %T", key, v)
	}
}

func numberField(data map[string]interface{}, key string) (float64, bool, error) {
	switch v := data[key].(type) {
	case nil:
		return 0, false, nil
	case int64:
		return float64(v), true, nil
	case float64:
		return v, true, nil
	default:
		return 0, false, fmt.Errorf("field %s: unexpected type %T", key, v)
	}
}
