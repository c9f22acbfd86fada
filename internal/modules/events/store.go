// README: Postgres-backed dispatch event log (dispatch_events).
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ecoshare/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Publish(ctx context.Context, e Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encode event detail: %w", err)
	}
	if e.Detail == nil {
		detail = []byte("{}")
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO dispatch_events (id, kind, ride_id, driver_id, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING`,
		e.ID,
		string(e.Kind),
		string(e.RideID),
		toStringPtr(e.DriverID),
		detail,
		e.At,
	)
	return err
}

// ListByRide returns the events of one ride, oldest first.
func (s *Store) ListByRide(ctx context.Context, rideID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, kind, ride_id, driver_id, detail, created_at
        FROM dispatch_events
        WHERE ride_id = $1
        ORDER BY created_at, id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e        Event
			kind     string
			ride     string
			driverID *string
			detail   []byte
		)
		if err := rows.Scan(&e.ID, &kind, &ride, &driverID, &detail, &e.At); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.RideID = types.ID(ride)
		if driverID != nil {
			id := types.ID(*driverID)
			e.DriverID = &id
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode event detail: %w", err)
			}
			if len(e.Detail) == 0 {
				e.Detail = nil
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
