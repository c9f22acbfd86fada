// README: Dispatch audit events and the sink contract shared by trigger, sessions and presence.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ecoshare/internal/types"
)

type Kind string

const (
	KindAssigned      Kind = "assigned"
	KindPoolReset     Kind = "pool_reset"
	KindOfferShown    Kind = "offer_shown"
	KindOfferAccepted Kind = "offer_accepted"
	KindOfferDeclined Kind = "offer_declined"
	KindOfferExpired  Kind = "offer_expired"
	KindOfferConflict Kind = "offer_conflict"
	KindDriverDemoted Kind = "driver_demoted"
)

type Event struct {
	ID       uuid.UUID         `json:"id"`
	Kind     Kind              `json:"kind"`
	RideID   types.ID          `json:"ride_id,omitempty"`
	DriverID *types.ID         `json:"driver_id,omitempty"`
	Detail   map[string]string `json:"detail,omitempty"`
	At       time.Time         `json:"at"`
}

func New(kind Kind, rideID types.ID, driverID types.ID, at time.Time) Event {
	e := Event{ID: uuid.New(), Kind: kind, RideID: rideID, At: at.UTC()}
	if driverID != "" {
		id := driverID
		e.DriverID = &id
	}
	return e
}

// With returns e with one detail entry added.
func (e Event) With(key, value string) Event {
	detail := make(map[string]string, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	e.Detail = detail
	return e
}

// Sink receives audit events. Publishing is best-effort for every caller:
// a failed publish is logged, never propagated into dispatch decisions.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// History reads a ride's recorded events back, oldest first.
type History interface {
	ListByRide(ctx context.Context, rideID types.ID) ([]Event, error)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }

// Nop discards every event.
func Nop() Sink { return nopSink{} }

type multiSink []Sink

// Multi fans an event out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
